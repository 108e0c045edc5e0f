// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"testing"

	"github.com/schollz/peerdiscovery"

	"github.com/yhzhang0128/salticidae/netaddr"
)

func TestNotifyParsesAnnouncement(t *testing.T) {
	own := netaddr.MustNewNetAddrFromString("127.0.0.1:9001")
	other := netaddr.MustNewNetAddrFromString("127.0.0.1:9002")

	found := make(chan netaddr.NetAddr, 1)
	manager := &Manager{
		ownAddr:   own,
		FoundFunc: func(addr netaddr.NetAddr) { found <- addr },
	}

	manager.notify(peerdiscovery.Discovered{Payload: other.Encode()})

	select {
	case addr := <-found:
		if addr != other {
			t.Fatalf("found %v, expected %v", addr, other)
		}
	default:
		t.Fatal("announcement was not reported")
	}
}

func TestNotifyIgnoresSelf(t *testing.T) {
	own := netaddr.MustNewNetAddrFromString("127.0.0.1:9001")

	manager := &Manager{
		ownAddr:   own,
		FoundFunc: func(addr netaddr.NetAddr) { t.Fatal("own announcement reported") },
	}

	manager.notify(peerdiscovery.Discovered{Payload: own.Encode()})
}

func TestNotifyIgnoresGarbage(t *testing.T) {
	manager := &Manager{
		FoundFunc: func(addr netaddr.NetAddr) { t.Fatal("garbage reported") },
	}

	manager.notify(peerdiscovery.Discovered{Payload: []byte{1, 2, 3}})
}
