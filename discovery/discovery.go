// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces a node's listen address on the local network
// through UDP multicast and reports addresses announced by others, so an
// embedder can register and connect discovered peers automatically.
package discovery

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"

	"github.com/yhzhang0128/salticidae/netaddr"
)

const (
	// multicastAddress4 is the IPv4 multicast group used for discovery.
	multicastAddress4 = "239.23.23.23"

	// port is the UDP port the announcements go to.
	port = 35943
)

// Manager publishes this node's announcement and forwards received ones.
type Manager struct {
	// ownAddr is announced and used to filter our own packets.
	ownAddr netaddr.NetAddr

	// FoundFunc is invoked, on the discovery goroutine, for every peer
	// address heard on the network, possibly repeatedly.
	FoundFunc func(addr netaddr.NetAddr)

	stopChan chan struct{}
}

// NewManager announces ownAddr every interval and reports discovered peers
// to foundFunc. It returns after the discovery loop started.
func NewManager(ownAddr netaddr.NetAddr, foundFunc func(netaddr.NetAddr), interval time.Duration) (*Manager, error) {
	manager := &Manager{
		ownAddr:   ownAddr,
		FoundFunc: foundFunc,
		stopChan:  make(chan struct{}),
	}

	log.WithFields(log.Fields{
		"addr":     ownAddr,
		"interval": interval,
	}).Info("Starting peer discovery")

	settings := peerdiscovery.Settings{
		Limit:            -1,
		Port:             fmt.Sprintf("%d", port),
		MulticastAddress: multicastAddress4,
		Payload:          ownAddr.Encode(),
		Delay:            interval,
		TimeLimit:        -1,
		StopChan:         manager.stopChan,
		AllowSelf:        true,
		IPVersion:        peerdiscovery.IPv4,
		Notify:           manager.notify,
	}

	discoverErrChan := make(chan error)
	go func() {
		_, discoverErr := peerdiscovery.Discover(settings)
		discoverErrChan <- discoverErr
	}()

	select {
	case discoverErr := <-discoverErrChan:
		if discoverErr != nil {
			return nil, discoverErr
		}

	case <-time.After(time.Second):
		break
	}

	return manager, nil
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	var addr netaddr.NetAddr
	if err := addr.Decode(discovered.Payload); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"peer": discovered.Address,
		}).Warn("Peer discovery failed to parse incoming package")
		return
	}

	if addr == manager.ownAddr {
		return
	}

	log.WithFields(log.Fields{
		"peer": addr,
		"from": discovered.Address,
	}).Debug("Peer discovery heard an announcement")

	if manager.FoundFunc != nil {
		manager.FoundFunc(addr)
	}
}

// Close this Manager.
func (manager *Manager) Close() {
	manager.stopChan <- struct{}{}
}
