// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peerstore

import (
	"testing"

	"github.com/yhzhang0128/salticidae/netaddr"
	"github.com/yhzhang0128/salticidae/peernet"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	addr := netaddr.MustNewNetAddrFromString("10.0.0.23:9001")
	pid := peernet.NewPeerIdFromAddr(addr)

	if _, known, err := store.Get(pid); err != nil || known {
		t.Fatalf("fresh store: known = %t, err = %v", known, err)
	}

	if err := store.Put(pid, addr); err != nil {
		t.Fatal(err)
	}

	got, known, err := store.Get(pid)
	if err != nil {
		t.Fatal(err)
	}
	if !known || got != addr {
		t.Fatalf("got %v/%t, expected %v", got, known, addr)
	}

	items, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("%d items stored", len(items))
	}

	if err := store.Delete(pid); err != nil {
		t.Fatal(err)
	}
	if _, known, _ := store.Get(pid); known {
		t.Fatal("peer still known after delete")
	}
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()

	addr := netaddr.MustNewNetAddrFromString("192.168.1.2:7000")
	pid := peernet.NewPeerIdFromAddr(addr)

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(pid, addr); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	got, known, err := store.Get(pid)
	if err != nil {
		t.Fatal(err)
	}
	if !known || got != addr {
		t.Fatalf("got %v/%t after reopen", got, known)
	}
}
