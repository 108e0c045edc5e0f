// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peerstore persists the addresses of known peers, so a restarted
// node can re-register and re-connect its overlay without rediscovery.
package peerstore

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/yhzhang0128/salticidae/netaddr"
	"github.com/yhzhang0128/salticidae/peernet"
)

const dirBadger string = "db"

// PeerItem is the stored record of one known peer.
type PeerItem struct {
	Id       string `badgerhold:"key"`
	Addr     string
	LastSeen time.Time
}

// Store keeps PeerItems in a badgerhold database.
type Store struct {
	bh *badgerhold.Store
}

// NewStore creates a new Store or opens an existing one from the given
// path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{bh: bh}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Put stores or refreshes a peer's address.
func (s *Store) Put(pid peernet.PeerId, addr netaddr.NetAddr) error {
	item := PeerItem{
		Id:       pid.String(),
		Addr:     addr.String(),
		LastSeen: time.Now(),
	}
	return s.bh.Upsert(item.Id, item)
}

// Get looks a peer's address up.
func (s *Store) Get(pid peernet.PeerId) (addr netaddr.NetAddr, known bool, err error) {
	var item PeerItem
	if err = s.bh.Get(pid.String(), &item); err == badgerhold.ErrNotFound {
		return netaddr.NetAddr{}, false, nil
	} else if err != nil {
		return
	}

	addr, err = netaddr.NewNetAddrFromString(item.Addr)
	known = err == nil

	return
}

// Delete removes a peer.
func (s *Store) Delete(pid peernet.PeerId) error {
	return s.bh.Delete(pid.String(), PeerItem{})
}

// All returns every stored peer.
func (s *Store) All() (items []PeerItem, err error) {
	err = s.bh.Find(&items, nil)
	return
}
