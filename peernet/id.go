// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peernet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/yhzhang0128/salticidae/netaddr"
)

// IdentityMode selects what a peer's identity is derived from.
type IdentityMode int

const (
	// AddrBased derives the PeerId from the peer's listen address.
	AddrBased IdentityMode = iota

	// CertBased derives the PeerId from the peer's TLS certificate, so it
	// stays stable across address changes.
	CertBased
)

// PeerId is the 256 bit hash identifying a peer. The identity is stable
// across reconnects.
type PeerId [sha256.Size]byte

// NewPeerIdFromAddr hashes a listen address into a PeerId.
func NewPeerIdFromAddr(addr netaddr.NetAddr) PeerId {
	return sha256.Sum256(addr.Encode())
}

// NewPeerIdFromCert hashes a DER encoded certificate into a PeerId.
func NewPeerIdFromCert(der []byte) PeerId {
	return sha256.Sum256(der)
}

func (id PeerId) String() string {
	return hex.EncodeToString(id[:5])
}
