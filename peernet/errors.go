// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peernet

import "errors"

var (
	// ErrPeerNotExist means the peer id is not registered.
	ErrPeerNotExist = errors.New("peernet: peer does not exist")

	// ErrPeerAlreadyExists means AddPeer hit a registered peer id.
	ErrPeerAlreadyExists = errors.New("peernet: peer already exists")

	// ErrPeerNotReady means the peer has no address yet; SetPeerAddr must
	// precede ConnPeer.
	ErrPeerNotReady = errors.New("peernet: peer is not ready")

	// ErrRandSource means the system randomness source failed while
	// drawing a handshake nonce.
	ErrRandSource = errors.New("peernet: randomness source failed")
)
