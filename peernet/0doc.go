// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peernet implements a peer-to-peer overlay on top of msgnet in
// which any two registered endpoints hold one logical bidirectional channel,
// no matter which side initiated it.
//
// When both sides connect concurrently, two TCP connections exist for the
// same peer pair. A handshake ping/pong carrying each side's listen address
// and a random nonce resolves the race: both sides compare the same nonce
// pair and deterministically keep exactly one connection. Established
// channels are kept alive with periodic pings; a silent connection times
// out on its worker and the usual teardown path, with its retry logic,
// takes over.
//
// All registry state is owned by the dispatcher loop. The known-peers map
// is additionally guarded by a readers-writer lock so sends from other
// goroutines can resolve peers without a round trip.
package peernet
