// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peernet

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/yhzhang0128/salticidae/internal/tcall"
	"github.com/yhzhang0128/salticidae/netaddr"
)

type peerState int

const (
	peerDisconnected peerState = iota
	peerConnected
	peerReset
)

// passiveNonce is the fallback nonce a side advertises when it never
// initiated a connection itself. That side keeps its inbound connection
// unconditionally; the initiator keeps the matching outbound one whenever
// its drawn nonce is below 0xffff, i.e. unless it drew 0xffff or 0x10000.
const passiveNonce uint32 = 0xffff

// Peer is the logical identity behind at most one chosen connection. All
// fields are owned by the dispatcher loop; cross-thread reads go through
// the network's known-peers lock.
type Peer struct {
	id   PeerId
	addr netaddr.NetAddr

	// nonce is drawn once per disconnected episode; zero means unset.
	nonce uint32

	// conn is the established connection while connected.
	conn *Conn

	// handshake candidates
	chosenConn   *Conn
	inboundConn  *Conn
	outboundConn *Conn

	retryTimer *tcall.Timer
	retryDelay time.Duration
	ntry       int

	pingTimer   *tcall.Timer
	pingTimerOK bool
	pongMsgOK   bool

	state peerState
}

func newPeer(id PeerId, pn *PeerNetwork) *Peer {
	p := &Peer{id: id}
	p.pingTimer = tcall.NewTimer(pn.Pool().DispatchLoop(), func() { pn.peerPingTimer(p) })
	p.retryTimer = tcall.NewTimer(pn.Pool().DispatchLoop(), func() { pn.peerRetryTimer(p) })

	return p
}

// getNonce returns the current nonce, drawing a fresh one from the system
// randomness source when it was reset. The draw is 16 bit plus one, keeping
// zero reserved for "unset".
func (p *Peer) getNonce() (uint32, error) {
	if p.nonce == 0 {
		var buff [2]byte
		if _, err := rand.Read(buff[:]); err != nil {
			return 0, ErrRandSource
		}
		p.nonce = uint32(binary.LittleEndian.Uint16(buff[:])) + 1
	}
	return p.nonce, nil
}

// clearConns drops every connection back-pointer to this Peer; the
// counterpart of a destructor, run on DelPeer.
func (p *Peer) clearConns() {
	for _, conn := range []*Conn{p.conn, p.chosenConn, p.inboundConn, p.outboundConn} {
		if conn != nil {
			conn.peer = nil
		}
	}
	p.conn, p.chosenConn, p.inboundConn, p.outboundConn = nil, nil, nil, nil
}

// jitterDelay spreads a base delay uniformly over [0.75b, 1.25b) so
// heartbeats and retries across peers do not align.
func jitterDelay(base time.Duration) time.Duration {
	if base <= time.Millisecond {
		return base
	}
	return base*3/4 + time.Duration(mrand.Int63n(int64(base/2)))
}

func init() {
	seed, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err == nil {
		mrand.Seed(seed.Int64())
	}
}
