// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peernet

import (
	"encoding/binary"
	"fmt"

	"github.com/yhzhang0128/salticidae/netaddr"
)

// pingPong is the shared payload of the ping and pong opcodes. The empty
// variant (no claim) is the heartbeat; the variant carrying the sender's
// listen address and nonce is the handshake.
type pingPong struct {
	hasClaim bool
	claimed  netaddr.NetAddr
	nonce    uint32
}

// newHandshakePayload declares the sender's listen address and nonce.
func newHandshakePayload(claimed netaddr.NetAddr, nonce uint32) pingPong {
	return pingPong{hasClaim: true, claimed: claimed, nonce: nonce}
}

func (pp pingPong) encode() []byte {
	if !pp.hasClaim {
		return []byte{0}
	}

	buff := make([]byte, 1+netaddr.EncodedLen+4)
	buff[0] = 1
	copy(buff[1:], pp.claimed.Encode())
	binary.LittleEndian.PutUint32(buff[1+netaddr.EncodedLen:], pp.nonce)

	return buff
}

func decodePingPong(payload []byte) (pp pingPong, err error) {
	if len(payload) < 1 {
		err = fmt.Errorf("peernet: empty ping/pong payload")
		return
	}
	if payload[0] == 0 {
		return
	}

	if len(payload) != 1+netaddr.EncodedLen+4 {
		err = fmt.Errorf("peernet: handshake payload of %d bytes", len(payload))
		return
	}

	pp.hasClaim = true
	if err = pp.claimed.Decode(payload[1:]); err != nil {
		return
	}
	pp.nonce = binary.LittleEndian.Uint32(payload[1+netaddr.EncodedLen:])

	return
}
