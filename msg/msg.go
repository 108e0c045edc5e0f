// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msg implements the wire frame exchanged between nodes.
//
// Every frame starts with a fixed size header of an one byte opcode, the
// payload length and a checksum, both as 32 bit little-endian integers,
// followed by the payload itself. The checksum covers the payload and is
// seeded with the network's magic value, so frames from a network with a
// different magic fail verification like corrupted ones.
package msg

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Opcode identifies the handler a message is dispatched to.
type Opcode = uint8

// HeaderSize is the fixed length of a serialized frame header: one opcode
// byte, four length bytes and four checksum bytes.
const HeaderSize = 1 + 4 + 4

// Msg is one framed message, either constructed locally for sending or
// assembled from received header and payload bytes.
type Msg struct {
	opcode   Opcode
	length   uint32
	checksum uint32
	payload  []byte
}

// New creates a Msg ready for serialization, checksummed against magic.
func New(opcode Opcode, payload []byte, magic uint32) Msg {
	return Msg{
		opcode:   opcode,
		length:   uint32(len(payload)),
		checksum: checksum(payload, magic),
		payload:  payload,
	}
}

// NewFromHeader starts assembling a received Msg from exactly HeaderSize
// header bytes. The payload must be attached with SetPayload afterwards.
func NewFromHeader(header []byte) (m Msg, err error) {
	if len(header) != HeaderSize {
		err = fmt.Errorf("msg: expected %d header bytes, got %d", HeaderSize, len(header))
		return
	}

	m.opcode = header[0]
	m.length = binary.LittleEndian.Uint32(header[1:5])
	m.checksum = binary.LittleEndian.Uint32(header[5:9])

	return
}

// Opcode returns this message's opcode.
func (m Msg) Opcode() Opcode {
	return m.opcode
}

// Length returns the payload length announced in the header.
func (m Msg) Length() uint32 {
	return m.length
}

// Payload returns the payload bytes.
func (m Msg) Payload() []byte {
	return m.payload
}

// SetPayload attaches the received payload bytes to a Msg created by
// NewFromHeader.
func (m *Msg) SetPayload(payload []byte) {
	m.payload = payload
}

// VerifyChecksum reports whether the payload matches the header's checksum
// under the given magic.
func (m Msg) VerifyChecksum(magic uint32) bool {
	return m.checksum == checksum(m.payload, magic)
}

// Serialize returns the full frame, header and payload.
func (m Msg) Serialize() []byte {
	buff := make([]byte, HeaderSize+len(m.payload))
	buff[0] = m.opcode
	binary.LittleEndian.PutUint32(buff[1:5], m.length)
	binary.LittleEndian.PutUint32(buff[5:9], m.checksum)
	copy(buff[HeaderSize:], m.payload)

	return buff
}

func (m Msg) String() string {
	return fmt.Sprintf("<msg opcode=0x%02x length=%d>", m.opcode, m.length)
}

// checksum is the first four bytes of the payload's SHA-256 digest as a
// little-endian integer, XORed with the network magic.
func checksum(payload []byte, magic uint32) uint32 {
	digest := sha256.Sum256(payload)
	return binary.LittleEndian.Uint32(digest[:4]) ^ magic
}
