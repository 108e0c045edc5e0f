// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"testing"
)

func TestMsgSerialize(t *testing.T) {
	m := New(0x42, []byte("hello"), 0)

	buff := m.Serialize()
	if len(buff) != HeaderSize+5 {
		t.Fatalf("unexpected frame length %d", len(buff))
	}
	if buff[0] != 0x42 {
		t.Fatalf("unexpected opcode byte 0x%02x", buff[0])
	}

	m2, err := NewFromHeader(buff[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if m2.Opcode() != 0x42 || m2.Length() != 5 {
		t.Fatalf("header mismatch: %v", m2)
	}

	m2.SetPayload(buff[HeaderSize:])
	if !m2.VerifyChecksum(0) {
		t.Fatal("checksum must verify")
	}
	if !bytes.Equal(m2.Payload(), []byte("hello")) {
		t.Fatalf("payload mismatch: %q", m2.Payload())
	}
}

func TestMsgChecksumMagic(t *testing.T) {
	m := New(0x01, []byte("ping"), 0x5a5a5a5a)

	if !m.VerifyChecksum(0x5a5a5a5a) {
		t.Fatal("checksum must verify under the same magic")
	}
	if m.VerifyChecksum(0) {
		t.Fatal("checksum must not verify under a different magic")
	}
}

func TestMsgCorruptPayload(t *testing.T) {
	m := New(0x01, []byte("payload"), 0)
	buff := m.Serialize()
	buff[HeaderSize] ^= 0xff

	m2, err := NewFromHeader(buff[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	m2.SetPayload(buff[HeaderSize:])

	if m2.VerifyChecksum(0) {
		t.Fatal("corrupted payload must not verify")
	}
}

func TestMsgHeaderSizeMismatch(t *testing.T) {
	if _, err := NewFromHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected an error for a short header")
	}
}
