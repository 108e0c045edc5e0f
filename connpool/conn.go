// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connpool

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/yhzhang0128/salticidae/internal/buffer"
	"github.com/yhzhang0128/salticidae/netaddr"
)

// ConnMode describes how a connection came to be, or that it is gone.
type ConnMode int32

const (
	// ConnActive connections were initiated by Connect.
	ConnActive ConnMode = iota

	// ConnPassive connections were accepted on the listen socket.
	ConnPassive

	// ConnDead is terminal.
	ConnDead
)

func (mode ConnMode) String() string {
	switch mode {
	case ConnActive:
		return "active"
	case ConnPassive:
		return "passive"
	case ConnDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Conn is the handle to one bi-directional connection. Handles are shared
// across goroutines; the pool keeps a connection alive until the dispatcher
// drops it from the table on teardown.
type Conn struct {
	id   uint64
	pool *ConnPool
	addr netaddr.NetAddr
	mode int32

	// sock is assigned on the dispatcher before the connection is fed to a
	// worker and never changes afterwards.
	sock     net.Conn
	peerCert []byte

	sendBuffer *buffer.SendBuffer

	// recvBuffer is owned by the reader goroutine.
	recvBuffer buffer.RecvBuffer

	worker *worker

	// dispatcher-owned lifecycle flags
	setupDone bool
	pooled    bool
	fedWorker bool

	// ext is attached by an outer layer during OnCreate, before any
	// concurrent access to the Conn exists.
	ext interface{}
}

// Mode returns the connection's current mode.
func (conn *Conn) Mode() ConnMode {
	return ConnMode(atomic.LoadInt32(&conn.mode))
}

func (conn *Conn) setMode(mode ConnMode) {
	atomic.StoreInt32(&conn.mode, int32(mode))
}

// Addr returns the remote address.
func (conn *Conn) Addr() netaddr.NetAddr {
	return conn.addr
}

// Pool returns the owning ConnPool.
func (conn *Conn) Pool() *ConnPool {
	return conn.pool
}

// PeerCert returns the remote certificate in DER encoding, or nil without
// TLS.
func (conn *Conn) PeerCert() []byte {
	return conn.peerCert
}

// Ext returns the state an outer layer attached with SetExt.
func (conn *Conn) Ext() interface{} {
	return conn.ext
}

// SetExt attaches outer layer state. It must only be called from an OnCreate
// hook.
func (conn *Conn) SetExt(ext interface{}) {
	conn.ext = ext
}

// RecvBuffer exposes the segmented receive buffer to the OnRead hook. It
// must only be touched from the reader goroutine.
func (conn *Conn) RecvBuffer() *buffer.RecvBuffer {
	return &conn.recvBuffer
}

// Write queues data for sending. Safe from any goroutine; blocks while a
// bounded send buffer is full. It reports false once the connection is dead.
func (conn *Conn) Write(data []byte) bool {
	if conn.Mode() == ConnDead {
		return false
	}
	return conn.sendBuffer.Push(data)
}

// PopSendSegment removes and returns the front segment still queued for
// sending, if any. Used to migrate unsent bytes from a terminated
// connection into its replacement.
func (conn *Conn) PopSendSegment() ([]byte, bool) {
	return conn.sendBuffer.TryPop()
}

// SendBufferLen returns the number of queued send segments.
func (conn *Conn) SendBufferLen() int {
	return conn.sendBuffer.Len()
}

func (conn *Conn) String() string {
	return fmt.Sprintf("<conn #%d addr=%v mode=%v>", conn.id, conn.addr, conn.Mode())
}

// readLoop runs as the connection's reader goroutine on its worker. It owns
// the receive buffer and invokes the OnRead hook after every chunk.
func (conn *Conn) readLoop(segBuffSize int, onRead func(*Conn)) {
	for {
		seg := make([]byte, segBuffSize)
		n, err := conn.sock.Read(seg)
		if n > 0 {
			conn.recvBuffer.Push(seg[:n])
			if onRead != nil {
				onRead(conn)
			}
		}
		if err != nil {
			conn.pool.workerTerminate(conn, err)
			return
		}
	}
}

// writeLoop runs as the connection's writer goroutine, draining the send
// buffer front segment by front segment.
func (conn *Conn) writeLoop() {
	for {
		seg, ok := conn.sendBuffer.Pop()
		if !ok {
			return
		}
		if _, err := conn.sock.Write(seg); err != nil {
			conn.pool.workerTerminate(conn, err)
			return
		}
	}
}
