// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connpool

import (
	"crypto/tls"
	"time"
)

// Config holds the knobs of a ConnPool. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxListenBacklog bounds the number of accepted connections that have
	// not finished their setup yet. Further ones are dropped on accept.
	MaxListenBacklog int

	// ConnServerTimeout limits both an active connection attempt and the
	// setup of an accepted connection, including a TLS handshake.
	ConnServerTimeout time.Duration

	// SegBuffSize is the size of the segments read from a socket in one go.
	SegBuffSize int

	// NWorker is the number of worker loops. Worker 0 doubles as the
	// dispatcher. Values below 1 are raised to 1.
	NWorker int

	// QueueCapacity bounds each connection's send buffer in segments; zero
	// means unbounded.
	QueueCapacity int

	// TLS enables TLS on all connections when non-nil. For certificate
	// based peer identity the config must request and verify client
	// certificates.
	TLS *tls.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxListenBacklog:  10,
		ConnServerTimeout: 2 * time.Second,
		SegBuffSize:       4096,
		NWorker:           1,
		QueueCapacity:     0,
	}
}

// Hooks are the lifecycle slots an outer layer installs before Start. All of
// them are optional.
type Hooks struct {
	// OnCreate runs on the dispatcher right after a Conn is allocated,
	// before any I/O happens. Outer layers attach their per-connection
	// state here, see Conn.SetExt.
	OnCreate func(*Conn)

	// OnSetup runs on the dispatcher once the connection is established,
	// before it is handed to a worker. A non-nil error terminates the
	// connection.
	OnSetup func(*Conn) error

	// OnTeardown runs on the dispatcher exactly once per pooled connection
	// when it dies.
	OnTeardown func(*Conn)

	// OnRead runs on the connection's reader goroutine whenever new bytes
	// were appended to the receive buffer.
	OnRead func(*Conn)
}
