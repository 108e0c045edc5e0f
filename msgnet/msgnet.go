// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgnet

import (
	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/connpool"
	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/netaddr"
)

// Config extends the pool configuration with the framing knobs.
type Config struct {
	connpool.Config

	// MaxMsgSize is the largest accepted payload length. A frame
	// announcing more is a protocol violation.
	MaxMsgSize uint32

	// MaxMsgQueueSize bounds the inbox between the readers and the user
	// loop. A full inbox pauses reading.
	MaxMsgQueueSize int

	// BurstSize is the number of messages delivered per drain pass before
	// the user loop is yielded.
	BurstSize int

	// MsgMagic seeds every frame checksum; nodes with different magics
	// cannot exchange messages.
	MsgMagic uint32
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Config:          connpool.DefaultConfig(),
		MaxMsgSize:      1024,
		MaxMsgQueueSize: 65536,
		BurstSize:       1000,
		MsgMagic:        0x0,
	}
}

// Handler consumes one message on the user loop.
type Handler func(m msg.Msg, conn *Conn)

// ConnCallback mirrors connpool.ConnCallback at this layer.
type ConnCallback func(conn *Conn, connected bool)

// Hooks are the lifecycle slots an outer layer, e.g. peernet, installs.
type Hooks struct {
	OnCreate   func(*Conn)
	OnSetup    func(*Conn) error
	OnTeardown func(*Conn)

	// OnFrame runs on the reader goroutine for every verified frame,
	// before it enters the inbox. Liveness tracking hooks in here.
	OnFrame func(*Conn)
}

// Conn is a pooled connection with framing state attached.
type Conn struct {
	*connpool.Conn

	net *MsgNetwork

	// reader goroutine state
	frameHeader bool
	cur         msg.Msg

	// ext is attached by an outer layer during its OnCreate hook.
	ext interface{}
}

// Net returns the owning MsgNetwork.
func (conn *Conn) Net() *MsgNetwork {
	return conn.net
}

// Ext returns outer layer state attached with SetExt.
func (conn *Conn) Ext() interface{} {
	return conn.ext
}

// SetExt attaches outer layer state; only valid from an OnCreate hook.
func (conn *Conn) SetExt(ext interface{}) {
	conn.ext = ext
}

// MsgNetwork frames and dispatches messages over a ConnPool.
type MsgNetwork struct {
	pool   *connpool.ConnPool
	config Config
	hooks  Hooks

	// handlers must be fully registered before Start.
	handlers map[msg.Opcode]Handler

	inbox  *inbox
	connCb ConnCallback
}

// NewMsgNetwork creates a MsgNetwork. The hooks are for outer layers;
// embedders usually pass the zero value.
func NewMsgNetwork(config Config, hooks Hooks) *MsgNetwork {
	m := &MsgNetwork{
		config:   config,
		hooks:    hooks,
		handlers: make(map[msg.Opcode]Handler),
	}

	m.pool = connpool.NewConnPool(config.Config, connpool.Hooks{
		OnCreate:   m.onCreate,
		OnSetup:    m.onSetup,
		OnTeardown: m.onTeardown,
		OnRead:     m.onRead,
	})
	m.inbox = newInbox(config.MaxMsgQueueSize, config.BurstSize, m.pool.UserLoop(), m.deliver)

	return m
}

// Pool exposes the underlying ConnPool.
func (m *MsgNetwork) Pool() *connpool.ConnPool {
	return m.pool
}

// RegHandler registers the handler for an opcode. Must be called before
// Start; a second registration for the same opcode replaces the first.
func (m *MsgNetwork) RegHandler(opcode msg.Opcode, handler Handler) {
	m.handlers[opcode] = handler
}

// RegConnHandler registers the connection callback, run on the user loop.
func (m *MsgNetwork) RegConnHandler(cb ConnCallback) {
	m.connCb = cb
	m.pool.RegConnHandler(func(raw *connpool.Conn, connected bool) {
		if m.connCb != nil {
			m.connCb(connExt(raw), connected)
		}
	})
}

// RegErrorHandler registers the error callback, run on the user loop.
func (m *MsgNetwork) RegErrorHandler(cb connpool.ErrorCallback) {
	m.pool.RegErrorHandler(cb)
}

// Start spins up the pool loops.
func (m *MsgNetwork) Start() {
	m.pool.Start()
}

// Stop closes the inbox and tears the pool down.
func (m *MsgNetwork) Stop() error {
	m.inbox.close()
	return m.pool.Stop()
}

// Listen binds the listen socket.
func (m *MsgNetwork) Listen(addr netaddr.NetAddr) error {
	return m.pool.Listen(addr)
}

// ListenAddr returns the bound listen address.
func (m *MsgNetwork) ListenAddr() (netaddr.NetAddr, error) {
	return m.pool.ListenAddr()
}

// Connect initiates a connection, blocking until the handle exists.
func (m *MsgNetwork) Connect(addr netaddr.NetAddr) (*Conn, error) {
	raw, err := m.pool.Connect(addr)
	if err != nil {
		return nil, err
	}
	return connExt(raw), nil
}

// ConnectAsync initiates a connection without waiting for the handle.
func (m *MsgNetwork) ConnectAsync(addr netaddr.NetAddr) {
	m.pool.ConnectAsync(addr)
}

// DispatchConnect initiates a connection from code already running on the
// dispatcher loop.
func (m *MsgNetwork) DispatchConnect(addr netaddr.NetAddr) *Conn {
	return connExt(m.pool.DispatchConnect(addr))
}

// Terminate kills a connection.
func (m *MsgNetwork) Terminate(conn *Conn) {
	m.pool.Terminate(conn.Conn)
}

// NewMsg builds a frame carrying payload under this network's magic.
func (m *MsgNetwork) NewMsg(opcode msg.Opcode, payload []byte) msg.Msg {
	return msg.New(opcode, payload, m.config.MsgMagic)
}

// SendMsg serializes and enqueues a message to the connection's send buffer.
// Safe from any goroutine; reports false for a dead connection.
func (m *MsgNetwork) SendMsg(mm msg.Msg, conn *Conn) bool {
	log.WithFields(log.Fields{
		"msg":  mm.String(),
		"conn": conn.String(),
	}).Debug("MsgNetwork: sending message")

	return conn.Write(mm.Serialize())
}

// SendMsgDeferred posts the send to the dispatcher, which makes it safe
// before a connection is fully installed. Failure surfaces through the
// error callback under the returned async-id.
func (m *MsgNetwork) SendMsgDeferred(mm msg.Msg, conn *Conn) int32 {
	id := m.pool.GenAsyncID()
	m.pool.DispatchPost(func() {
		if !m.SendMsg(mm, conn) {
			m.pool.RecoverableError(ErrConnNotReady, id)
		}
	})
	return id
}

// connExt maps a pool connection back to its msgnet wrapper.
func connExt(raw *connpool.Conn) *Conn {
	return raw.Ext().(*Conn)
}

func (m *MsgNetwork) onCreate(raw *connpool.Conn) {
	conn := &Conn{
		Conn:        raw,
		net:         m,
		frameHeader: true,
	}
	raw.SetExt(conn)

	if m.hooks.OnCreate != nil {
		m.hooks.OnCreate(conn)
	}
}

func (m *MsgNetwork) onSetup(raw *connpool.Conn) error {
	if m.hooks.OnSetup != nil {
		return m.hooks.OnSetup(connExt(raw))
	}
	return nil
}

func (m *MsgNetwork) onTeardown(raw *connpool.Conn) {
	if m.hooks.OnTeardown != nil {
		m.hooks.OnTeardown(connExt(raw))
	}
}

// onRead runs on the connection's reader goroutine and assembles frames.
// The frame state alternates between waiting for a full header and waiting
// for the announced payload.
func (m *MsgNetwork) onRead(raw *connpool.Conn) {
	conn := connExt(raw)
	rb := raw.RecvBuffer()

	for {
		if conn.frameHeader {
			if rb.Size() < msg.HeaderSize {
				return
			}
			mm, err := msg.NewFromHeader(rb.Pop(msg.HeaderSize))
			if err != nil {
				// unreachable: the pop is exactly HeaderSize
				m.pool.FatalError(err)
				return
			}
			if mm.Length() > m.config.MaxMsgSize {
				log.WithFields(log.Fields{
					"conn":   conn.String(),
					"length": mm.Length(),
					"max":    m.config.MaxMsgSize,
				}).Warn("MsgNetwork: oversized message, terminating the connection")
				m.pool.RecoverableError(ErrOversizedMsg, 0)
				m.pool.Terminate(raw)
				return
			}
			conn.cur = mm
			conn.frameHeader = false
		}

		payloadLen := int(conn.cur.Length())
		if rb.Size() < payloadLen {
			return
		}
		conn.cur.SetPayload(rb.Pop(payloadLen))
		conn.frameHeader = true

		if !conn.cur.VerifyChecksum(m.config.MsgMagic) {
			log.WithFields(log.Fields{
				"conn": conn.String(),
				"msg":  conn.cur.String(),
			}).Warn("MsgNetwork: checksums do not match, dropping the message")
			continue
		}

		if m.hooks.OnFrame != nil {
			m.hooks.OnFrame(conn)
		}

		// Blocks while the inbox is full, pausing this reader.
		if !m.inbox.enqueue(inboxItem{m: conn.cur, conn: conn}) {
			return
		}
	}
}

// deliver runs on the user loop for every inbox item.
func (m *MsgNetwork) deliver(item inboxItem) {
	handler, exists := m.handlers[item.m.Opcode()]
	if !exists {
		log.WithFields(log.Fields{
			"opcode": item.m.Opcode(),
			"conn":   item.conn.String(),
		}).Warn("MsgNetwork: unknown opcode, dropping the message")
		return
	}

	handler(item.m, item.conn)
}
