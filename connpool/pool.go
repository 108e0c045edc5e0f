// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connpool

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/internal/buffer"
	"github.com/yhzhang0128/salticidae/internal/tcall"
	"github.com/yhzhang0128/salticidae/netaddr"
)

// ErrPoolStopped is returned for operations against a pool whose loops are
// already stopped.
var ErrPoolStopped = errors.New("connpool: pool is stopped")

// ConnCallback is invoked on the user loop whenever a connection finished
// its setup (connected = true) or died after that (connected = false).
type ConnCallback func(conn *Conn, connected bool)

// ErrorCallback is invoked on the user loop for both recoverable errors of
// deferred operations (fatal = false, asyncID set) and programmer errors
// (fatal = true).
type ErrorCallback func(err error, fatal bool, asyncID int32)

// ConnPool creates, accepts and disposes connections and assigns each of
// them to a worker.
type ConnPool struct {
	config Config
	hooks  Hooks

	userLoop *tcall.Loop
	workers  []*worker

	// dispatcher-owned state
	pool           map[uint64]*Conn
	listener       net.Listener
	nextConnID     uint64
	passivePending int

	asyncID int32
	running int32

	connCb  ConnCallback
	errorCb ErrorCallback
}

// NewConnPool creates a ConnPool with the given configuration and lifecycle
// hooks. Nothing runs until Start.
func NewConnPool(config Config, hooks Hooks) *ConnPool {
	if config.NWorker < 1 {
		config.NWorker = 1
	}

	p := &ConnPool{
		config:   config,
		hooks:    hooks,
		userLoop: tcall.NewLoop(),
		pool:     make(map[uint64]*Conn),
	}
	for i := 0; i < config.NWorker; i++ {
		p.workers = append(p.workers, newWorker(i))
	}

	return p
}

// RegConnHandler registers the connection callback. Must be called before
// Start.
func (p *ConnPool) RegConnHandler(cb ConnCallback) {
	p.connCb = cb
}

// RegErrorHandler registers the error callback. Must be called before Start.
func (p *ConnPool) RegErrorHandler(cb ErrorCallback) {
	p.errorCb = cb
}

// Start spins up the user loop and all worker loops. Starting twice is a
// no-op.
func (p *ConnPool) Start() {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return
	}

	log.Debug("ConnPool: starting all loops")

	go p.userLoop.Run()
	for _, w := range p.workers {
		w.start()
	}
}

// Stop tears the pool down: the listener and every connection are closed,
// then the loops are joined. Close errors are aggregated.
func (p *ConnPool) Stop() (err error) {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return nil
	}

	log.Debug("ConnPool: stopping all loops")

	p.dispatcher().loop.Call(func() interface{} {
		if p.listener != nil {
			if lnErr := p.listener.Close(); lnErr != nil {
				err = multierror.Append(err, lnErr)
			}
			p.listener = nil
		}
		for _, conn := range p.pool {
			conn.setMode(ConnDead)
			conn.sendBuffer.Close()
			if conn.sock != nil {
				if sockErr := conn.sock.Close(); sockErr != nil {
					err = multierror.Append(err, sockErr)
				}
			}
		}
		p.pool = make(map[uint64]*Conn)
		return nil
	})

	// The dispatcher goes first, the remaining workers after it.
	for _, w := range p.workers {
		w.stop()
	}
	p.userLoop.Stop()

	return
}

func (p *ConnPool) dispatcher() *worker {
	return p.workers[0]
}

// DispatchLoop exposes the dispatcher loop, e.g. for binding timers to it.
func (p *ConnPool) DispatchLoop() *tcall.Loop {
	return p.dispatcher().loop
}

// DispatchPost schedules f onto the dispatcher loop.
func (p *ConnPool) DispatchPost(f func()) bool {
	return p.dispatcher().loop.Post(f)
}

// DispatchCall runs f on the dispatcher loop and waits for its result.
func (p *ConnPool) DispatchCall(f func() interface{}) (interface{}, bool) {
	return p.dispatcher().loop.Call(f)
}

// UserPost schedules f onto the user loop, where all embedder callbacks run.
func (p *ConnPool) UserPost(f func()) bool {
	return p.userLoop.Post(f)
}

// UserLoop exposes the user loop for outer layers.
func (p *ConnPool) UserLoop() *tcall.Loop {
	return p.userLoop
}

// WorkerLoop returns the loop of the worker driving conn, or nil before the
// connection was assigned to one.
func (conn *Conn) WorkerLoop() *tcall.Loop {
	if conn.worker == nil {
		return nil
	}
	return conn.worker.loop
}

// GenAsyncID draws the next async-id for a deferred operation.
func (p *ConnPool) GenAsyncID() int32 {
	return atomic.AddInt32(&p.asyncID, 1)
}

// RecoverableError reports a non-fatal failure of the deferred operation
// identified by asyncID through the error callback.
func (p *ConnPool) RecoverableError(err error, asyncID int32) {
	p.userLoop.Post(func() {
		if p.errorCb != nil {
			p.errorCb(err, false, asyncID)
		}
	})
}

// FatalError reports an unexpected failure through the error callback.
func (p *ConnPool) FatalError(err error) {
	p.userLoop.Post(func() {
		if p.errorCb != nil {
			p.errorCb(err, true, 0)
		}
	})
}

// Connect initiates a connection and blocks until the dispatcher has created
// the handle. The underlying socket may still be completing; the connection
// callback reports the outcome.
func (p *ConnPool) Connect(addr netaddr.NetAddr) (*Conn, error) {
	result, ok := p.dispatcher().loop.Call(func() interface{} {
		return p.doConnect(addr)
	})
	if !ok {
		return nil, ErrPoolStopped
	}
	return result.(*Conn), nil
}

// ConnectAsync is like Connect without waiting for the handle.
func (p *ConnPool) ConnectAsync(addr netaddr.NetAddr) {
	p.DispatchPost(func() { p.doConnect(addr) })
}

// DispatchConnect initiates a connection from code already running on the
// dispatcher loop, where Connect would deadlock.
func (p *ConnPool) DispatchConnect(addr netaddr.NetAddr) *Conn {
	return p.doConnect(addr)
}

// doConnect runs on the dispatcher.
func (p *ConnPool) doConnect(addr netaddr.NetAddr) *Conn {
	conn := p.newConn(ConnActive, addr)

	log.WithFields(log.Fields{
		"conn": conn.String(),
	}).Debug("ConnPool: connecting")

	go p.dialRoutine(conn)

	return conn
}

func (p *ConnPool) newConn(mode ConnMode, addr netaddr.NetAddr) *Conn {
	conn := &Conn{
		id:         p.nextConnID,
		pool:       p,
		addr:       addr,
		mode:       int32(mode),
		sendBuffer: buffer.NewSendBuffer(p.config.QueueCapacity),
	}
	p.nextConnID++

	if p.hooks.OnCreate != nil {
		p.hooks.OnCreate(conn)
	}

	p.pool[conn.id] = conn
	conn.pooled = true

	return conn
}

// dialRoutine performs the blocking connect off the dispatcher and posts the
// outcome back to it.
func (p *ConnPool) dialRoutine(conn *Conn) {
	dialer := net.Dialer{Timeout: p.config.ConnServerTimeout}
	sock, err := dialer.Dial("tcp", conn.addr.String())
	if err == nil && p.config.TLS != nil {
		tlsSock := tls.Client(sock, p.config.TLS)
		if err = p.tlsHandshake(tlsSock); err != nil {
			sock.Close()
			sock = nil
		} else {
			sock = tlsSock
		}
	}

	p.DispatchPost(func() { p.connEstablished(conn, sock, err) })
}

func (p *ConnPool) tlsHandshake(tlsSock *tls.Conn) error {
	// The deadline bounds the handshake; it is lifted again for regular
	// traffic, which has its own liveness checking upstack.
	if err := tlsSock.SetDeadline(deadlineIn(p.config.ConnServerTimeout)); err != nil {
		return err
	}
	if err := tlsSock.Handshake(); err != nil {
		return err
	}
	return tlsSock.SetDeadline(noDeadline)
}

// connEstablished runs on the dispatcher once an active dial finished.
func (p *ConnPool) connEstablished(conn *Conn, sock net.Conn, err error) {
	if conn.Mode() == ConnDead {
		if sock != nil {
			sock.Close()
		}
		return
	}

	if err != nil {
		log.WithFields(log.Fields{
			"conn":  conn.String(),
			"error": err,
		}).Info("ConnPool: connect failed")
		p.dispTerminate(conn)
		return
	}

	conn.sock = sock
	conn.peerCert = peerCertDER(sock)
	p.setupConn(conn)
}

// Listen binds the listen socket and starts accepting. Synchronous; the
// error is returned directly.
func (p *ConnPool) Listen(addr netaddr.NetAddr) error {
	result, ok := p.dispatcher().loop.Call(func() interface{} {
		return p.doListen(addr)
	})
	if !ok {
		return ErrPoolStopped
	}
	if result == nil {
		return nil
	}
	return result.(error)
}

// doListen runs on the dispatcher.
func (p *ConnPool) doListen(addr netaddr.NetAddr) error {
	if p.listener != nil {
		return fmt.Errorf("connpool: already listening on %v", p.listener.Addr())
	}

	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return err
	}
	p.listener = ln

	log.WithFields(log.Fields{
		"addr": addr,
	}).Info("ConnPool: listening")

	go p.acceptLoop(ln)

	return nil
}

func (p *ConnPool) acceptLoop(ln net.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			// Closed during Stop or replaced; either way this loop is done.
			log.WithFields(log.Fields{
				"error": err,
			}).Debug("ConnPool: accept loop finished")
			return
		}
		p.DispatchPost(func() { p.acceptConn(sock) })
	}
}

// acceptConn runs on the dispatcher for every accepted socket.
func (p *ConnPool) acceptConn(sock net.Conn) {
	if p.passivePending >= p.config.MaxListenBacklog {
		log.WithFields(log.Fields{
			"remote": sock.RemoteAddr(),
		}).Warn("ConnPool: too many connections pending setup, dropping")
		sock.Close()
		return
	}

	tcpAddr, ok := sock.RemoteAddr().(*net.TCPAddr)
	if !ok {
		sock.Close()
		return
	}
	addr, err := netaddr.NewNetAddrFromTCPAddr(tcpAddr)
	if err != nil {
		log.WithFields(log.Fields{
			"remote": sock.RemoteAddr(),
			"error":  err,
		}).Warn("ConnPool: rejecting non-IPv4 peer")
		sock.Close()
		return
	}

	conn := p.newConn(ConnPassive, addr)

	if p.config.TLS != nil {
		p.passivePending++
		go p.serverHandshakeRoutine(conn, sock)
		return
	}

	conn.sock = sock
	p.setupConn(conn)
}

// serverHandshakeRoutine performs the server side TLS handshake off the
// dispatcher, bounded by ConnServerTimeout.
func (p *ConnPool) serverHandshakeRoutine(conn *Conn, sock net.Conn) {
	tlsSock := tls.Server(sock, p.config.TLS)
	err := p.tlsHandshake(tlsSock)

	p.DispatchPost(func() {
		p.passivePending--

		if conn.Mode() == ConnDead {
			tlsSock.Close()
			return
		}
		if err != nil {
			log.WithFields(log.Fields{
				"conn":  conn.String(),
				"error": err,
			}).Warn("ConnPool: TLS handshake failed")
			tlsSock.Close()
			p.dispTerminate(conn)
			return
		}

		conn.sock = tlsSock
		conn.peerCert = peerCertDER(tlsSock)
		p.setupConn(conn)
	})
}

// setupConn runs on the dispatcher once a connection is established in
// either direction: hook, worker handoff, user callback.
func (p *ConnPool) setupConn(conn *Conn) {
	conn.worker = p.selectWorker()

	if p.hooks.OnSetup != nil {
		if err := p.hooks.OnSetup(conn); err != nil {
			log.WithFields(log.Fields{
				"conn":  conn.String(),
				"error": err,
			}).Warn("ConnPool: setup hook rejected connection")
			p.dispTerminate(conn)
			return
		}
	}
	conn.setupDone = true

	if err := setKeepAlive(conn.sock); err != nil {
		log.WithFields(log.Fields{
			"conn":  conn.String(),
			"error": err,
		}).Debug("ConnPool: cannot enable TCP keep-alive")
	}

	log.WithFields(log.Fields{
		"conn":   conn.String(),
		"worker": conn.worker.index,
	}).Info("ConnPool: connection established")

	conn.worker.fed()
	conn.fedWorker = true
	conn.worker.feed(conn, p.hooks.OnRead, p.config.SegBuffSize)
	p.updateConn(conn, true)
}

// selectWorker picks the worker with the fewest connections, ties broken by
// the lowest index.
func (p *ConnPool) selectWorker() *worker {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.getNConn() < best.getNConn() {
			best = w
		}
	}
	return best
}

// Terminate kills a connection from any goroutine. Fire and forget;
// terminating a dead connection has no effect.
func (p *ConnPool) Terminate(conn *Conn) {
	p.DispatchPost(func() { p.dispTerminate(conn) })
}

// workerTerminate is the I/O error path out of a reader or writer goroutine.
func (p *ConnPool) workerTerminate(conn *Conn, err error) {
	if conn.Mode() != ConnDead {
		log.WithFields(log.Fields{
			"conn":  conn.String(),
			"error": err,
		}).Debug("ConnPool: connection I/O ended")
	}
	p.DispatchPost(func() { p.dispTerminate(conn) })
}

// dispTerminate runs on the dispatcher and is the single place a connection
// dies: exactly once per connection.
func (p *ConnPool) dispTerminate(conn *Conn) {
	if conn.Mode() == ConnDead {
		return
	}
	conn.setMode(ConnDead)

	if conn.sock != nil {
		conn.sock.Close()
	}
	conn.sendBuffer.Close()

	if conn.fedWorker {
		conn.worker.unfeed()
		conn.fedWorker = false
	}
	if conn.pooled {
		delete(p.pool, conn.id)
		conn.pooled = false
	}

	log.WithFields(log.Fields{
		"conn": conn.String(),
	}).Info("ConnPool: connection terminated")

	if p.hooks.OnTeardown != nil {
		p.hooks.OnTeardown(conn)
	}
	if conn.setupDone {
		p.updateConn(conn, false)
	}
}

func (p *ConnPool) updateConn(conn *Conn, connected bool) {
	p.userLoop.Post(func() {
		if p.connCb != nil {
			p.connCb(conn, connected)
		}
	})
}

// NConn returns the current number of pooled connections.
func (p *ConnPool) NConn() int {
	result, ok := p.DispatchCall(func() interface{} { return len(p.pool) })
	if !ok {
		return 0
	}
	return result.(int)
}

// ListenAddr returns the bound listen address, useful with port 0.
func (p *ConnPool) ListenAddr() (netaddr.NetAddr, error) {
	result, ok := p.DispatchCall(func() interface{} {
		if p.listener == nil {
			return error(fmt.Errorf("connpool: not listening"))
		}
		addr, err := netaddr.NewNetAddrFromTCPAddr(p.listener.Addr().(*net.TCPAddr))
		if err != nil {
			return err
		}
		return addr
	})
	if !ok {
		return netaddr.NetAddr{}, ErrPoolStopped
	}
	if err, isErr := result.(error); isErr {
		return netaddr.NetAddr{}, err
	}
	return result.(netaddr.NetAddr), nil
}

// peerCertDER extracts the remote certificate of a TLS connection.
func peerCertDER(sock net.Conn) []byte {
	tlsSock, ok := sock.(*tls.Conn)
	if !ok {
		return nil
	}
	certs := tlsSock.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0].Raw
}
