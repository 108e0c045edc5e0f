// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peernet

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/connpool"
	"github.com/yhzhang0128/salticidae/internal/tcall"
	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/msgnet"
	"github.com/yhzhang0128/salticidae/netaddr"
)

// Config extends the message network configuration with the overlay knobs.
type Config struct {
	msgnet.Config

	// PingPeriod is the base interval between heartbeat pings, randomized
	// per round.
	PingPeriod time.Duration

	// ConnTimeout kills a connection that received no frame for this long.
	ConnTimeout time.Duration

	// IDMode selects address or certificate based peer identity. Without
	// TLS the identity is always address based.
	IDMode IdentityMode

	// AllowUnknownPeer accepts handshakes from unregistered peers by
	// registering them on the fly. Off by default; the unknown peer
	// callback fires either way.
	AllowUnknownPeer bool

	// OpcodePing and OpcodePong are the reserved opcodes for the
	// handshake and heartbeat messages.
	OpcodePing msg.Opcode
	OpcodePong msg.Opcode
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Config:           msgnet.DefaultConfig(),
		PingPeriod:       30 * time.Second,
		ConnTimeout:      180 * time.Second,
		IDMode:           CertBased,
		AllowUnknownPeer: false,
		OpcodePing:       0xf0,
		OpcodePong:       0xf1,
	}
}

// PeerCallback is invoked on the user loop when a peer's chosen connection
// comes up (connected = true) or goes away (connected = false).
type PeerCallback func(conn *Conn, connected bool)

// UnknownPeerCallback is invoked on the user loop for a handshake from an
// unregistered peer. cert is nil without TLS.
type UnknownPeerCallback func(claimedAddr netaddr.NetAddr, cert []byte)

// Conn is a msgnet connection with overlay state attached.
type Conn struct {
	*msgnet.Conn

	// peer is the dispatcher-owned back-pointer; nil unless this
	// connection is a handshake candidate or chosen.
	peer *Peer

	// timeout runs on the connection's worker loop.
	timeout *tcall.Timer
}

// PeerNetwork is the peer-to-peer overlay.
type PeerNetwork struct {
	*msgnet.MsgNetwork

	config Config

	// mutex guards knownPeers: the dispatcher writes, everyone else reads.
	mutex      sync.RWMutex
	knownPeers map[PeerId]*Peer

	// pendingPeers maps addresses of connections that have not finished
	// their handshake; dispatcher-owned.
	pendingPeers map[netaddr.NetAddr]*Conn

	// listenAddr is claimed in handshakes; dispatcher-owned.
	listenAddr netaddr.NetAddr

	peerCb        PeerCallback
	unknownPeerCb UnknownPeerCallback
}

// NewPeerNetwork creates a PeerNetwork and registers its handshake
// handlers.
func NewPeerNetwork(config Config) *PeerNetwork {
	pn := &PeerNetwork{
		config:       config,
		knownPeers:   make(map[PeerId]*Peer),
		pendingPeers: make(map[netaddr.NetAddr]*Conn),
	}
	pn.MsgNetwork = msgnet.NewMsgNetwork(config.Config, msgnet.Hooks{
		OnCreate:   pn.onCreate,
		OnSetup:    pn.onSetup,
		OnTeardown: pn.onTeardown,
		OnFrame:    pn.onFrame,
	})

	pn.RegHandler(config.OpcodePing, pn.pingHandler)
	pn.RegHandler(config.OpcodePong, pn.pongHandler)

	return pn
}

// RegPeerHandler registers the peer callback. Must be called before Start.
func (pn *PeerNetwork) RegPeerHandler(cb PeerCallback) {
	pn.peerCb = cb
}

// RegUnknownPeerHandler registers the unknown peer callback. Must be called
// before Start.
func (pn *PeerNetwork) RegUnknownPeerHandler(cb UnknownPeerCallback) {
	pn.unknownPeerCb = cb
}

// Listen binds the listen socket and fixes the address claimed in
// handshakes.
func (pn *PeerNetwork) Listen(addr netaddr.NetAddr) error {
	if err := pn.MsgNetwork.Listen(addr); err != nil {
		return err
	}

	bound, err := pn.ListenAddr()
	if err != nil {
		return err
	}
	if bound.IP == ([4]byte{0, 0, 0, 0}) {
		// A wildcard bind still claims the configured address.
		bound.IP = addr.IP
	}

	pn.Pool().DispatchCall(func() interface{} {
		pn.listenAddr = bound
		return nil
	})

	return nil
}

// AddPeer registers an empty peer. Duplicate registration surfaces
// ErrPeerAlreadyExists through the error callback.
func (pn *PeerNetwork) AddPeer(pid PeerId) int32 {
	id := pn.Pool().GenAsyncID()
	pn.Pool().DispatchPost(func() {
		pn.mutex.Lock()
		defer pn.mutex.Unlock()

		if _, exists := pn.knownPeers[pid]; exists {
			pn.Pool().RecoverableError(ErrPeerAlreadyExists, id)
			return
		}
		pn.knownPeers[pid] = newPeer(pid, pn)

		log.WithFields(log.Fields{
			"peer": pid.String(),
		}).Info("PeerNetwork: added peer")
	})
	return id
}

// DelPeer unregisters a peer, terminating its connections.
func (pn *PeerNetwork) DelPeer(pid PeerId) int32 {
	id := pn.Pool().GenAsyncID()
	pn.Pool().DispatchPost(func() {
		pn.mutex.Lock()
		defer pn.mutex.Unlock()

		p, exists := pn.knownPeers[pid]
		if !exists {
			pn.Pool().RecoverableError(ErrPeerNotExist, id)
			return
		}

		p.pingTimer.Del()
		p.retryTimer.Del()
		if p.conn != nil {
			pn.Terminate(p.conn)
		}
		p.clearConns()
		delete(pn.knownPeers, pid)

		if pending, ok := pn.pendingPeers[p.addr]; ok {
			if pending.peer == nil {
				pn.Terminate(pending)
			}
			delete(pn.pendingPeers, p.addr)
		}

		log.WithFields(log.Fields{
			"peer": pid.String(),
		}).Info("PeerNetwork: removed peer")
	})
	return id
}

// SetPeerAddr sets the address used for active attempts and the address
// based identity; must precede ConnPeer.
func (pn *PeerNetwork) SetPeerAddr(pid PeerId, addr netaddr.NetAddr) int32 {
	id := pn.Pool().GenAsyncID()
	pn.Pool().DispatchPost(func() {
		pn.mutex.RLock()
		defer pn.mutex.RUnlock()

		p, exists := pn.knownPeers[pid]
		if !exists {
			pn.Pool().RecoverableError(ErrPeerNotExist, id)
			return
		}
		p.addr = addr
	})
	return id
}

// ConnPeer starts or resets active connection attempts: ntry = -1 retries
// forever, ntry = 0 disables retrying, any other value is the number of
// attempts left. An established peer is reset, i.e. its channel terminates
// and comes back through the usual teardown and retry path.
func (pn *PeerNetwork) ConnPeer(pid PeerId, ntry int, retryDelay time.Duration) int32 {
	id := pn.Pool().GenAsyncID()
	pn.Pool().DispatchPost(func() {
		pn.mutex.RLock()
		defer pn.mutex.RUnlock()

		p, exists := pn.knownPeers[pid]
		if !exists {
			pn.Pool().RecoverableError(ErrPeerNotExist, id)
			return
		}
		if p.addr.IsNull() {
			pn.Pool().RecoverableError(ErrPeerNotReady, id)
			return
		}

		p.ntry = ntry
		p.retryDelay = retryDelay
		p.inboundConn = nil
		p.outboundConn = nil
		p.pingTimer.Del()
		p.nonce = 0

		// An established connection is terminated first; the teardown
		// path starts the next attempt.
		if p.conn == nil || p.state == peerDisconnected {
			pn.startActiveConn(p)
		} else if p.state == peerConnected {
			p.state = peerReset
			pn.Terminate(p.conn)
		}
	})
	return id
}

// HasPeer reports whether the peer id is registered.
func (pn *PeerNetwork) HasPeer(pid PeerId) bool {
	pn.mutex.RLock()
	defer pn.mutex.RUnlock()

	_, exists := pn.knownPeers[pid]
	return exists
}

// GetPeerConn returns the established connection of a peer, nil while
// disconnected.
func (pn *PeerNetwork) GetPeerConn(pid PeerId) (*Conn, error) {
	result, ok := pn.Pool().DispatchCall(func() interface{} {
		pn.mutex.RLock()
		defer pn.mutex.RUnlock()

		p, exists := pn.knownPeers[pid]
		if !exists {
			return ErrPeerNotExist
		}
		return p.conn
	})
	if !ok {
		return nil, connpool.ErrPoolStopped
	}
	if err, isErr := result.(error); isErr {
		return nil, err
	}
	conn, _ := result.(*Conn)
	return conn, nil
}

// GetNPending returns the number of connections still in handshake.
func (pn *PeerNetwork) GetNPending() int {
	result, ok := pn.Pool().DispatchCall(func() interface{} {
		return len(pn.pendingPeers)
	})
	if !ok {
		return 0
	}
	return result.(int)
}

// SendMsgToPeer sends immediately over the peer's established connection.
// It reports false while the peer is not resolved.
func (pn *PeerNetwork) SendMsgToPeer(mm msg.Msg, pid PeerId) bool {
	pn.mutex.RLock()
	defer pn.mutex.RUnlock()

	p, exists := pn.knownPeers[pid]
	if !exists || p.conn == nil {
		return false
	}
	return pn.SendMsg(mm, p.conn.Conn)
}

// SendMsgDeferredToPeer posts the send to the dispatcher; failure surfaces
// ErrConnNotReady under the returned async-id.
func (pn *PeerNetwork) SendMsgDeferredToPeer(mm msg.Msg, pid PeerId) int32 {
	id := pn.Pool().GenAsyncID()
	pn.Pool().DispatchPost(func() {
		if !pn.SendMsgToPeer(mm, pid) {
			pn.Pool().RecoverableError(msgnet.ErrConnNotReady, id)
		}
	})
	return id
}

// MulticastMsg serializes once and enqueues the same bytes to every
// resolved peer. Any unresolved peer surfaces one ErrConnNotReady under the
// returned async-id; resolved peers still receive the message.
func (pn *PeerNetwork) MulticastMsg(mm msg.Msg, pids []PeerId) int32 {
	id := pn.Pool().GenAsyncID()
	data := mm.Serialize()

	pn.Pool().DispatchPost(func() {
		pn.mutex.RLock()
		defer pn.mutex.RUnlock()

		succ := true
		for _, pid := range pids {
			p, exists := pn.knownPeers[pid]
			if !exists || p.conn == nil {
				succ = false
				continue
			}
			if !p.conn.Write(data) {
				succ = false
			}
		}
		if !succ {
			pn.Pool().RecoverableError(msgnet.ErrConnNotReady, id)
		}
	})
	return id
}

// peerID derives the identity of the remote side of a connection.
func (pn *PeerNetwork) peerID(conn *Conn, addr netaddr.NetAddr) PeerId {
	if pn.config.IDMode == AddrBased || conn.PeerCert() == nil {
		return NewPeerIdFromAddr(addr)
	}
	return NewPeerIdFromCert(conn.PeerCert())
}

// connExt maps a msgnet connection to its overlay wrapper.
func connExt(mc *msgnet.Conn) *Conn {
	return mc.Ext().(*Conn)
}

func (pn *PeerNetwork) onCreate(mc *msgnet.Conn) {
	mc.SetExt(&Conn{Conn: mc})
}

// onSetup runs on the dispatcher for every established connection: arm the
// liveness timeout, track the handshake attempt, and - on the initiating
// side - send the handshake ping.
func (pn *PeerNetwork) onSetup(mc *msgnet.Conn) error {
	conn := connExt(mc)

	conn.timeout = tcall.NewTimer(conn.WorkerLoop(), func() {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Info("PeerNetwork: connection timed out")
		pn.Terminate(conn)
	})
	conn.timeout.Reset(pn.config.ConnTimeout)

	pn.replacePendingConn(conn)

	if conn.Mode() == connpool.ConnActive {
		pid := pn.peerID(conn, conn.Addr())

		pn.mutex.RLock()
		defer pn.mutex.RUnlock()

		p, exists := pn.knownPeers[pid]
		if !exists {
			log.WithFields(log.Fields{
				"conn": conn.String(),
			}).Warn("PeerNetwork: outbound connection to an unregistered peer")
			return ErrPeerNotExist
		}

		nonce, err := p.getNonce()
		if err != nil {
			return err
		}
		pn.SendMsg(pn.NewMsg(pn.config.OpcodePing,
			newHandshakePayload(pn.listenAddr, nonce).encode()), mc)
	}

	return nil
}

// onTeardown runs on the dispatcher for every dying connection and drives
// the disconnect bookkeeping plus the retry logic.
func (pn *PeerNetwork) onTeardown(mc *msgnet.Conn) {
	conn := connExt(mc)

	if conn.timeout != nil {
		conn.timeout.Del()
	}
	if pn.pendingPeers[conn.Addr()] == conn {
		delete(pn.pendingPeers, conn.Addr())
	}

	p := conn.peer
	if p == nil {
		return
	}

	pn.mutex.RLock()
	defer pn.mutex.RUnlock()

	reset := p.state == peerReset
	wasChosen := p.conn == conn
	wasOutbound := p.outboundConn == conn

	if wasChosen {
		p.state = peerDisconnected
		p.conn = nil
		p.chosenConn = nil
		p.inboundConn = nil
		p.outboundConn = nil
		p.pingTimer.Del()
		p.nonce = 0
		conn.peer = nil

		log.WithFields(log.Fields{
			"peer": p.id.String(),
			"conn": conn.String(),
		}).Info("PeerNetwork: peer connection lost")

		pn.Pool().UserPost(func() {
			if pn.peerCb != nil {
				pn.peerCb(conn, false)
			}
		})
	} else {
		if p.inboundConn == conn {
			p.inboundConn = nil
		}
		if p.outboundConn == conn {
			p.outboundConn = nil
		}
		conn.peer = nil

		// A losing candidate dying while the peer stays connected must
		// not trigger an attempt.
		if p.state == peerConnected {
			return
		}
	}

	if (!wasChosen && !wasOutbound) || p.addr.IsNull() {
		return
	}

	if p.ntry > 0 {
		p.ntry--
	}
	if p.ntry != 0 {
		delay := jitterDelay(p.retryDelay)
		if reset {
			delay = 0
		}
		p.retryTimer.Reset(delay)
	}
}

// onFrame runs on the reader goroutine: every inbound frame proves
// liveness.
func (pn *PeerNetwork) onFrame(mc *msgnet.Conn) {
	conn := connExt(mc)
	if conn.timeout != nil {
		conn.timeout.Reset(pn.config.ConnTimeout)
	}
}

// replacePendingConn tracks conn as the one handshake attempt for its
// address, terminating a stale concurrent attempt.
func (pn *PeerNetwork) replacePendingConn(conn *Conn) {
	if old, exists := pn.pendingPeers[conn.Addr()]; exists && old != conn {
		pn.Terminate(old)
	}
	pn.pendingPeers[conn.Addr()] = conn
}

// startActiveConn runs on the dispatcher under at least a read lock.
func (pn *PeerNetwork) startActiveConn(p *Peer) {
	conn := connExt(pn.DispatchConnect(p.addr))
	p.outboundConn = conn
	conn.peer = p
	pn.replacePendingConn(conn)
}

// peerRetryTimer fires on the dispatcher to start the next attempt.
func (pn *PeerNetwork) peerRetryTimer(p *Peer) {
	pn.mutex.RLock()
	defer pn.mutex.RUnlock()

	if p.state != peerDisconnected || p.addr.IsNull() {
		return
	}
	log.WithFields(log.Fields{
		"peer": p.id.String(),
		"ntry": p.ntry,
	}).Debug("PeerNetwork: retrying connection")

	pn.startActiveConn(p)
}

// Terminate kills a connection.
func (pn *PeerNetwork) Terminate(conn *Conn) {
	pn.MsgNetwork.Terminate(conn.Conn)
}

// finishHandshake runs on the dispatcher on the side that won the
// tie-break: promote the chosen connection, migrate unsent bytes from a
// previously terminated channel and start the heartbeat.
func (pn *PeerNetwork) finishHandshake(p *Peer) {
	if p.inboundConn != nil && p.inboundConn != p.chosenConn {
		p.inboundConn.peer = nil
	}
	if p.outboundConn != nil && p.outboundConn != p.chosenConn {
		p.outboundConn.peer = nil
	}

	p.state = peerConnected
	p.retryTimer.Del()

	oldConn := p.conn
	newConn := p.chosenConn
	if oldConn != nil && oldConn != newConn {
		// Bytes still queued on the dead channel move over, so messages
		// sent during the swap are not lost.
		for {
			seg, ok := oldConn.PopSendSegment()
			if !ok {
				break
			}
			newConn.Write(seg)
		}
		oldConn.peer = nil
	}
	p.conn = newConn
	newConn.peer = p

	pn.resetPingTimer(p)
	pn.sendPing(p)

	delete(pn.pendingPeers, newConn.Addr())

	log.WithFields(log.Fields{
		"listen": pn.listenAddr,
		"peer":   p.id.String(),
		"conn":   newConn.String(),
	}).Info("PeerNetwork: established peer connection")

	pn.Pool().UserPost(func() {
		if pn.peerCb != nil {
			pn.peerCb(newConn, true)
		}
	})
}

// sendPing emits a heartbeat ping and re-arms the liveness timeout.
func (pn *PeerNetwork) sendPing(p *Peer) {
	p.pingTimerOK = false
	p.pongMsgOK = false
	if p.conn.timeout != nil {
		p.conn.timeout.Reset(pn.config.ConnTimeout)
	}
	pn.SendMsg(pn.NewMsg(pn.config.OpcodePing, pingPong{}.encode()), p.conn.Conn)
}

func (pn *PeerNetwork) resetPingTimer(p *Peer) {
	p.pingTimer.Reset(jitterDelay(pn.config.PingPeriod))
}

// peerPingTimer fires on the dispatcher once the heartbeat period elapsed.
// The next ping waits until the previous pong arrived as well.
func (pn *PeerNetwork) peerPingTimer(p *Peer) {
	pn.mutex.RLock()
	defer pn.mutex.RUnlock()

	if p.state != peerConnected {
		return
	}
	p.pingTimerOK = true
	if p.pongMsgOK {
		pn.resetPingTimer(p)
		pn.sendPing(p)
	}
}

// pingHandler runs on the user loop for both heartbeat and handshake pings
// and forwards the work to the dispatcher.
func (pn *PeerNetwork) pingHandler(mm msg.Msg, mc *msgnet.Conn) {
	pp, err := decodePingPong(mm.Payload())
	if err != nil {
		log.WithFields(log.Fields{
			"conn":  mc.String(),
			"error": err,
		}).Warn("PeerNetwork: malformed ping")
		return
	}

	pn.Pool().DispatchPost(func() {
		conn := connExt(mc)
		if conn.Mode() == connpool.ConnDead {
			return
		}

		if !pp.hasClaim {
			// heartbeat ping
			pn.SendMsg(pn.NewMsg(pn.config.OpcodePong, pingPong{}.encode()), mc)
			return
		}

		pn.inboundHandshake(conn, pp)
	})
}

// inboundHandshake runs on the dispatcher on the passive side of a
// handshake ping.
func (pn *PeerNetwork) inboundHandshake(conn *Conn, pp pingPong) {
	if conn.Mode() != connpool.ConnPassive {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Warn("PeerNetwork: unexpected inbound handshake")
		return
	}

	pid := pn.peerID(conn, pp.claimed)

	pn.mutex.Lock()
	defer pn.mutex.Unlock()

	p, exists := pn.knownPeers[pid]
	if !exists {
		pn.Pool().UserPost(func() {
			if pn.unknownPeerCb != nil {
				pn.unknownPeerCb(pp.claimed, conn.PeerCert())
			}
		})
		if !pn.config.AllowUnknownPeer {
			pn.Terminate(conn)
			return
		}
		// The address stays unset: this side never initiated, so the
		// inbound connection wins the tie-break unconditionally below.
		p = newPeer(pid, pn)
		pn.knownPeers[pid] = p

		log.WithFields(log.Fields{
			"peer": pid.String(),
			"addr": pp.claimed,
		}).Info("PeerNetwork: accepted unknown peer")
	}

	if p.state != peerDisconnected {
		// The peer already has a channel: this attempt is a stale
		// duplicate and is closed right away.
		if conn != p.conn {
			pn.Terminate(conn)
		}
		return
	}
	if !p.addr.IsNull() && p.addr != pp.claimed {
		return
	}

	log.WithFields(log.Fields{
		"listen": pn.listenAddr,
		"conn":   conn.String(),
	}).Info("PeerNetwork: inbound handshake")

	ownNonce := passiveNonce
	if !p.addr.IsNull() {
		var err error
		if ownNonce, err = p.getNonce(); err != nil {
			pn.Pool().FatalError(err)
			return
		}
	}
	pn.SendMsg(pn.NewMsg(pn.config.OpcodePong,
		newHandshakePayload(pn.listenAddr, ownNonce).encode()), conn.Conn)

	if old := p.inboundConn; old != nil && old != conn {
		log.WithFields(log.Fields{
			"conn": old.String(),
		}).Debug("PeerNetwork: terminating stale handshake connection")
		old.peer = nil
		pn.Terminate(old)
	}
	p.inboundConn = conn
	conn.peer = p

	// The side whose nonce is larger keeps its inbound connection; a side
	// that never initiated keeps it unconditionally.
	if pp.nonce < ownNonce || p.addr.IsNull() {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Debug("PeerNetwork: inbound connection chosen")
		p.chosenConn = conn
		pn.finishHandshake(p)
	} else {
		log.WithFields(log.Fields{
			"theirs": pp.nonce,
			"ours":   ownNonce,
		}).Debug("PeerNetwork: inbound connection lost the tie-break")
		pn.Terminate(conn)
	}
}

// pongHandler runs on the user loop for both heartbeat and handshake pongs
// and forwards the work to the dispatcher.
func (pn *PeerNetwork) pongHandler(mm msg.Msg, mc *msgnet.Conn) {
	pp, err := decodePingPong(mm.Payload())
	if err != nil {
		log.WithFields(log.Fields{
			"conn":  mc.String(),
			"error": err,
		}).Warn("PeerNetwork: malformed pong")
		return
	}

	pn.Pool().DispatchPost(func() {
		conn := connExt(mc)
		if conn.Mode() == connpool.ConnDead {
			return
		}

		if !pp.hasClaim {
			pn.heartbeatPong(conn)
			return
		}

		pn.outboundHandshake(conn, pp)
	})
}

// outboundHandshake runs on the dispatcher on the active side once the
// passive side answered.
func (pn *PeerNetwork) outboundHandshake(conn *Conn, pp pingPong) {
	if conn.Mode() != connpool.ConnActive {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Warn("PeerNetwork: unexpected outbound handshake")
		return
	}

	pid := pn.peerID(conn, conn.Addr())

	pn.mutex.Lock()
	defer pn.mutex.Unlock()

	p, exists := pn.knownPeers[pid]
	if !exists {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Warn("PeerNetwork: pong from an unknown peer")
		pn.Terminate(conn)
		return
	}

	if p.state != peerDisconnected || p.addr != pp.claimed {
		return
	}

	log.WithFields(log.Fields{
		"listen": pn.listenAddr,
		"conn":   conn.String(),
	}).Info("PeerNetwork: outbound handshake")

	if old := p.outboundConn; old != nil && old != conn {
		log.WithFields(log.Fields{
			"conn": old.String(),
		}).Debug("PeerNetwork: terminating stale handshake connection")
		old.peer = nil
		pn.Terminate(old)
	}
	p.outboundConn = conn
	conn.peer = p

	ownNonce, err := p.getNonce()
	if err != nil {
		pn.Pool().FatalError(err)
		return
	}

	// Mirror comparison of the passive side: the outbound connection wins
	// exactly when the remote nonce is larger.
	if ownNonce < pp.nonce {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Debug("PeerNetwork: outbound connection chosen")
		p.chosenConn = conn
		pn.finishHandshake(p)
	} else {
		log.WithFields(log.Fields{
			"ours":   ownNonce,
			"theirs": pp.nonce,
		}).Debug("PeerNetwork: outbound connection lost the tie-break, resetting nonce")
		p.nonce = 0
		pn.Terminate(conn)
	}
}

// heartbeatPong runs on the dispatcher when the peer answered a heartbeat.
func (pn *PeerNetwork) heartbeatPong(conn *Conn) {
	p := conn.peer
	if p == nil {
		log.WithFields(log.Fields{
			"conn": conn.String(),
		}).Warn("PeerNetwork: unexpected pong")
		return
	}

	p.pongMsgOK = true
	if p.pingTimerOK {
		pn.resetPingTimer(p)
		pn.sendPing(p)
	}
}
