// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgnet

import (
	"sync"

	"github.com/yhzhang0128/salticidae/connpool"
	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/netaddr"
)

// ClientNetwork serves client-server style requests: it accepts connections
// like a MsgNetwork and additionally indexes them by remote address, so a
// server side handler can answer a client it only knows by address.
type ClientNetwork struct {
	*MsgNetwork

	mutex     sync.RWMutex
	addr2conn map[netaddr.NetAddr]*Conn
}

// NewClientNetwork creates a ClientNetwork.
func NewClientNetwork(config Config) *ClientNetwork {
	c := &ClientNetwork{
		addr2conn: make(map[netaddr.NetAddr]*Conn),
	}
	c.MsgNetwork = NewMsgNetwork(config, Hooks{
		OnSetup:    c.onSetup,
		OnTeardown: c.onTeardown,
	})

	return c
}

func (c *ClientNetwork) onSetup(conn *Conn) error {
	if conn.Mode() != connpool.ConnPassive {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.addr2conn[conn.Addr()] = conn

	return nil
}

func (c *ClientNetwork) onTeardown(conn *Conn) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.addr2conn[conn.Addr()] == conn {
		delete(c.addr2conn, conn.Addr())
	}
}

// SendMsgByAddr sends to the client accepted from addr. ErrClientNotExist
// is returned when no such client is connected.
func (c *ClientNetwork) SendMsgByAddr(mm msg.Msg, addr netaddr.NetAddr) error {
	c.mutex.RLock()
	conn, exists := c.addr2conn[addr]
	c.mutex.RUnlock()

	if !exists {
		return ErrClientNotExist
	}
	if !c.SendMsg(mm, conn) {
		return ErrConnNotReady
	}

	return nil
}

// SendMsgDeferredByAddr is the deferred variant of SendMsgByAddr; failures
// surface through the error callback under the returned async-id.
func (c *ClientNetwork) SendMsgDeferredByAddr(mm msg.Msg, addr netaddr.NetAddr) int32 {
	id := c.pool.GenAsyncID()
	c.pool.DispatchPost(func() {
		if err := c.SendMsgByAddr(mm, addr); err != nil {
			c.pool.RecoverableError(err, id)
		}
	})
	return id
}
