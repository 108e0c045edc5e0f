// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgnet

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yhzhang0128/salticidae/msg"
	"github.com/yhzhang0128/salticidae/netaddr"
)

const opEcho msg.Opcode = 0x01

func getRandomPort(t *testing.T) (port int) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	port = l.Addr().(*net.TCPAddr).Port

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	return
}

func localAddr(port int) netaddr.NetAddr {
	return netaddr.NetAddr{IP: [4]byte{127, 0, 0, 1}, Port: uint16(port)}
}

// TestMsgNetworkEcho is the single-connection echo scenario: a listener
// answering opcode 0x01 with the same payload, a client expecting it back
// exactly once.
func TestMsgNetworkEcho(t *testing.T) {
	port := getRandomPort(t)

	server := NewMsgNetwork(DefaultConfig(), Hooks{})
	server.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		server.SendMsg(server.NewMsg(opEcho, m.Payload()), conn)
	})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	echoed := make(chan []byte, 16)
	connected := make(chan *Conn, 1)

	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		echoed <- m.Payload()
	})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	if !client.SendMsg(client.NewMsg(opEcho, []byte("hello")), conn) {
		t.Fatal("send failed")
	}

	select {
	case payload := <-echoed:
		if !bytes.Equal(payload, []byte("hello")) {
			t.Fatalf("echoed %q", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no echo arrived")
	}

	select {
	case payload := <-echoed:
		t.Fatalf("unexpected second echo %q", payload)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestMsgNetworkOversized sends a frame announcing a payload beyond the
// server's MaxMsgSize. The server must terminate the connection, surface
// ErrOversizedMsg and never invoke a handler.
func TestMsgNetworkOversized(t *testing.T) {
	port := getRandomPort(t)

	var handled int32
	errs := make(chan error, 16)

	serverConfig := DefaultConfig()
	serverConfig.MaxMsgSize = 16

	server := NewMsgNetwork(serverConfig, Hooks{})
	server.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		atomic.AddInt32(&handled, 1)
	})
	server.RegErrorHandler(func(err error, fatal bool, asyncID int32) {
		errs <- err
	})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	connected := make(chan *Conn, 1)
	disconnected := make(chan *Conn, 1)

	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		} else {
			disconnected <- conn
		}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	client.SendMsg(client.NewMsg(opEcho, make([]byte, 1024)), conn)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrOversizedMsg) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no oversized message error")
	}

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not terminated")
	}

	if n := atomic.LoadInt32(&handled); n != 0 {
		t.Fatalf("handler ran %d times for a dropped message", n)
	}
}

// TestMsgNetworkBackpressure floods a tiny inbox. No message may be lost or
// reordered; reads pause instead.
func TestMsgNetworkBackpressure(t *testing.T) {
	port := getRandomPort(t)

	const total = 64

	serverConfig := DefaultConfig()
	serverConfig.MaxMsgQueueSize = 4
	serverConfig.BurstSize = 2

	received := make(chan uint8, total)

	server := NewMsgNetwork(serverConfig, Hooks{})
	server.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		time.Sleep(time.Millisecond) // slow consumer
		received <- m.Payload()[0]
	})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	connected := make(chan *Conn, 1)
	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	for i := 0; i < total; i++ {
		if !client.SendMsg(client.NewMsg(opEcho, []byte{uint8(i)}), conn) {
			t.Fatalf("send %d failed", i)
		}
	}

	for i := 0; i < total; i++ {
		select {
		case seq := <-received:
			if seq != uint8(i) {
				t.Fatalf("message %d arrived as %d", i, seq)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

// TestMsgNetworkUnknownOpcode verifies that frames without a handler are
// dropped without affecting the connection.
func TestMsgNetworkUnknownOpcode(t *testing.T) {
	port := getRandomPort(t)

	received := make(chan struct{}, 1)

	server := NewMsgNetwork(DefaultConfig(), Hooks{})
	server.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		received <- struct{}{}
	})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	connected := make(chan *Conn, 1)
	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	client.SendMsg(client.NewMsg(0x7f, []byte("nobody home")), conn)
	client.SendMsg(client.NewMsg(opEcho, []byte("somebody home")), conn)

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("the known opcode must still be delivered")
	}
}

// TestClientNetworkByAddr exercises the address-indexed server network.
func TestClientNetworkByAddr(t *testing.T) {
	port := getRandomPort(t)

	server := NewClientNetwork(DefaultConfig())
	server.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		if err := server.SendMsgByAddr(server.NewMsg(opEcho, m.Payload()), conn.Addr()); err != nil {
			t.Errorf("SendMsgByAddr: %v", err)
		}
	})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	echoed := make(chan []byte, 1)
	connected := make(chan *Conn, 1)

	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegHandler(opEcho, func(m msg.Msg, conn *Conn) {
		echoed <- m.Payload()
	})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	client.SendMsg(client.NewMsg(opEcho, []byte("addressed")), conn)

	select {
	case payload := <-echoed:
		if !bytes.Equal(payload, []byte("addressed")) {
			t.Fatalf("echoed %q", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no echo arrived")
	}

	// A never-seen address must fail.
	bogus := netaddr.MustNewNetAddrFromString(fmt.Sprintf("127.0.0.1:%d", getRandomPort(t)))
	if err := server.SendMsgByAddr(server.NewMsg(opEcho, nil), bogus); !errors.Is(err, ErrClientNotExist) {
		t.Fatalf("unexpected error %v", err)
	}
}

// TestMsgNetworkDeferredSendDead checks that a deferred send to a dead
// connection surfaces ErrConnNotReady with the matching async-id.
func TestMsgNetworkDeferredSendDead(t *testing.T) {
	port := getRandomPort(t)

	server := NewMsgNetwork(DefaultConfig(), Hooks{})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	type asyncErr struct {
		err error
		id  int32
	}
	errs := make(chan asyncErr, 16)

	connected := make(chan *Conn, 1)
	disconnected := make(chan *Conn, 1)

	client := NewMsgNetwork(DefaultConfig(), Hooks{})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- conn
		} else {
			disconnected <- conn
		}
	})
	client.RegErrorHandler(func(err error, fatal bool, asyncID int32) {
		errs <- asyncErr{err: err, id: asyncID}
	})
	client.Start()
	defer client.Stop()

	conn, err := client.Connect(localAddr(port))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	client.Terminate(conn)
	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not terminated")
	}

	id := client.SendMsgDeferred(client.NewMsg(opEcho, []byte("too late")), conn)

	select {
	case ae := <-errs:
		if !errors.Is(ae.err, ErrConnNotReady) {
			t.Fatalf("unexpected error %v", ae.err)
		}
		if ae.id != id {
			t.Fatalf("async-id %d, expected %d", ae.id, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no deferred send error")
	}
}
