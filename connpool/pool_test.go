// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connpool

import (
	"bytes"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yhzhang0128/salticidae/netaddr"
)

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

func TestConnPoolByteEcho(t *testing.T) {
	port := getRandomPort(t)

	received := make(chan []byte, 16)

	server := NewConnPool(DefaultConfig(), Hooks{
		OnRead: func(conn *Conn) {
			rb := conn.RecvBuffer()
			data := rb.Pop(rb.Size())
			received <- data
			conn.Write(data)
		},
	})
	server.Start()
	defer server.Stop()

	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	clientRecv := make(chan []byte, 16)
	connected := make(chan *Conn, 1)

	client := NewConnPool(DefaultConfig(), Hooks{
		OnRead: func(conn *Conn) {
			rb := conn.RecvBuffer()
			clientRecv <- rb.Pop(rb.Size())
		},
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
	if conn == nil {
		t.Fatal("expected a connection handle")
	}

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not established")
	}

	if !conn.Write([]byte("ohai")) {
		t.Fatal("write failed")
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, []byte("ohai")) {
			t.Fatalf("server received %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server received nothing")
	}

	select {
	case data := <-clientRecv:
		if !bytes.Equal(data, []byte("ohai")) {
			t.Fatalf("client received %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client received no echo")
	}
}

func TestConnPoolTerminateOnce(t *testing.T) {
	port := getRandomPort(t)

	var teardowns int32

	server := NewConnPool(DefaultConfig(), Hooks{})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	connected := make(chan struct{}, 1)
	disconnected := make(chan struct{}, 1)

	client := NewConnPool(DefaultConfig(), Hooks{
		OnTeardown: func(conn *Conn) {
			atomic.AddInt32(&teardowns, 1)
		},
	})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- struct{}{}
		} else {
			disconnected <- struct{}{}
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

	client.Terminate(conn)
	client.Terminate(conn)

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect callback")
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&teardowns); n != 1 {
		t.Fatalf("teardown ran %d times", n)
	}
	if conn.Mode() != ConnDead {
		t.Fatalf("mode = %v, expected dead", conn.Mode())
	}
	if conn.Write([]byte("x")) {
		t.Fatal("write on a dead connection must fail")
	}
}

func TestConnPoolConnectFailure(t *testing.T) {
	port := getRandomPort(t) // nothing listens here

	var teardowns int32
	var setups int32

	config := DefaultConfig()
	config.ConnServerTimeout = 500 * time.Millisecond

	client := NewConnPool(config, Hooks{
		OnSetup: func(conn *Conn) error {
			atomic.AddInt32(&setups, 1)
			return nil
		},
		OnTeardown: func(conn *Conn) {
			atomic.AddInt32(&teardowns, 1)
		},
	})
	client.Start()
	defer client.Stop()

	if _, err := client.Connect(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&teardowns) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("teardown for the failed connect never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := atomic.LoadInt32(&setups); n != 0 {
		t.Fatalf("setup ran %d times for a refused connect", n)
	}
}

func TestConnPoolWorkerSelection(t *testing.T) {
	port := getRandomPort(t)

	config := DefaultConfig()
	config.NWorker = 3

	server := NewConnPool(config, Hooks{})
	server.Start()
	defer server.Stop()
	if err := server.Listen(localAddr(port)); err != nil {
		t.Fatal(err)
	}

	const nconns = 6

	connected := make(chan struct{}, nconns)
	client := NewConnPool(DefaultConfig(), Hooks{})
	client.RegConnHandler(func(conn *Conn, isConnected bool) {
		if isConnected {
			connected <- struct{}{}
		}
	})
	client.Start()
	defer client.Stop()

	for i := 0; i < nconns; i++ {
		if _, err := client.Connect(localAddr(port)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < nconns; i++ {
		select {
		case <-connected:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d connections were established", i)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for server.NConn() != nconns {
		if time.Now().After(deadline) {
			t.Fatalf("server pool holds %d connections, expected %d", server.NConn(), nconns)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Least-loaded assignment spreads six connections evenly over three
	// workers.
	for i, w := range server.workers {
		if n := w.getNConn(); n != 2 {
			t.Fatalf("worker %d drives %d connections, expected 2", i, n)
		}
	}
}

func TestConnPoolListenAddr(t *testing.T) {
	server := NewConnPool(DefaultConfig(), Hooks{})
	server.Start()
	defer server.Stop()

	if err := server.Listen(localAddr(0)); err != nil {
		t.Fatal(err)
	}

	addr, err := server.ListenAddr()
	if err != nil {
		t.Fatal(err)
	}
	if addr.Port == 0 {
		t.Fatal("expected a bound port")
	}
}
