// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcall

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopPostOrder(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Stop()

	var got []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() { close(done) })

	<-done
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order execution: %v", got)
		}
	}
}

func TestLoopCall(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Stop()

	result, ok := l.Call(func() interface{} { return 23 })
	if !ok || result.(int) != 23 {
		t.Fatalf("got %v/%t", result, ok)
	}
}

func TestLoopStop(t *testing.T) {
	l := NewLoop()
	go l.Run()

	l.Stop()
	l.Stop() // idempotent

	if l.Post(func() {}) {
		t.Fatal("post after stop must fail")
	}
	if _, ok := l.Call(func() interface{} { return nil }); ok {
		t.Fatal("call after stop must fail")
	}
}

func TestTimerFires(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{})
	timer := NewTimer(l, func() { close(fired) })
	timer.Reset(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerDel(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Stop()

	var fires int32
	timer := NewTimer(l, func() { atomic.AddInt32(&fires, 1) })

	timer.Reset(20 * time.Millisecond)
	timer.Del()
	timer.Del() // idempotent

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("deleted timer fired %d times", n)
	}
}

func TestTimerReset(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Stop()

	var fires int32
	timer := NewTimer(l, func() { atomic.AddInt32(&fires, 1) })

	// Only the last arming may fire.
	timer.Reset(10 * time.Millisecond)
	timer.Reset(50 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("stale arming fired %d times", n)
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 1 {
		t.Fatalf("timer fired %d times, expected once", n)
	}
}
