// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcall implements the thread-call primitive: an event loop owned by
// one goroutine, fed by closures posted from any other goroutine, plus
// loop-bound timers. All cross-loop communication in this repository routes
// through it.
package tcall

import "sync"

// Loop executes posted closures sequentially on the goroutine running Run.
type Loop struct {
	mutex    sync.Mutex
	notEmpty *sync.Cond

	queue   []func()
	stopped bool

	stopAck chan struct{}
}

// NewLoop creates a Loop. It processes nothing until Run is called.
func NewLoop() *Loop {
	l := &Loop{stopAck: make(chan struct{})}
	l.notEmpty = sync.NewCond(&l.mutex)

	return l
}

// Run processes posted closures until Stop is called. It is meant to be the
// body of the owning goroutine.
func (l *Loop) Run() {
	for {
		l.mutex.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.notEmpty.Wait()
		}
		if l.stopped {
			l.mutex.Unlock()
			close(l.stopAck)
			return
		}
		f := l.queue[0]
		l.queue = l.queue[1:]
		l.mutex.Unlock()

		f()
	}
}

// Post enqueues a closure for asynchronous execution on the loop. It reports
// false if the loop has been stopped, in which case f is dropped.
func (l *Loop) Post(f func()) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.stopped {
		return false
	}

	l.queue = append(l.queue, f)
	l.notEmpty.Signal()

	return true
}

// Call runs f on the loop and blocks the calling goroutine until f's result
// is available. It reports false if the loop has been stopped. Must not be
// invoked from the loop's own goroutine.
func (l *Loop) Call(f func() interface{}) (result interface{}, ok bool) {
	oneShot := make(chan interface{}, 1)

	if !l.Post(func() { oneShot <- f() }) {
		return nil, false
	}

	select {
	case result = <-oneShot:
		return result, true
	case <-l.stopAck:
		return nil, false
	}
}

// Stop terminates the loop. Closures not yet executed are dropped; Stop
// returns after Run has come to its end. Stopping twice is allowed, stopping
// a loop that never ran is not.
func (l *Loop) Stop() {
	l.mutex.Lock()
	if l.stopped {
		l.mutex.Unlock()
		<-l.stopAck
		return
	}
	l.stopped = true
	l.queue = nil
	l.notEmpty.Broadcast()
	l.mutex.Unlock()

	<-l.stopAck
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.stopped
}
