// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcall

import (
	"sync"
	"time"
)

// Timer schedules a callback onto its Loop. Reset and Del may be called from
// any goroutine and are idempotent; a timer firing concurrently with Del is
// suppressed and never runs its callback afterwards.
type Timer struct {
	loop *Loop
	cb   func()

	mutex sync.Mutex
	inner *time.Timer
	gen   uint64
}

// NewTimer creates an unarmed Timer whose callback will run on loop.
func NewTimer(loop *Loop, cb func()) *Timer {
	return &Timer{loop: loop, cb: cb}
}

// Reset (re-)arms the timer to fire once after d.
func (t *Timer) Reset(d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.gen++
	gen := t.gen

	if t.inner != nil {
		t.inner.Stop()
	}
	t.inner = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			t.mutex.Lock()
			stale := t.gen != gen
			t.mutex.Unlock()

			if !stale {
				t.cb()
			}
		})
	})
}

// Del disarms the timer. A pending fire is cancelled even if the underlying
// runtime timer already expired.
func (t *Timer) Del() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.gen++
	if t.inner != nil {
		t.inner.Stop()
		t.inner = nil
	}
}
