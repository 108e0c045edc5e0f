// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connpool

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/yhzhang0128/salticidae/internal/tcall"
)

// worker owns an event loop plus the connections assigned to it. Worker 0 is
// the dispatcher and additionally processes all pool level commands.
type worker struct {
	loop     *tcall.Loop
	index    int
	dispFlag bool
	nconn    int32
}

func newWorker(index int) *worker {
	return &worker{
		loop:     tcall.NewLoop(),
		index:    index,
		dispFlag: index == 0,
	}
}

func (w *worker) start() {
	go w.loop.Run()
}

func (w *worker) stop() {
	w.loop.Stop()
}

func (w *worker) getNConn() int32 {
	return atomic.LoadInt32(&w.nconn)
}

// feed hands an established connection to this worker; the dispatcher has
// finalized all preparation and already accounted the connection. The worker
// spins up the connection's reader and writer goroutines under its own loop.
func (w *worker) feed(conn *Conn, onRead func(*Conn), segBuffSize int) {
	w.loop.Post(func() {
		if conn.Mode() == ConnDead {
			log.WithFields(log.Fields{
				"worker": w.index,
				"conn":   conn.String(),
			}).Info("Worker discarding dead connection")
			return
		}

		log.WithFields(log.Fields{
			"worker": w.index,
			"conn":   conn.String(),
		}).Debug("Worker got connection")

		go conn.readLoop(segBuffSize, onRead)
		go conn.writeLoop()
	})
}

// fed and unfeed run on the dispatcher only.
func (w *worker) fed() {
	atomic.AddInt32(&w.nconn, 1)
}

func (w *worker) unfeed() {
	atomic.AddInt32(&w.nconn, -1)
}
