// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package connpool manages the lifecycle of TCP connections, both accepted
// and actively initiated ones, and distributes their I/O across workers.
//
// A ConnPool runs one loop goroutine per worker plus a user loop. Worker 0
// is the dispatcher: every decision about connecting, accepting and tearing
// down runs on its loop, which also exclusively owns the pool's connection
// table. Each established connection is handed to the worker with the fewest
// connections, which drives the socket through a reader and a writer
// goroutine. All callbacks visible to the embedder - the connection handler
// and the error handler - execute on the user loop.
//
// Higher layers hook into a connection's lifecycle through the Hooks slots;
// see the msgnet and peernet packages.
package connpool
