// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msgnet layers framed messages over a connection pool.
//
// A MsgNetwork reads length-prefixed frames off every connection, verifies
// their checksum and feeds them through a bounded inbox to handlers keyed by
// opcode. Handlers run on the pool's user loop, dequeued in bursts so other
// posted work interleaves fairly. Sending works from any goroutine, either
// immediately into the connection's send buffer or deferred through the
// dispatcher.
//
// A ClientNetwork specializes MsgNetwork for the server side of a
// client-server protocol: accepted connections are indexed by their remote
// address, so replies can be addressed without holding on to a handle.
package msgnet
