//go:build linux

// File: server/conn.go
// Author: momentics <momentics@gmail.com>
//
// Per-connection state: owned descriptor, read buffer and the FIFO of
// bytes accepted for echo but not yet written out.

package server

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-reactor/socket"
)

// outBuf is one queued write with a progress offset, so a partially
// flushed buffer keeps its place at the head of the queue.
type outBuf struct {
	data []byte
	off  int
}

func (b *outBuf) remaining() []byte { return b.data[b.off:] }

// conn is one accepted connection. The server owns the descriptor through
// sock and is the only party that closes it.
type conn struct {
	sock    *socket.Socket
	readBuf []byte
	pending *queue.Queue // of *outBuf, oldest first
}

func newConn(fd, readBufSize int) *conn {
	return &conn{
		sock:    socket.New(fd),
		readBuf: make([]byte, readBufSize),
		pending: queue.New(),
	}
}

// enqueue copies p onto the pending queue. The copy is required because
// the read buffer is reused on the next readiness callback.
func (c *conn) enqueue(p []byte) {
	buf := make([]byte, len(p))
	copy(buf, p)
	c.pending.Add(&outBuf{data: buf})
}

func (c *conn) hasPending() bool { return c.pending.Length() > 0 }
