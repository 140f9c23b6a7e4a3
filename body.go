package milter

import (
	"github.com/emersion/go-mtamilter/internal/wire"
)

var crlf = []byte("\r\n")

// chunker packs CRLF terminated body lines into chunks of at most
// wire.ChunkSize bytes. Lines may straddle chunks.
type chunker struct {
	buf []byte
	// first is set until the first body line has been dropped.
	first bool
	// send reports one full or final chunk and returns true when no more
	// body should be sent.
	send func(chunk []byte) bool
	done bool
}

func newChunker(send func(chunk []byte) bool) *chunker {
	return &chunker{
		buf:   make([]byte, 0, wire.ChunkSize),
		first: true,
		send:  send,
	}
}

// Line adds a body line given without its terminator. It returns true once
// the receiver wants no more body.
func (c *chunker) Line(line []byte) bool {
	if c.done {
		return true
	}
	if c.first {
		c.first = false
		return false
	}
	c.write(line)
	c.write(crlf)
	return c.done
}

func (c *chunker) write(b []byte) {
	for len(b) > 0 && !c.done {
		n := copy(c.buf[len(c.buf):cap(c.buf)], b)
		c.buf = c.buf[:len(c.buf)+n]
		b = b[n:]
		if len(c.buf) == cap(c.buf) {
			c.done = c.send(c.buf)
			c.buf = c.buf[:0]
		}
	}
}

// Flush sends the partial chunk, if any.
func (c *chunker) Flush() bool {
	if !c.done && len(c.buf) > 0 {
		c.done = c.send(c.buf)
		c.buf = c.buf[:0]
	}
	return c.done
}
