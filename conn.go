package eio

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kurosemi/eio/errorx"
	"golang.org/x/sys/unix"
)

// IOResult classifies the outcome of a receive or send pass. The reactor
// uses it to decide teardown; I/O conditions are never surfaced as panics
// or process errors.
type IOResult int

const (
	// IOSuccess means all currently possible work was done; the
	// connection stays up.
	IOSuccess IOResult = iota
	// IOClosed means the peer closed or reset the connection.
	IOClosed
	// IOError means an unrecoverable socket error; the connection must be
	// torn down.
	IOError
)

func (r IOResult) String() string {
	switch r {
	case IOSuccess:
		return "success"
	case IOClosed:
		return "closed"
	case IOError:
		return "error"
	}
	return "unknown"
}

// interest is the slice of the reactor a connection needs: re-arming its
// readiness registration when writable data remains queued.
type interest interface {
	modReadWrite(c *Conn) error
}

// Conn is one accepted connection. It exclusively owns its descriptor and
// every queued send buffer until the buffer retires. All socket I/O happens
// on the owning event loop's goroutine; enqueueing outbound data is the
// only cross-goroutine entry point.
type Conn struct {
	Name       string
	fd         int
	id         uint64
	remoteAddr net.Addr

	el      *eventLoop
	reactor interest
	logger  *slog.Logger
	bufs    *socketBufSizes

	closed   atomic.Bool
	closeErr error

	mu    sync.Mutex
	queue []SendBuffer

	inbound *Buffer
}

//go:norace
func (c *Conn) ID() uint64 {
	return c.id
}

//go:norace
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Write queues p (copied) and immediately attempts to flush the queue. It
// must only be called from the connection's event-loop goroutine; use
// AsyncWrite from anywhere else.
func (c *Conn) Write(p []byte) IOResult {
	c.enqueue(NewSendBuffer(p))
	return c.Send()
}

// WriteBuffer queues sb and immediately attempts to flush the queue, from
// the event-loop goroutine only.
func (c *Conn) WriteBuffer(sb SendBuffer) IOResult {
	c.enqueue(sb)
	return c.Send()
}

// AsyncWrite queues p (copied) from any goroutine and re-arms the reactor
// so the owning loop performs the actual transmission.
func (c *Conn) AsyncWrite(p []byte) error {
	return c.AsyncWriteBuffer(NewSendBuffer(p))
}

// AsyncWriteBuffer queues sb from any goroutine. Ownership of sb passes to
// the connection; it is disposed once retired.
func (c *Conn) AsyncWriteBuffer(sb SendBuffer) error {
	// The closed check shares the queue mutex with release so a buffer can
	// never slip in after the queue has been disposed.
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		sb.Release()
		return errorx.ErrConnClosed
	}
	c.queue = append(c.queue, sb)
	c.mu.Unlock()
	return c.reactor.modReadWrite(c)
}

//go:norace
func (c *Conn) enqueue(sb SendBuffer) {
	c.mu.Lock()
	c.queue = append(c.queue, sb)
	c.mu.Unlock()
}

//go:norace
func (c *Conn) head() SendBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

//go:norace
func (c *Conn) retireHead() {
	c.mu.Lock()
	if len(c.queue) > 0 {
		c.queue = c.queue[1:]
	}
	c.mu.Unlock()
}

//go:norace
func (c *Conn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close closes the descriptor if it is still open and clears it to the
// invalid sentinel. Idempotent. The outbound queue is left alone; queued
// buffers are disposed at release.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.fd > 0 {
		c.closeErr = unix.Close(c.fd)
		c.fd = 0
	}
	return c.closeErr
}

// release tears the connection down: the descriptor is closed and every
// still-queued send buffer is disposed in FIFO order without attempting
// further sends.
func (c *Conn) release() {
	c.Close()

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, sb := range queue {
		sb.Release()
	}
	c.inbound.Release()
}
