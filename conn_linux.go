//go:build linux

package eio

import (
	"golang.org/x/sys/unix"
)

// recv drains every currently available inbound byte into in, one
// non-blocking read per iteration, until the socket would block. Draining
// to EAGAIN is required by the edge-triggered registration: readiness will
// not be reported again for data already delivered by the kernel.
func (c *Conn) recv(in *Buffer) IOResult {
	for {
		region := in.Reserve(c.bufs.recv)
		n, err := unix.Read(c.fd, region)
		if n > 0 {
			in.Commit(n)
			continue
		}

		switch {
		case err == unix.EAGAIN:
			return IOSuccess
		case n == 0 && err == nil, err == unix.ECONNRESET:
			c.logger.Debug("socket disconnected", "id", c.id, "err", err)
			return IOClosed
		default:
			c.logger.Error("recv failed", "id", c.id, "err", err)
			return IOError
		}
	}
}

// Send drains the head of the outbound queue against the socket. It loops
// on the head's own read window rather than only on OS readiness: the
// source may yield chunks smaller than a socket buffer (a header before
// file contents, say), and looping on its availability maximizes
// throughput per reactor wake-up.
//
// Returns IOSuccess when the queue is empty or the pass ended benignly,
// IOError when the head failed. A failed head is disposed, never retried.
func (c *Conn) Send() IOResult {
	sb := c.head()
	if sb == nil {
		return IOSuccess
	}
	rec := sb.AccessLog()

	var termErr error // nil when the loop ended on an exhausted window
	sendFailed := false
	for {
		window := sb.ReadWindow(c.bufs.send)
		if len(window) == 0 {
			break
		}

		n, err := unix.Write(c.fd, window)
		if n > 0 {
			sb.Advance(n)
			rec.SetResponseBytes(rec.ResponseBytes() + int64(n))
			continue
		}

		termErr = err
		switch err {
		case nil, unix.EAGAIN:
			// Kernel buffer full, or a zero-byte write with no error;
			// both benign, no progress recorded.
		case unix.ECONNRESET:
			c.logger.Debug("socket disconnected", "id", c.id, "err", err)
			rec.SetResponseBytes(FailedResponseBytes)
			sendFailed = true
		default:
			c.logger.Error("send failed", "id", c.id, "err", err)
			rec.SetResponseBytes(FailedResponseBytes)
			sendFailed = true
		}
		break
	}

	// A pass that stopped for any reason other than kernel backpressure
	// leaves no pending edge, so re-arm interest while data remains
	// queued. EAGAIN needs no re-arm: the write edge fires on its own.
	if termErr != unix.EAGAIN && c.pending() > 0 {
		if err := c.reactor.modReadWrite(c); err != nil {
			c.logger.Error("interest re-arm failed", "id", c.id, "err", err)
		}
	}

	if sb.AtEnd() || sendFailed {
		rec.Write()
		c.retireHead()
		sb.Release()
	}

	if sendFailed {
		return IOError
	}
	return IOSuccess
}

// processIO dispatches one epoll readiness event for the connection.
func (c *Conn) processIO(ev unix.EpollEvent) IOResult {
	// Non-IO events without a readable half mean the peer is gone; there
	// is nothing left to drain.
	if ev.Events&(ErrEvents|unix.EPOLLRDHUP) != 0 && ev.Events&ReadEvents == 0 {
		return IOClosed
	}

	if ev.Events&(WriteEvents|ErrEvents) != 0 {
		if res := c.Send(); res != IOSuccess {
			return res
		}
	}

	if ev.Events&(ReadEvents|ErrEvents) != 0 {
		res := c.recv(c.inbound)
		if c.inbound.Len() > 0 {
			c.el.e.handler.OnData(c, c.inbound)
		}
		if res != IOSuccess {
			return res
		}
	}

	return IOSuccess
}
