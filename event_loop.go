package eio

import (
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kurosemi/eio/errorx"
	"golang.org/x/sys/unix"
)

type listener struct {
	name      string
	fd        int
	boundAddr net.Addr
}

type eventLoop struct {
	e      *Engine
	logger *slog.Logger
	poller *poller

	listeners map[int]*listener

	mux         sync.RWMutex
	connections map[int]*Conn

	connNum atomic.Int64
}

//go:norace
func newEventLoop(e *Engine, isListener bool) (el *eventLoop, err error) {
	p, err := newPoller()
	if err != nil {
		return
	}
	el = &eventLoop{
		e:           e,
		logger:      e.logger,
		poller:      p,
		connections: make(map[int]*Conn),
		listeners:   make(map[int]*listener),
	}
	if isListener {
		defer func() {
			if err != nil {
				el.stop()
			}
		}()
		for _, addr := range e.config.ListenAddrs {
			var listenerFd int
			var isIpv6 bool
			var sa unix.Sockaddr
			sa, isIpv6, err = GetSockAddr(addr)
			if err != nil {
				return
			}

			listenerFd, err = unix.Socket(addr.normalize(isIpv6))
			if err != nil {
				return
			}
			err = unix.SetsockoptInt(listenerFd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if err != nil {
				unix.Close(listenerFd)
				return
			}

			if isIpv6 && addr.isIpv6Only() {
				err = unix.SetsockoptInt(listenerFd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
				if err != nil {
					unix.Close(listenerFd)
					return
				}
			}

			err = unix.Bind(listenerFd, sa)
			if err != nil {
				unix.Close(listenerFd)
				return
			}
			err = unix.Listen(listenerFd, listenerBacklog())
			if err != nil {
				unix.Close(listenerFd)
				return
			}
			if err = p.addRead(listenerFd, true); err != nil {
				unix.Close(listenerFd)
				return
			}

			ln := &listener{
				name: addr.Name,
				fd:   listenerFd,
			}
			if bound, serr := unix.Getsockname(listenerFd); serr == nil {
				ln.boundAddr = SockaddrToString(bound)
			}
			el.listeners[listenerFd] = ln
		}
	}

	return
}

//go:norace
func (el *eventLoop) addConn(conn *Conn) error {
	if err := el.poller.addReadWrite(conn.fd, true); err != nil {
		return err
	}
	el.mux.Lock()
	el.connections[conn.fd] = conn
	el.mux.Unlock()
	el.connNum.Add(1)

	return nil
}

//go:norace
func (el *eventLoop) conn(fd int) *Conn {
	el.mux.RLock()
	defer el.mux.RUnlock()
	return el.connections[fd]
}

// modReadWrite implements the interest contract consumed by Conn.
//
//go:norace
func (el *eventLoop) modReadWrite(c *Conn) error {
	return el.poller.modReadWrite(c.fd)
}

// acceptOne performs a single non-blocking accept against the listener. A
// would-block returns nil silently; any other failure is logged and also
// returns nil, never fatal to the loop.
//
//go:norace
func (el *eventLoop) acceptOne(ln *listener) *Conn {
	for {
		nfd, sa, err := unix.Accept4(ln.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNRESET, unix.ECONNABORTED:
			// ECONNRESET or ECONNABORTED could indicate that a socket
			// in the Accept queue was closed before we Accept()ed it.
			// It's a silly error, let's retry it.
			continue
		case unix.EAGAIN:
			return nil
		default:
			el.logger.Warn("accept failed", "listener", ln.name, "err", err)
			return nil
		}

		el.e.bufSizes.discover(nfd)
		c := el.e.newConn(nfd, SockaddrToString(sa))
		c.Name = ln.name
		return c
	}
}

// acceptAll drains the listener's accept queue. Listeners are registered
// edge-triggered, so stopping before EAGAIN would strand queued
// connections until the next arrival.
//
//go:norace
func (el *eventLoop) acceptAll(ln *listener) {
	for {
		c := el.acceptOne(ln)
		if c == nil {
			return
		}
		if err := el.e.addConn(c); err != nil {
			el.logger.Error("register connection failed", "id", c.id, "err", err)
			c.release()
		}
	}
}

//go:norace
func (el *eventLoop) run() {
	if el.e.config.ThreadLock {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	events := make([]unix.EpollEvent, 128)
	for {
		n, err := el.poller.wait(events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			el.logger.Error("epoll wait failed", "err", err)
			el.stop()
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			if fd == el.poller.evfd {
				el.poller.drainWake()
				continue
			}
			if ln, ok := el.listeners[fd]; ok {
				el.acceptAll(ln)
				continue
			}

			c := el.conn(fd)
			if c == nil {
				continue
			}
			switch c.processIO(ev) {
			case IOClosed:
				el.closeConn(c, io.EOF)
			case IOError:
				el.closeConn(c, errorx.ErrSocket)
			}
		}

		if el.e.closed.Load() {
			el.stop()
			return
		}
	}
}

// closeConn tears one connection down: deregistered, descriptor closed,
// queued buffers disposed, handler notified. Safe to call twice.
//
//go:norace
func (el *eventLoop) closeConn(c *Conn, cause error) {
	el.mux.Lock()
	if _, ok := el.connections[c.fd]; !ok {
		el.mux.Unlock()
		return
	}
	delete(el.connections, c.fd)
	el.mux.Unlock()
	el.connNum.Add(-1)

	el.poller.delete(c.fd)
	c.release()
	el.e.handler.OnClose(c, cause)
}

//go:norace
func (el *eventLoop) stop() {
	el.mux.Lock()
	conns := make([]*Conn, 0, len(el.connections))
	for _, c := range el.connections {
		conns = append(conns, c)
	}
	el.mux.Unlock()
	for _, c := range conns {
		el.closeConn(c, errorx.ErrEngineShutdown)
	}

	for fd := range el.listeners {
		unix.Close(fd)
	}
	el.poller.close()
}
