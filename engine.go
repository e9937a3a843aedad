package eio

import (
	"io"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kurosemi/eio/errorx"
	"golang.org/x/sys/unix"
)

// Handler receives connection events. Every callback runs on the event-loop
// goroutine that owns the connection, except OnOpen which runs on the
// accepting loop.
type Handler interface {
	OnOpen(c *Conn)
	// OnData is invoked after a readable event once newly received bytes
	// have been appended to in. The handler consumes what it can parse and
	// leaves the rest buffered.
	OnData(c *Conn, in *Buffer)
	OnClose(c *Conn, err error)
}

// NopHandler implements Handler with no-ops, for embedding.
type NopHandler struct{}

func (NopHandler) OnOpen(*Conn)          {}
func (NopHandler) OnData(*Conn, *Buffer) {}
func (NopHandler) OnClose(*Conn, error)  {}

const defaultSockBufSize = 128 * 1024

// socketBufSizes holds the kernel socket buffer sizes discovered from the
// first prepared descriptor. They size per-call transfer attempts and are a
// per-machine constant, so discovery runs once per engine, not per
// connection.
type socketBufSizes struct {
	once sync.Once
	send int
	recv int
}

func (s *socketBufSizes) discover(fd int) {
	s.once.Do(func() {
		s.send = defaultSockBufSize
		s.recv = defaultSockBufSize
		if v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF); err == nil {
			s.send = v
		}
		if v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF); err == nil {
			s.recv = v
		}
	})
}

type Engine struct {
	config  Config
	logger  *slog.Logger
	handler Handler

	connSeq  atomic.Uint32
	bufSizes socketBufSizes

	accessLog     io.Writer
	accessLogFile *os.File

	listenLoop *eventLoop
	loops      []*eventLoop
	nextLoop   atomic.Uint32

	started atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup
}

//go:norace
func NewEngine(config Config) (*Engine, error) {
	if len(config.ListenAddrs) == 0 {
		return nil, errorx.ErrNoListeners
	}
	if config.PollerNum <= 0 {
		config.PollerNum = runtime.NumCPU()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Handler == nil {
		config.Handler = NopHandler{}
	}

	e := &Engine{
		config:    config,
		logger:    config.Logger,
		handler:   config.Handler,
		accessLog: config.AccessLog,
	}
	if e.accessLog == nil {
		if config.AccessLogPath != "" {
			f, err := os.OpenFile(config.AccessLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, err
			}
			e.accessLogFile = f
			e.accessLog = f
		} else {
			e.accessLog = io.Discard
		}
	}

	ll, err := newEventLoop(e, true)
	if err != nil {
		e.closeAccessLog()
		return nil, err
	}
	e.listenLoop = ll
	for i := 0; i < config.PollerNum; i++ {
		el, err := newEventLoop(e, false)
		if err != nil {
			for _, l := range e.allLoops() {
				l.stop()
			}
			e.closeAccessLog()
			return nil, err
		}
		e.loops = append(e.loops, el)
	}

	return e, nil
}

//go:norace
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, el := range e.allLoops() {
		e.wg.Add(1)
		go func(el *eventLoop) {
			defer e.wg.Done()
			el.run()
		}(el)
	}
	return nil
}

// Close shuts the engine down: every event loop is woken, closes its
// connections and listeners, and exits. Idempotent.
//
//go:norace
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.started.Load() {
		for _, el := range e.allLoops() {
			el.poller.wakeup()
		}
		e.wg.Wait()
	} else {
		for _, el := range e.allLoops() {
			el.stop()
		}
	}
	e.closeAccessLog()
	return nil
}

//go:norace
func (e *Engine) allLoops() []*eventLoop {
	loops := make([]*eventLoop, 0, len(e.loops)+1)
	if e.listenLoop != nil {
		loops = append(loops, e.listenLoop)
	}
	return append(loops, e.loops...)
}

//go:norace
func (e *Engine) closeAccessLog() {
	if e.accessLogFile != nil {
		e.accessLogFile.Close()
		e.accessLogFile = nil
	}
}

// ListenerAddrs returns the bound address of every listener, useful when
// listening on an ephemeral port.
//
//go:norace
func (e *Engine) ListenerAddrs() []net.Addr {
	var addrs []net.Addr
	for _, ln := range e.listenLoop.listeners {
		addrs = append(addrs, ln.boundAddr)
	}
	return addrs
}

// ConnNum returns the number of live connections across all loops.
//
//go:norace
func (e *Engine) ConnNum() int64 {
	var n int64
	for _, el := range e.loops {
		n += el.connNum.Load()
	}
	return n
}

// nextConnID produces a process-unique connection identifier: a coarse
// timestamp in the high half, an atomically incremented sequence in the low
// half. Identifiers are for correlation and logging, not ordering.
//
//go:norace
func (e *Engine) nextConnID() uint64 {
	return uint64(time.Now().Unix())<<32 | uint64(e.connSeq.Add(1))
}

//go:norace
func (e *Engine) newConn(fd int, addr net.Addr) *Conn {
	c := &Conn{
		fd:         fd,
		id:         e.nextConnID(),
		remoteAddr: addr,
		logger:     e.logger,
		bufs:       &e.bufSizes,
		inbound:    new(Buffer),
	}
	e.logger.Debug("connection created", "id", c.id, "remote", addr)
	return c
}

// addConn hands a freshly accepted connection to one of the connection
// loops. From registration on, all receive and send work for the connection
// happens on that loop's goroutine.
//
//go:norace
func (e *Engine) addConn(c *Conn) error {
	el := e.loops[int(e.nextLoop.Add(1))%len(e.loops)]
	c.el = el
	c.reactor = el
	if err := el.addConn(c); err != nil {
		return err
	}
	e.handler.OnOpen(c)
	return nil
}

// AccessLogRecord creates a record bound to the engine's access-log sink.
//
//go:norace
func (e *Engine) AccessLogRecord(c *Conn, request string) *AccessLogRecord {
	remote := ""
	if c.remoteAddr != nil {
		remote = c.remoteAddr.String()
	}
	return NewAccessLogRecord(e.accessLog, remote, request)
}
