package eio

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurosemi/eio/errorx"
)

type echoHandler struct {
	NopHandler
}

func (echoHandler) OnData(c *Conn, in *Buffer) {
	c.Write(in.Next(in.Len()))
}

func newTestEngine(t *testing.T, h Handler) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		PollerNum: 1,
		ListenAddrs: []Address{
			{Network: NetworkTCP, Address: "127.0.0.1:0", Name: "test"},
		},
		Handler: h,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineRequiresListeners(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.ErrorIs(t, err, errorx.ErrNoListeners)
}

func TestEngineEcho(t *testing.T) {
	e := newTestEngine(t, echoHandler{})
	require.NoError(t, e.Start())

	addrs := e.ListenerAddrs()
	require.Len(t, addrs, 1)

	conn, err := net.Dial("tcp", addrs[0].String())
	require.NoError(t, err)
	defer conn.Close()

	msg := []byte("hello, engine")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got := make([]byte, len(msg))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestEngineEchoLargePayloadRoundTrip(t *testing.T) {
	e := newTestEngine(t, echoHandler{})
	require.NoError(t, e.Start())

	conn, err := net.Dial("tcp", e.ListenerAddrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()

	payload := randBytes(300000)
	go func() {
		conn.Write(payload)
	}()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	got := make([]byte, len(payload))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, NopHandler{})
	require.NoError(t, e.Start())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngineCloseWithoutStart(t *testing.T) {
	e := newTestEngine(t, NopHandler{})
	require.NoError(t, e.Close())
}

func TestEngineConnIDsPairwiseDistinct(t *testing.T) {
	e := &Engine{}

	const goroutines = 8
	const perGoroutine = 1000
	ids := make(chan uint64, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ids <- e.nextConnID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, goroutines*perGoroutine)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate connection id %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestEngineConnIDCounterStartsAtOne(t *testing.T) {
	e := &Engine{}
	id := e.nextConnID()
	assert.EqualValues(t, 1, id&0xFFFFFFFF)
	id = e.nextConnID()
	assert.EqualValues(t, 2, id&0xFFFFFFFF)
}

func TestEngineAccessLogRecordSink(t *testing.T) {
	var sink bytes.Buffer
	e, err := NewEngine(Config{
		PollerNum: 1,
		ListenAddrs: []Address{
			{Network: NetworkTCP, Address: "127.0.0.1:0"},
		},
		Logger:    discardLogger(),
		AccessLog: &sink,
	})
	require.NoError(t, err)
	defer e.Close()

	c := e.newConn(0, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	rec := e.AccessLogRecord(c, "GET / HTTP/1.1")
	rec.SetResponseBytes(42)
	rec.Write()

	assert.Contains(t, sink.String(), "127.0.0.1:9")
	assert.Contains(t, sink.String(), " 42\n")
}

func TestEngineHandlerLifecycle(t *testing.T) {
	events := make(chan connEvent, 16)

	h := &lifecycleHandler{events: events}
	e := newTestEngine(t, h)
	require.NoError(t, e.Start())

	conn, err := net.Dial("tcp", e.ListenerAddrs()[0].String())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "open", ev.kind)
	case <-time.After(3 * time.Second):
		t.Fatal("no open event")
	}

	conn.Close()
	select {
	case ev := <-events:
		assert.Equal(t, "close", ev.kind)
		assert.ErrorIs(t, ev.err, io.EOF)
	case <-time.After(3 * time.Second):
		t.Fatal("no close event")
	}
}

type connEvent struct {
	kind string
	err  error
}

type lifecycleHandler struct {
	NopHandler
	events chan connEvent
}

func (h *lifecycleHandler) OnOpen(c *Conn) {
	h.events <- connEvent{kind: "open"}
}

func (h *lifecycleHandler) OnClose(c *Conn, err error) {
	h.events <- connEvent{kind: "close", err: err}
}
