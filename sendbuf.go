package eio

import (
	"io"
	"os"

	"github.com/panjf2000/gnet/v2/pkg/pool/byteslice"
)

// SendBuffer is one queued unit of outbound bytes, either an in-memory
// payload or a header followed by file contents. The send path drains it
// through a bounded window:
//
//	ReadWindow(max) -> up to max pending bytes; empty means nothing
//	                   further to give right now
//	Advance(n)      -> consume n sent bytes of the last window
//	AtEnd()         -> every byte handed out and consumed
//
// A SendBuffer owns its backing resources and releases them on Release,
// including unlinking an auto-remove file.
type SendBuffer interface {
	ReadWindow(max int) []byte
	Advance(n int)
	AtEnd() bool
	// AccessLog returns the record tracking this transmission. Never nil.
	AccessLog() *AccessLogRecord
	Release() error
}

type memSendBuffer struct {
	data []byte
	off  int
	rec  *AccessLogRecord
}

// NewSendBuffer wraps raw bytes in an in-memory send buffer. The bytes are
// copied, so the caller may reuse p immediately.
func NewSendBuffer(p []byte) SendBuffer {
	return NewSendBufferWithLog(p, nil)
}

// NewSendBufferWithLog is NewSendBuffer with an explicit access-log record.
func NewSendBufferWithLog(p []byte, rec *AccessLogRecord) SendBuffer {
	if rec == nil {
		rec = &AccessLogRecord{}
	}
	data := byteslice.Get(len(p))
	copy(data, p)
	return &memSendBuffer{
		data: data,
		rec:  rec,
	}
}

func (b *memSendBuffer) ReadWindow(max int) []byte {
	remain := b.data[b.off:]
	if max > 0 && len(remain) > max {
		remain = remain[:max]
	}
	return remain
}

func (b *memSendBuffer) Advance(n int) {
	b.off = min(b.off+n, len(b.data))
}

func (b *memSendBuffer) AtEnd() bool {
	return b.off >= len(b.data)
}

func (b *memSendBuffer) AccessLog() *AccessLogRecord {
	return b.rec
}

func (b *memSendBuffer) Release() error {
	if b.data != nil {
		byteslice.Put(b.data)
		b.data = nil
	}
	b.off = 0
	return nil
}

// fileSendBuffer serves a header followed by the contents of a file,
// staging file bytes through a pooled chunk so a window is always an
// in-memory view.
type fileSendBuffer struct {
	header []byte
	hoff   int

	f          *os.File
	path       string
	autoRemove bool

	chunk   []byte
	cr, cw  int
	eof     bool
	readErr error

	rec *AccessLogRecord
}

// NewFileSendBuffer builds a header-plus-file send buffer. With autoRemove
// the file is unlinked once the buffer is released, whether or not it was
// fully sent.
func NewFileSendBuffer(header []byte, path string, autoRemove bool, rec *AccessLogRecord) (SendBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		if autoRemove {
			os.Remove(path)
		}
		return nil, err
	}
	if rec == nil {
		rec = &AccessLogRecord{}
	}
	return &fileSendBuffer{
		header:     header,
		f:          f,
		path:       path,
		autoRemove: autoRemove,
		rec:        rec,
	}, nil
}

func (b *fileSendBuffer) ReadWindow(max int) []byte {
	if max <= 0 {
		max = defaultSockBufSize
	}
	if b.hoff < len(b.header) {
		remain := b.header[b.hoff:]
		if len(remain) > max {
			remain = remain[:max]
		}
		return remain
	}

	if b.cr == b.cw && !b.eof {
		b.fill(max)
	}
	remain := b.chunk[b.cr:b.cw]
	if len(remain) > max {
		remain = remain[:max]
	}
	return remain
}

func (b *fileSendBuffer) fill(max int) {
	if cap(b.chunk) < max {
		if b.chunk != nil {
			byteslice.Put(b.chunk)
		}
		b.chunk = byteslice.Get(max)
	}
	b.chunk = b.chunk[:cap(b.chunk)]

	n, err := b.f.Read(b.chunk[:max])
	b.cr, b.cw = 0, n
	if err != nil {
		b.eof = true
		if err != io.EOF {
			// Treat a read failure as exhaustion; the buffer retires and
			// its log records what was actually sent.
			b.readErr = err
		}
		return
	}
	if n == 0 {
		b.eof = true
	}
}

func (b *fileSendBuffer) Advance(n int) {
	if b.hoff < len(b.header) {
		take := min(n, len(b.header)-b.hoff)
		b.hoff += take
		n -= take
	}
	b.cr = min(b.cr+n, b.cw)
}

func (b *fileSendBuffer) AtEnd() bool {
	return b.hoff >= len(b.header) && b.eof && b.cr == b.cw
}

func (b *fileSendBuffer) AccessLog() *AccessLogRecord {
	return b.rec
}

func (b *fileSendBuffer) Release() error {
	err := b.f.Close()
	if b.autoRemove {
		if rerr := os.Remove(b.path); err == nil {
			err = rerr
		}
	}
	if b.chunk != nil {
		byteslice.Put(b.chunk)
		b.chunk = nil
	}
	b.cr, b.cw = 0, 0
	if b.readErr != nil && err == nil {
		err = b.readErr
	}
	return err
}
