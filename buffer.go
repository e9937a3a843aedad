package eio

import (
	"github.com/panjf2000/gnet/v2/pkg/pool/byteslice"
)

// Buffer accumulates raw received bytes for the protocol layer built on
// top of the engine. The I/O loop appends through Reserve/Commit; the
// consumer side reads through Bytes/Next/Discard. The zero value is ready
// to use.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// Reserve returns a writable region of at least n bytes. The region is
// only valid until the next Buffer operation; written bytes become visible
// after Commit.
func (b *Buffer) Reserve(n int) []byte {
	if n < 1 {
		n = 1
	}
	if len(b.buf)-b.w < n {
		b.grow(n)
	}
	return b.buf[b.w : b.w+n]
}

// Commit appends the first n bytes of the last reserved region.
func (b *Buffer) Commit(n int) {
	b.w = min(b.w+n, len(b.buf))
}

//go:norace
func (b *Buffer) Len() int {
	return b.w - b.r
}

// Bytes returns the buffered bytes without consuming them.
//
//go:norace
func (b *Buffer) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// Next consumes and returns up to n buffered bytes. The returned slice is
// only valid until the next Buffer operation.
func (b *Buffer) Next(n int) []byte {
	n = min(n, b.Len())
	p := b.buf[b.r : b.r+n]
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	return p
}

// Discard drops up to n buffered bytes.
func (b *Buffer) Discard(n int) {
	b.r = min(b.r+n, b.w)
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

//go:norace
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Release returns the backing storage to the pool.
func (b *Buffer) Release() {
	if b == nil || b.buf == nil {
		return
	}
	byteslice.Put(b.buf)
	b.buf = nil
	b.r, b.w = 0, 0
}

func (b *Buffer) grow(n int) {
	// compact before reallocating
	if b.r > 0 {
		copy(b.buf, b.buf[b.r:b.w])
		b.w -= b.r
		b.r = 0
		if len(b.buf)-b.w >= n {
			return
		}
	}

	need := b.w + n
	newCap := max(2*len(b.buf), need)
	nb := byteslice.Get(newCap)
	nb = nb[:cap(nb)]
	copy(nb, b.buf[:b.w])
	if b.buf != nil {
		byteslice.Put(b.buf)
	}
	b.buf = nb
}
