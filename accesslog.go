package eio

import (
	"fmt"
	"io"
	"time"
)

// FailedResponseBytes marks a transmission that errored before completing.
const FailedResponseBytes int64 = -1

// AccessLogRecord carries the byte and response metadata for one queued
// transmission and persists it once the transmission retires. The zero
// value is a valid record with no sink; Write on it is a no-op.
type AccessLogRecord struct {
	Timestamp  time.Time
	RemoteHost string
	Request    string
	StatusCode int

	responseBytes int64
	out           io.Writer
	written       bool
}

func NewAccessLogRecord(out io.Writer, remoteHost, request string) *AccessLogRecord {
	return &AccessLogRecord{
		Timestamp:  time.Now(),
		RemoteHost: remoteHost,
		Request:    request,
		out:        out,
	}
}

//go:norace
func (r *AccessLogRecord) ResponseBytes() int64 {
	return r.responseBytes
}

//go:norace
func (r *AccessLogRecord) SetResponseBytes(n int64) {
	r.responseBytes = n
}

// Write persists the record to its sink. Only the first call emits; later
// calls are no-ops so a record retired through both the error and the
// at-end path logs once.
func (r *AccessLogRecord) Write() {
	if r.written || r.out == nil {
		return
	}
	r.written = true
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(r.out, "%s - - [%s] %q %d %d\n",
		r.RemoteHost,
		ts.Format("02/Jan/2006:15:04:05 -0700"),
		r.Request,
		r.StatusCode,
		r.responseBytes,
	)
}
