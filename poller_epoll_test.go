//go:build linux

package eio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewPoller(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer p.close()
}

func TestPollerWakeup(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer p.close()

	require.NoError(t, p.wakeup())

	events := make([]unix.EpollEvent, 8)
	n, err := p.wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, int32(p.evfd), events[0].Fd)
	p.drainWake()
}

func TestPollerInterestLifecycle(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer p.close()

	local, _ := socketPair(t)
	require.NoError(t, p.addReadWrite(local, true))
	require.NoError(t, p.modReadWrite(local))

	// a fresh socketpair end is immediately writable
	events := make([]unix.EpollEvent, 8)
	n, err := p.wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, int32(local), events[0].Fd)
	assert.NotZero(t, events[0].Events&WriteEvents)

	require.NoError(t, p.delete(local))
}
