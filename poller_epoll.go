//go:build linux

package eio

import (
	"encoding/binary"
	"log/slog"
	_ "unsafe"

	"golang.org/x/sys/unix"
)

const (
	// EPOLLET .
	EPOLLET = 0x80000000
)

const (
	ReadEvents  = unix.EPOLLIN | unix.EPOLLPRI
	WriteEvents = unix.EPOLLOUT
	ErrEvents   = unix.EPOLLERR | unix.EPOLLHUP
)

// poller wraps one epoll instance plus an eventfd used to interrupt the
// wait from another goroutine.
type poller struct {
	efd  int
	evfd int
}

func newPoller() (p *poller, err error) {
	var efd int
	efd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		slog.Error("epoll create failed", "err", err)
		return nil, err
	}

	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	err = unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, evfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(evfd),
	})
	if err != nil {
		unix.Close(evfd)
		unix.Close(efd)
		return nil, err
	}

	return &poller{
		efd:  efd,
		evfd: evfd,
	}, nil
}

//go:norace
func (p *poller) addRead(fd int, edge bool) error {
	events := uint32(ReadEvents)
	if edge {
		events |= EPOLLET
	}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

//go:norace
func (p *poller) addReadWrite(fd int, edge bool) error {
	events := uint32(ReadEvents | WriteEvents | unix.EPOLLRDHUP)
	if edge {
		events |= EPOLLET
	}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

// modReadWrite re-arms read+write interest, edge-triggered. Safe to call
// from any goroutine.
//
//go:norace
func (p *poller) modReadWrite(fd int) error {
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: uint32(ReadEvents|WriteEvents|unix.EPOLLRDHUP) | EPOLLET,
		Fd:     int32(fd),
	})
}

//go:norace
func (p *poller) delete(fd int) error {
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

//go:norace
func (p *poller) wait(events []unix.EpollEvent, msec int) (int, error) {
	return unix.EpollWait(p.efd, events, msec)
}

// wakeup interrupts a blocked wait by bumping the eventfd.
//
//go:norace
func (p *poller) wakeup() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.evfd, one[:])
	if err == unix.EAGAIN {
		// counter already pending, the wait will wake regardless
		err = nil
	}
	return err
}

//go:norace
func (p *poller) drainWake() {
	var buf [8]byte
	unix.Read(p.evfd, buf[:])
}

//go:norace
func (p *poller) close() {
	unix.Close(p.evfd)
	unix.Close(p.efd)
}

//go:linkname listenerBacklog net.listenerBacklog
func listenerBacklog() int
