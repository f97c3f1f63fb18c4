//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller. Endpoint sockets are registered edge-triggered and
// one-shot, so a socket is silent after each delivery until it is explicitly
// re-armed; the listener is registered level-triggered so its readiness
// re-fires while the accept queue is non-empty.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Poller wraps one epoll instance. It is driven from a single thread; the
// scratch event array is reused across Wait calls under that contract.
type Poller struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// epollEvent translates an interest bitmask into epoll flags. The token rides
// in the event payload; epoll_ctl itself is keyed by the real fd.
func epollEvent(tok Token, interest EventType, oneshot bool) *unix.EpollEvent {
	var flags uint32 = unix.EPOLLRDHUP
	if interest.Readable() {
		flags |= unix.EPOLLIN
	}
	if interest.Writable() {
		flags |= unix.EPOLLOUT
	}
	if oneshot {
		flags |= unix.EPOLLET | unix.EPOLLONESHOT
	}
	return &unix.EpollEvent{Events: flags, Fd: int32(tok)}
}

// Register adds fd to the interest set under tok. Endpoint sockets pass
// oneshot=true; the listener passes oneshot=false.
func (p *Poller) Register(fd int, tok Token, interest EventType, oneshot bool) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, epollEvent(tok, interest, oneshot)); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Reregister re-arms a one-shot registration with a possibly updated interest.
func (p *Poller) Reregister(fd int, tok Token, interest EventType) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, epollEvent(tok, interest, true)); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Deregister removes fd from the interest set.
func (p *Poller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks until readiness events are available and writes them into evs.
// A signal interruption yields zero events, not an error.
func (p *Poller) Wait(evs []Event) (int, error) {
	if cap(p.raw) < len(evs) {
		p.raw = make([]unix.EpollEvent, len(evs))
	}
	raw := p.raw[:len(evs)]
	n, err := unix.EpollWait(p.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		var et EventType
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			et |= EventRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			et |= EventWrite
		}
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			et |= EventClosed
		}
		evs[i] = Event{Token: Token(raw[i].Fd), Events: et}
	}
	return n, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
