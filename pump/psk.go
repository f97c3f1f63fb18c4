//go:build linux
// +build linux

// File: pump/psk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pre-shared-key pump. An accepted connection starts in the handshake state
// and must present one sealed frame naming its destination; the pump then
// dials that destination non-blocking and hands the spawned peer back to the
// reactor core. Established pumps relay bytes verbatim.

package pump

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/pumpd/pool"
	"github.com/momentics/pumpd/reactor"
)

// highWater caps the inbound buffer. Past it the pump stops asking for read
// readiness until the peer drains what is queued.
const highWater = 256 * 1024

type state int

const (
	stateHandshake state = iota
	stateConnecting
	stateEstablished
)

type pskPump struct {
	fd   int
	st   state
	aead cipher.AEAD

	hs  []byte // handshake bytes accumulated so far
	in  []byte // drained inbound bytes awaiting Pull
	out []byte // outbound bytes awaiting Flush
}

// NewPSK wraps an accepted non-blocking socket in a handshake-state pump.
// It satisfies Factory.
func NewPSK(fd int, secret []byte) (Pump, error) {
	aead, err := frameAEAD(secret)
	if err != nil {
		return nil, err
	}
	return &pskPump{fd: fd, st: stateHandshake, aead: aead}, nil
}

func (p *pskPump) Sock() int { return p.fd }

func (p *pskPump) Interest() reactor.EventType {
	switch p.st {
	case stateHandshake:
		return reactor.EventRead
	case stateConnecting:
		return reactor.EventWrite
	}
	var ev reactor.EventType
	if len(p.in) < highWater {
		ev |= reactor.EventRead
	}
	if len(p.out) > 0 {
		ev |= reactor.EventWrite
	}
	return ev
}

// Drain performs one socket read and advances the handshake if enough bytes
// arrived. One call makes one syscall; the caller loops until would-block.
func (p *pskPump) Drain() (Pump, error) {
	if p.st == stateConnecting {
		return nil, unix.EAGAIN
	}
	if p.st == stateEstablished && len(p.in) >= highWater {
		// Structural backpressure: stop reading until the peer catches up.
		return nil, unix.EAGAIN
	}

	buf := pool.Default().GetBuffer()
	defer pool.Default().PutBuffer(buf)

	n, err := unix.Read(p.fd, buf)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}

	if p.st == stateHandshake {
		p.hs = append(p.hs, buf[:n]...)
		return p.advanceHandshake()
	}
	p.in = append(p.in, buf[:n]...)
	return nil, nil
}

// advanceHandshake tries to complete the destination request from the bytes
// read so far. Incomplete frames simply wait for more; malformed or
// unauthentic frames are fatal.
func (p *pskPump) advanceHandshake() (Pump, error) {
	if len(p.hs) < 2 {
		return nil, nil
	}
	bodyLen := int(binary.BigEndian.Uint16(p.hs))
	if bodyLen > maxFrame {
		return nil, fmt.Errorf("handshake frame of %d bytes exceeds limit %d", bodyLen, maxFrame)
	}
	if len(p.hs) < 2+bodyLen {
		return nil, nil
	}

	dest, err := openFrame(p.aead, p.hs[2:2+bodyLen])
	if err != nil {
		return nil, err
	}

	// Bytes pipelined behind the frame are payload for the peer.
	if leftover := p.hs[2+bodyLen:]; len(leftover) > 0 {
		p.in = append(p.in, leftover...)
	}
	p.hs = nil
	p.st = stateEstablished

	return p.dial(string(dest))
}

// dial starts a non-blocking connect to the requested destination and wraps
// it in a connecting-state pump.
func (p *pskPump) dial(addr string) (Pump, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	family := unix.AF_INET
	if tcp.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("peer socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: tcp.Port}
		copy(sa4.Addr[:], tcp.IP.To4())
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcp.Port}
		copy(sa6.Addr[:], tcp.IP.To16())
		sa = sa6
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %q: %w", addr, err)
	}

	return &pskPump{fd: fd, st: stateConnecting, aead: p.aead}, nil
}

// Flush performs one socket write. A connecting pump first settles the
// pending connect; SO_ERROR reports how it went.
func (p *pskPump) Flush() error {
	if p.st == stateHandshake {
		return unix.EAGAIN
	}
	if p.st == stateConnecting {
		soerr, err := unix.GetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return fmt.Errorf("connect: %w", unix.Errno(soerr))
		}
		p.st = stateEstablished
	}
	if len(p.out) == 0 {
		return unix.EAGAIN
	}

	n, err := unix.Write(p.fd, p.out)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	p.out = p.out[n:]
	if len(p.out) == 0 {
		p.out = nil
	}
	return nil
}

func (p *pskPump) Pull() []byte {
	b := p.in
	p.in = nil
	return b
}

func (p *pskPump) Push(b []byte) {
	p.out = append(p.out, b...)
}

func (p *pskPump) Close() error {
	return unix.Close(p.fd)
}
