// File: pump/pump.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pump implements the per-connection engine consumed by the proxy
// core: framing, the pre-shared-key handshake, and buffer management for one
// endpoint. The core drives a Pump purely through readiness events and never
// touches the socket itself.
package pump

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/pumpd/reactor"
)

// Pump is one connection's engine instance. All methods are called from the
// single reactor thread; implementations need no locking.
type Pump interface {
	// Sock returns the raw descriptor for reactor registration.
	Sock() int

	// Interest reports the readiness the pump currently wants to see.
	Interest() reactor.EventType

	// Drain advances the inbound side by one socket read. It returns a
	// non-nil Pump when the handshake completed and a peer connection was
	// spawned, a would-block error when the socket has nothing more to give,
	// or a fatal error when the connection is beyond recovery.
	Drain() (Pump, error)

	// Flush advances the outbound side by one socket write. Would-block and
	// fatal errors follow the Drain convention; Flush never spawns a peer.
	Flush() error

	// Pull removes and returns the buffered inbound bytes destined for the
	// peer, leaving the buffer empty.
	Pull() []byte

	// Push appends bytes to the pump's own outbound send buffer.
	Push(b []byte)

	// Close releases the socket.
	Close() error
}

// Factory constructs a Pump around a freshly accepted non-blocking socket
// using the process-wide shared secret.
type Factory func(fd int, secret []byte) (Pump, error)

// IsWouldBlock reports whether err is the transient no-progress signal that
// ends a drain or flush retry loop.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
