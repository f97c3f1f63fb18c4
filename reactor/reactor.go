// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event and readiness types shared by the poller implementation.

package reactor

// Token is a small integer handle naming one registered socket. The poller
// carries it opaquely in the kernel event payload and hands it back with
// every readiness event.
type Token int

// EventType is a readiness bitmask.
type EventType uint32

const (
	// EventRead indicates the socket has bytes (or an accept) pending.
	EventRead EventType = 1 << iota
	// EventWrite indicates the socket can take more outbound bytes.
	EventWrite
	// EventClosed indicates hangup or error readiness; the socket is done.
	EventClosed
)

// Readable reports whether the read bit is set.
func (e EventType) Readable() bool { return e&EventRead != 0 }

// Writable reports whether the write bit is set.
func (e EventType) Writable() bool { return e&EventWrite != 0 }

// Closed reports whether hangup or error readiness is set.
func (e EventType) Closed() bool { return e&EventClosed != 0 }

// Event is one readiness notification delivered by Poller.Wait.
type Event struct {
	Token  Token
	Events EventType
}
