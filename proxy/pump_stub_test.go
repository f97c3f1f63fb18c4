// File: proxy/pump_stub_test.go
// Author: momentics <momentics@gmail.com>
//
// Scripted pump used by the table and dispatch tests.

package proxy

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/pumpd/pump"
	"github.com/momentics/pumpd/reactor"
)

type scriptPump struct {
	fd       int
	interest reactor.EventType
	in       []byte
	out      []byte
	drainFn  func() (pump.Pump, error)
	flushFn  func() error
	closed   int
}

func (f *scriptPump) Sock() int { return f.fd }

func (f *scriptPump) Interest() reactor.EventType {
	if f.interest == 0 {
		return reactor.EventRead
	}
	return f.interest
}

func (f *scriptPump) Drain() (pump.Pump, error) {
	if f.drainFn != nil {
		return f.drainFn()
	}
	return nil, unix.EAGAIN
}

func (f *scriptPump) Flush() error {
	if f.flushFn != nil {
		return f.flushFn()
	}
	if len(f.out) == 0 {
		return unix.EAGAIN
	}
	f.out = nil
	return nil
}

func (f *scriptPump) Pull() []byte {
	b := f.in
	f.in = nil
	return b
}

func (f *scriptPump) Push(b []byte) {
	f.out = append(f.out, b...)
}

func (f *scriptPump) Close() error {
	f.closed++
	return nil
}
