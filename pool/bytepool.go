// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides byte-slice pooling for the pump I/O path, so every
// socket read borrows scratch space instead of allocating it.
package pool

import "sync"

// BytePool hands out fixed-size byte slices backed by a sync.Pool.
type BytePool struct {
	size int
	p    sync.Pool
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.p.New = func() any { return make([]byte, size) }
	return bp
}

// GetBuffer returns a buffer from the pool.
func (b *BytePool) GetBuffer() []byte {
	return b.p.Get().([]byte)
}

// PutBuffer returns a buffer to the pool. Slices of a foreign size are left
// to the GC.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.p.Put(buf[:b.size])
}

var (
	defaultOnce sync.Once
	defaultPool *BytePool
)

// defaultSize is the scratch size for one socket read.
const defaultSize = 32 * 1024

// Default returns the process-wide scratch pool so all pumps share one
// allocation arena instead of fragmenting it.
func Default() *BytePool {
	defaultOnce.Do(func() {
		defaultPool = NewBytePool(defaultSize)
	})
	return defaultPool
}
