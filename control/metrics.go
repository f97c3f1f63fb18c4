// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for operator-level monitoring. The reactor thread is the
// only writer in practice, but the registry stays thread-safe so signal
// handlers and tests can snapshot it at any time.

package control

import (
	"sync"
	"time"
)

// Registry holds named monotonic counters.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int64
	updated  time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]int64)}
}

// Inc bumps a counter by one.
func (r *Registry) Inc(key string) {
	r.Add(key, 1)
}

// Add bumps a counter by delta.
func (r *Registry) Add(key string, delta int64) {
	r.mu.Lock()
	r.counters[key] += delta
	r.updated = time.Now()
	r.mu.Unlock()
}

// Get returns a single counter value.
func (r *Registry) Get(key string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[key]
}

// Snapshot returns a copy of all counters.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Updated reports when a counter last changed.
func (r *Registry) Updated() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}
