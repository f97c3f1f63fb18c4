// File: proxy/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena-style pump table. Slots are addressed by small integer tokens that
// are recycled after removal; a min-heap of freed indexes keeps insertion at
// the lowest free slot.

package proxy

import (
	"container/heap"

	"github.com/momentics/pumpd/pump"
	"github.com/momentics/pumpd/reactor"
)

// tokenHeap is a min-heap of freed slot indexes.
type tokenHeap []int

func (h tokenHeap) Len() int            { return len(h) }
func (h tokenHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tokenHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tokenHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *tokenHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// table owns all live pumps. Callers touch one token's slot at a time; when
// both ends of a link are needed, the peer token is copied out first and its
// slot acquired separately.
type table struct {
	slots []pump.Pump
	free  tokenHeap
	count int
}

func newTable(capacity int) *table {
	return &table{slots: make([]pump.Pump, 0, capacity)}
}

// insert places p in the lowest free slot and returns its token.
func (t *table) insert(p pump.Pump) reactor.Token {
	t.count++
	if t.free.Len() > 0 {
		idx := heap.Pop(&t.free).(int)
		t.slots[idx] = p
		return reactor.Token(idx)
	}
	t.slots = append(t.slots, p)
	return reactor.Token(len(t.slots) - 1)
}

// get looks up the pump owning tok.
func (t *table) get(tok reactor.Token) (pump.Pump, bool) {
	idx := int(tok)
	if idx < 0 || idx >= len(t.slots) || t.slots[idx] == nil {
		return nil, false
	}
	return t.slots[idx], true
}

// remove frees tok's slot, recycles the token, and hands the pump back for
// disposal. Removing an absent token reports false.
func (t *table) remove(tok reactor.Token) (pump.Pump, bool) {
	p, ok := t.get(tok)
	if !ok {
		return nil, false
	}
	t.slots[int(tok)] = nil
	heap.Push(&t.free, int(tok))
	t.count--
	return p, true
}

// len reports the number of live pumps.
func (t *table) len() int { return t.count }

// each calls fn for every live pump.
func (t *table) each(fn func(reactor.Token, pump.Pump)) {
	for idx, p := range t.slots {
		if p != nil {
			fn(reactor.Token(idx), p)
		}
	}
}
