// File: proxy/links.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proxy

import "github.com/momentics/pumpd/reactor"

// linkTable is the symmetric token pairing of active tunnels: an entry a→b
// exists iff b→a does, except transiently between a removal and the zombie
// drain of the same dispatch cycle.
type linkTable map[reactor.Token]reactor.Token

// link pairs a and b in both directions.
func (l linkTable) link(a, b reactor.Token) {
	l[a] = b
	l[b] = a
}

// peer reports a's current peer, if any.
func (l linkTable) peer(a reactor.Token) (reactor.Token, bool) {
	b, ok := l[a]
	return b, ok
}

// unlink removes both directions of a's pairing and reports the former peer.
func (l linkTable) unlink(a reactor.Token) (reactor.Token, bool) {
	b, ok := l[a]
	if !ok {
		return 0, false
	}
	delete(l, a)
	delete(l, b)
	return b, true
}
