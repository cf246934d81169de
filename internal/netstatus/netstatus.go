// Package netstatus reports whether the remote store is reachable.
//
// A Detector answers Online() and publishes every change to subscribers.
// Manual is flipped by hand (tests, the --offline flag); Prober pings the
// remote on an interval.
package netstatus

import (
	"sync"
)

// Detector reports connectivity.
type Detector interface {
	// Online returns the last known state.
	Online() bool

	// Subscribe returns a channel receiving the new state on every change,
	// and a function that ends the subscription and closes the channel.
	// A slow reader only ever sees the latest state.
	Subscribe() (<-chan bool, func())
}

// broadcaster holds the state and fans changes out to subscribers.
type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe() (<-chan bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan bool)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan bool, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// set records online and publishes it if it changed.
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online == online {
		return false
	}
	b.online = online
	for _, ch := range b.subs {
		// Latest wins: replace an unread value rather than block.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
	return true
}

// Manual is a Detector whose state is set explicitly.
type Manual struct {
	broadcaster
}

var _ Detector = (*Manual)(nil)

// NewManual returns a Manual detector starting in the given state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// Set changes the state. Subscribers are notified only on a change.
func (m *Manual) Set(online bool) {
	m.set(online)
}
