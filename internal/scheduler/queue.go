package scheduler

import (
	"sync"
)

// Reason names why a run was requested.
type Reason string

const (
	ReasonStartup      Reason = "startup"
	ReasonConnectivity Reason = "connectivity"
	ReasonRefresh      Reason = "refresh"
	ReasonRetry        Reason = "retry"
)

// triggerQueue collects pending run requests.
//
// Any number of pushes between two drains collapse into one pending run: the
// signal channel has a buffer of one and repeated reasons are recorded once.
// Pushes come from any goroutine (HTTP handlers, the detector); the Run loop
// drains.
type triggerQueue struct {
	mu      sync.Mutex
	pending []Reason
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		signal: make(chan struct{}, 1),
	}
}

// Push records r. Returns false if the queue is closed.
func (q *triggerQueue) Push(r Reason) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	found := false
	for _, p := range q.pending {
		if p == r {
			found = true
			break
		}
	}
	if !found {
		q.pending = append(q.pending, r)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending reason in first-push order.
func (q *triggerQueue) Drain() []Reason {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Wait returns a channel that signals when a run may be pending. Use with
// select and then Drain; a signal with nothing to drain is possible.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of distinct pending reasons.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further pushes and wakes any waiter.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
