package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock in Unix milliseconds that only moves when told.
//
// Implements engine.TimeSource. Thread-safety: all methods are safe for
// concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock creates a clock reading start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

// NowMillis returns the current reading.
func (c *ManualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d (rounded down to milliseconds) and
// returns the new reading.
func (c *ManualClock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Milliseconds()
	return c.now
}

// Set jumps to ms, forwards or backwards. Backwards jumps simulate a wall
// clock correction.
func (c *ManualClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}
