package engine

import (
	"sync/atomic"
	"time"
)

// TimeSource reports wall-clock time in Unix milliseconds.
type TimeSource interface {
	NowMillis() int64
}

type systemTime struct{}

func (systemTime) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Clock stamps EnqueuedAt.
//
// Readings never decrease, even if the wall clock steps backwards, so tasks
// enqueued later never carry an earlier time than tasks enqueued before them.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	src  TimeSource
	last atomic.Int64
}

// NewClock creates a clock over the system wall clock.
func NewClock() *Clock {
	return &Clock{src: systemTime{}}
}

// NewClockFrom creates a clock over src. Used by tests for deterministic time.
func NewClockFrom(src TimeSource) *Clock {
	return &Clock{src: src}
}

// Now returns max(wall clock, previous reading).
func (c *Clock) Now() int64 {
	for {
		now := c.src.NowMillis()
		last := c.last.Load()
		if now < last {
			now = last
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Last returns the most recent reading without advancing the clock.
func (c *Clock) Last() int64 {
	return c.last.Load()
}
