package scheduler

import (
	"math"
	"time"
)

// Strategy decides whether and when to re-run after a halted cycle.
// attempt counts consecutive halted cycles, starting at 1.
type Strategy interface {
	Next(attempt int) (delay time.Duration, retry bool)
}

// NoRetry never re-runs; the queue waits for the next external trigger.
type NoRetry struct{}

func (NoRetry) Next(int) (time.Duration, bool) { return 0, false }

// Backoff re-runs after Initial * Coefficient^(attempt-1), capped at Max.
// MaxAttempts > 0 bounds the number of retries.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Coefficient float64
	MaxAttempts int
}

const (
	defaultBackoffInitial     = time.Second
	defaultBackoffCoefficient = 2.0
)

func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}

	initial := b.Initial
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	coeff := b.Coefficient
	if coeff < 1 {
		coeff = defaultBackoffCoefficient
	}

	next := float64(initial) * math.Pow(coeff, float64(attempt-1))
	if b.Max > 0 && next > float64(b.Max) {
		return b.Max, true
	}
	if next > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(next), true
}
