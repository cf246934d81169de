// Package scheduler decides when the queue processor runs.
//
// A run is requested once at startup when the remote is reachable, on every
// offline to online transition, and on each manual Refresh. Requests that
// pile up while the loop is busy collapse into one pending run. A request
// that arrives while a cycle is executing reaches the processor, which
// refuses it with engine.ErrBusy; the scheduler ignores that refusal.
//
// By default a halted cycle is not retried until the next trigger.
// WithRetry installs a Strategy that re-triggers after a delay.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/netstatus"
)

// Flusher runs one cycle. *engine.Engine implements it.
type Flusher interface {
	Flush(ctx context.Context) (engine.Report, error)
}

// Scheduler routes triggers to a Flusher.
type Scheduler struct {
	proc     Flusher
	detector netstatus.Detector
	queue    *triggerQueue
	limiter  *rate.Limiter
	retry    Strategy

	results chan runResult
	wg      sync.WaitGroup

	mu   sync.Mutex
	last *engine.Report
}

type runResult struct {
	reasons []Reason
	report  engine.Report
	err     error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRefreshLimit drops manual refreshes beyond limit (burst allowed).
func WithRefreshLimit(limit rate.Limit, burst int) Option {
	return func(s *Scheduler) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithRetry sets the strategy applied after a halted cycle.
// Default: NoRetry.
func WithRetry(st Strategy) Option {
	return func(s *Scheduler) {
		if st != nil {
			s.retry = st
		}
	}
}

// New creates a Scheduler. Call Run to start it.
func New(proc Flusher, detector netstatus.Detector, opts ...Option) *Scheduler {
	s := &Scheduler{
		proc:     proc,
		detector: detector,
		queue:    newTriggerQueue(),
		retry:    NoRetry{},
		results:  make(chan runResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh requests a run. Returns false when the request was dropped by the
// refresh limit or the scheduler has stopped.
func (s *Scheduler) Refresh() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		slog.Debug("refresh dropped", "reason", "rate limited")
		return false
	}
	return s.queue.Push(ReasonRefresh)
}

// Last returns the report of the most recent completed run.
func (s *Scheduler) Last() (engine.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return engine.Report{}, false
	}
	return *s.last, true
}

// Run processes triggers until ctx is done, then waits for an in-flight cycle
// to stop at its next task boundary and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	updates, unsubscribe := s.detector.Subscribe()
	defer unsubscribe()
	defer s.queue.Close()
	defer s.wg.Wait()

	online := s.detector.Online()
	if online {
		s.queue.Push(ReasonStartup)
	}

	var (
		retryTimer *time.Timer
		retryC     <-chan time.Time
		attempt    int
	)
	stopRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer, retryC = nil, nil
		}
	}
	defer stopRetry()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case up, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if up && !online {
				slog.Info("connectivity regained")
				s.queue.Push(ReasonConnectivity)
			}
			online = up

		case <-s.queue.Wait():
			reasons := s.queue.Drain()
			if len(reasons) == 0 {
				continue
			}
			if !s.detector.Online() {
				slog.Debug("sync deferred", "reasons", reasons, "cause", "offline")
				continue
			}
			s.dispatch(ctx, reasons)

		case res := <-s.results:
			if errors.Is(res.err, engine.ErrBusy) {
				slog.Debug("sync trigger ignored", "reasons", res.reasons, "cause", "busy")
				continue
			}
			s.record(res.report)

			var cerr *engine.CycleError
			if res.err == nil || !errors.As(res.err, &cerr) || cerr.Code == engine.ErrCodeStopped {
				attempt = 0
				stopRetry()
				continue
			}
			attempt++
			delay, retry := s.retry.Next(attempt)
			if !retry {
				continue
			}
			stopRetry()
			slog.Info("sync retry scheduled", "attempt", attempt, "delay", delay)
			retryTimer = time.NewTimer(delay)
			retryC = retryTimer.C

		case <-retryC:
			retryTimer, retryC = nil, nil
			s.queue.Push(ReasonRetry)
		}
	}
}

// dispatch runs the processor on its own goroutine so that the loop keeps
// receiving triggers during a cycle.
func (s *Scheduler) dispatch(ctx context.Context, reasons []Reason) {
	slog.Debug("sync triggered", "reasons", reasons)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rep, err := s.proc.Flush(ctx)
		select {
		case s.results <- runResult{reasons: reasons, report: rep, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) record(rep engine.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &rep
}
