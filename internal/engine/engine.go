package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/hearth/internal/executor"
	"github.com/roach88/hearth/internal/fold"
	"github.com/roach88/hearth/internal/task"
)

// TaskStore is the durable queue. *store.Store implements it.
type TaskStore interface {
	Append(ctx context.Context, d task.Draft) (int64, error)
	ListAll(ctx context.Context) ([]task.Task, error)
	RemoveAll(ctx context.Context, seqs []int64) error
}

// Executor replays one task remotely. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (executor.Outcome, error)
}

// State is the processor state.
type State int32

const (
	StateIdle State = iota
	StateFolding
	StateExecuting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFolding:
		return "folding"
	case StateExecuting:
		return "executing"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Report summarises one flush cycle.
type Report struct {
	Cycle string     `json:"cycle"`
	Stats fold.Stats `json:"stats"`

	// Folded is the number of tasks the cycle intended to execute.
	Folded int `json:"folded"`

	// Succeeded counts folded tasks that completed, stale skips included.
	Succeeded int `json:"succeeded"`

	// Skipped counts updates discarded by the conflict guard.
	Skipped int `json:"skipped"`

	// Removed counts original store entries removed.
	Removed int `json:"removed"`

	// Halted is set when a failure ended the cycle early. A cycle stopped by
	// cancellation has Err set but is not Halted.
	Halted bool `json:"halted"`

	// Err is the cause of an early end; nil on a complete cycle.
	Err error `json:"-"`
}

// Remaining is the number of folded tasks left unexecuted.
func (r Report) Remaining() int {
	return r.Folded - r.Succeeded
}

// Engine is the queue processor.
//
// Thread-safety model:
//   - Enqueue, Pending, Plan, State, Subscribe: safe from any goroutine
//   - Flush: safe from any goroutine; concurrent calls return ErrBusy
type Engine struct {
	store    TaskStore
	exec     Executor
	clock    *Clock
	cycleGen TokenGenerator
	idGen    TokenGenerator

	running atomic.Bool
	state   atomic.Int32

	observers observers
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the time source used to stamp EnqueuedAt.
func WithClock(src TimeSource) EngineOption {
	return func(e *Engine) {
		e.clock = NewClockFrom(src)
	}
}

// WithCycleGenerator sets the cycle token generator.
// Default: UUIDv7Generator.
func WithCycleGenerator(g TokenGenerator) EngineOption {
	return func(e *Engine) {
		e.cycleGen = g
	}
}

// WithIDGenerator sets the generator for entity IDs of creates enqueued
// without one. Default: UUIDv7Generator.
func WithIDGenerator(g TokenGenerator) EngineOption {
	return func(e *Engine) {
		e.idGen = g
	}
}

// New creates an Engine over store and exec.
func New(store TaskStore, exec Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		exec:     exec,
		clock:    NewClock(),
		cycleGen: UUIDv7Generator{},
		idGen:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current processor state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Enqueue stamps d with the current time, appends it to the store and emits
// EventQueued. A create without an entity ID is given a fresh one. Store
// failures propagate to the caller; nothing is emitted for them.
func (e *Engine) Enqueue(ctx context.Context, d task.Draft) (task.Task, error) {
	if d.Op == task.OpCreate && d.EntityID == "" {
		d.EntityID = e.idGen.Generate()
	}
	d.EnqueuedAt = e.clock.Now()

	seq, err := e.store.Append(ctx, d)
	if err != nil {
		return task.Task{}, fmt.Errorf("enqueue %s: %w", d.Op, err)
	}
	t := task.Task{Seq: seq, Draft: d}

	slog.Debug("task queued", "task", t.String(), "enqueued_at", t.EnqueuedAt)
	e.observers.emit(Event{Kind: EventQueued, Task: t})
	return t, nil
}

// Pending returns every queued task in seq order.
func (e *Engine) Pending(ctx context.Context) ([]task.Task, error) {
	return e.store.ListAll(ctx)
}

// Plan returns what the next cycle would execute, without executing it.
func (e *Engine) Plan(ctx context.Context) (fold.Plan, error) {
	tasks, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return fold.Fold(tasks), nil
}

// Flush runs one cycle: fold the queue, execute in order, halt on the first
// failure.
//
// Returns ErrBusy without side effects when a cycle is already running.
// Otherwise the Report is always filled in; the error is a *CycleError when
// the cycle ended early.
func (e *Engine) Flush(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer e.running.Store(false)

	rep := Report{Cycle: e.cycleGen.Generate()}
	e.setState(StateFolding)

	tasks, err := e.store.ListAll(ctx)
	if err != nil {
		return e.halt(&rep, &CycleError{Code: ErrCodeStorage, Cycle: rep.Cycle, Err: err})
	}
	plan := fold.Fold(tasks)
	rep.Stats = plan.Stats()
	rep.Folded = len(plan)

	e.setState(StateExecuting)
	slog.Info("sync started",
		"cycle", rep.Cycle,
		"pending", rep.Stats.Input,
		"count", rep.Folded,
		"coalesced", rep.Stats.Coalesced,
	)
	e.observers.emit(Event{Kind: EventStarted, Cycle: rep.Cycle, Count: rep.Folded, Stats: rep.Stats})

	for _, f := range plan {
		if err := ctx.Err(); err != nil {
			return e.halt(&rep, &CycleError{Code: ErrCodeStopped, Cycle: rep.Cycle, Err: err})
		}

		// The remote call is never aborted mid-flight; the executor's own
		// call timeout bounds it.
		outcome, err := e.exec.Execute(context.WithoutCancel(ctx), f.Task)
		if err != nil {
			e.taskFailed(rep.Cycle, f, err)
			return e.halt(&rep, &CycleError{Code: ErrCodeTaskFailed, Cycle: rep.Cycle, Task: f.Task, Err: err})
		}

		if err := e.store.RemoveAll(context.WithoutCancel(ctx), f.Replaces); err != nil {
			// The remote write happened; the task replays next cycle, which
			// is safe because every remote write is idempotent.
			e.taskFailed(rep.Cycle, f, err)
			return e.halt(&rep, &CycleError{Code: ErrCodeStorage, Cycle: rep.Cycle, Task: f.Task, Err: err})
		}

		rep.Succeeded++
		rep.Removed += len(f.Replaces)
		if outcome == executor.OutcomeStaleSkip {
			rep.Skipped++
		}
		slog.Debug("task synced",
			"cycle", rep.Cycle,
			"task", f.Task.String(),
			"outcome", outcome.String(),
			"replaces", len(f.Replaces),
		)
		e.observers.emit(Event{
			Kind:     EventTaskOK,
			Cycle:    rep.Cycle,
			Task:     f.Task,
			Replaces: f.Replaces,
			Outcome:  outcome,
		})
	}

	e.setState(StateIdle)
	slog.Info("sync done",
		"cycle", rep.Cycle,
		"succeeded", rep.Succeeded,
		"skipped", rep.Skipped,
		"removed", rep.Removed,
	)
	e.observers.emit(Event{Kind: EventDone, Cycle: rep.Cycle, Report: &rep})
	return rep, nil
}

func (e *Engine) taskFailed(cycle string, f fold.Folded, err error) {
	slog.Warn("sync task failed",
		"cycle", cycle,
		"task", f.Task.String(),
		"error", err,
	)
	e.observers.emit(Event{
		Kind:     EventTaskError,
		Cycle:    cycle,
		Task:     f.Task,
		Replaces: f.Replaces,
		Err:      err,
	})
}

// halt ends the cycle early. A stopped cycle returns to Idle; any failure
// leaves the processor Halted until the next Flush.
func (e *Engine) halt(rep *Report, cerr *CycleError) (Report, error) {
	rep.Halted = cerr.Code != ErrCodeStopped
	rep.Err = cerr
	if cerr.Code == ErrCodeStopped {
		e.setState(StateIdle)
	} else {
		e.setState(StateHalted)
	}

	slog.Warn("sync halted",
		"cycle", rep.Cycle,
		"code", string(cerr.Code),
		"succeeded", rep.Succeeded,
		"remaining", rep.Remaining(),
		"error", cerr.Err,
	)
	final := *rep
	e.observers.emit(Event{Kind: EventDone, Cycle: rep.Cycle, Err: cerr, Report: &final})
	return final, cerr
}
