package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/executor"
	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote"
	"github.com/roach88/hearth/internal/remote/memremote"
	"github.com/roach88/hearth/internal/store"
	"github.com/roach88/hearth/internal/task"
	"github.com/roach88/hearth/internal/testutil"
)

const defaultClock = 1_000

// Harness holds the collaborators of one scenario run.
type Harness struct {
	store  *store.Store
	remote *memremote.Remote
	engine *engine.Engine
	clock  *testutil.ManualClock

	mu    sync.Mutex
	trace []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database in a temporary directory. Cycle
// tokens and generated entity IDs come from sequence generators, so traces
// are reproducible.
//
// Execution flow:
// 1. Create fresh database and remote
// 2. Execute flow steps, checking flush expectations
// 3. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "hearth-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	start := scenario.Clock
	if start == 0 {
		start = defaultClock
	}

	h := &Harness{
		store:  st,
		remote: memremote.New(),
		clock:  testutil.NewManualClock(start),
	}
	h.engine = engine.New(st, executor.New(h.remote),
		engine.WithClock(h.clock),
		engine.WithCycleGenerator(testutil.NewSequenceGenerator("cycle")),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("entity")),
	)
	unsubscribe := h.engine.Subscribe(engine.ObserverFunc(h.record))
	defer unsubscribe()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	result.Trace = h.snapshot()

	actx := &AssertionContext{
		Store:  st,
		Remote: h.remote,
		Ctx:    ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) record(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, newTraceEvent(ev))
}

func (h *Harness) snapshot() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent{}, h.trace...)
}

// executeStep runs one step. Returned errors abort the scenario; mismatched
// expectations are recorded on result instead.
func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Enqueue != nil:
		return h.enqueue(ctx, step.Enqueue, result)

	case step.Advance != 0:
		h.clock.Advance(step.Advance)
		return nil

	case step.Offline != nil:
		h.remote.SetOffline(*step.Offline)
		return nil

	case step.Fault != nil:
		h.remote.InjectFault(newFault(step.Fault))
		return nil

	case step.Seed != nil:
		return h.seed(step.Seed)

	case step.Flush != nil:
		rep, err := h.engine.Flush(ctx)
		if step.Flush.Expect != nil {
			checkReport(rep, err, step.Flush.Expect, result)
		}
		return nil

	default:
		return errors.New("empty step")
	}
}

func (h *Harness) enqueue(ctx context.Context, s *EnqueueStep, result *Result) error {
	obj, err := toObject(s.Payload)
	if err != nil {
		return fmt.Errorf("enqueue payload: %w", err)
	}
	d := task.Draft{
		Op:       task.Operation(s.Op),
		ScopeID:  s.Scope,
		EntityID: s.Entity,
		Payload:  obj,
	}
	_, err = h.engine.Enqueue(ctx, d)
	switch {
	case errors.Is(err, task.ErrInvalid):
		if !s.Invalid {
			result.AddError(fmt.Sprintf("enqueue %s: %v", s.Op, err))
		}
		return nil
	case err != nil:
		return err
	case s.Invalid:
		result.AddError(fmt.Sprintf("enqueue %s: expected the task to be refused", s.Op))
	}
	return nil
}

func (h *Harness) seed(s *SeedStep) error {
	fields, err := toObject(s.Fields)
	if err != nil {
		return fmt.Errorf("seed fields: %w", err)
	}
	collection := s.Collection
	if collection == "" {
		collection = remote.EntityCollection
	}
	h.remote.Put(collection, s.Scope, s.Entity, fields)
	if s.LastModified != 0 {
		h.remote.SetLastModified(s.Scope, s.Entity, s.LastModified)
	}
	return nil
}

func newFault(s *FaultStep) memremote.Fault {
	if s.Clear {
		return nil
	}
	return func(c memremote.Call) error {
		if s.Op != "" && c.Op != s.Op {
			return nil
		}
		if s.Entity != "" && c.EntityID != s.Entity {
			return nil
		}
		switch s.Error {
		case FaultUnavailable:
			return remote.Unavailable(c.Op, errors.New("injected"))
		case FaultNotFound:
			return fmt.Errorf("%s: %w", c.Op, remote.ErrNotFound)
		default:
			return &remote.RejectedError{Op: c.Op, Reason: "injected"}
		}
	}
}

func checkReport(rep engine.Report, err error, want *FlushExpect, result *Result) {
	if want.Halted != rep.Halted {
		result.AddError(fmt.Sprintf("flush %s: halted=%v, want %v (err: %v)", rep.Cycle, rep.Halted, want.Halted, err))
	}
	check := func(name string, got int, want *int) {
		if want != nil && got != *want {
			result.AddError(fmt.Sprintf("flush %s: %s=%d, want %d", rep.Cycle, name, got, *want))
		}
	}
	check("succeeded", rep.Succeeded, want.Succeeded)
	check("skipped", rep.Skipped, want.Skipped)
	check("removed", rep.Removed, want.Removed)
	check("coalesced", rep.Stats.Coalesced, want.Coalesced)
}

// toObject converts YAML-decoded values into a payload object.
func toObject(m map[string]any) (payload.Object, error) {
	if m == nil {
		return payload.Object{}, nil
	}
	v, err := payload.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(payload.Object), nil
}
