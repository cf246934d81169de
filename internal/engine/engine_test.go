package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hearth/internal/executor"
	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote"
	"github.com/roach88/hearth/internal/remote/memremote"
	"github.com/roach88/hearth/internal/store"
	"github.com/roach88/hearth/internal/task"
	"github.com/roach88/hearth/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fixture struct {
	store  *store.Store
	remote *memremote.Remote
	clock  *testutil.ManualClock
	engine *Engine
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:  setupTestStore(t),
		remote: memremote.New(),
		clock:  testutil.NewManualClock(1_000),
		events: &eventLog{},
	}
	opts = append([]EngineOption{
		WithClock(f.clock),
		WithCycleGenerator(testutil.NewSequenceGenerator("cycle")),
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
	}, opts...)
	f.engine = New(f.store, executor.New(f.remote), opts...)
	f.engine.Subscribe(f.events)
	return f
}

func (f *fixture) enqueue(t *testing.T, d task.Draft) task.Task {
	t.Helper()
	tk, err := f.engine.Enqueue(context.Background(), d)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Millisecond)
	return tk
}

func (f *fixture) pending(t *testing.T) []task.Task {
	t.Helper()
	tasks, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	return tasks
}

func TestEngine_NewStartsIdle(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestEnqueue_StampsTimeAndEmits(t *testing.T) {
	f := newFixture(t)

	tk := f.enqueue(t, task.NewUpdate("h1", "d1", payload.Object{"a": payload.Int(1)}))

	assert.Equal(t, int64(1_000), tk.EnqueuedAt)
	assert.Positive(t, tk.Seq)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventQueued, f.events.events[0].Kind)
	assert.Equal(t, tk, f.events.events[0].Task)

	stored := f.pending(t)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1_000), stored[0].EnqueuedAt)
}

func TestEnqueue_AssignsEntityIDToCreate(t *testing.T) {
	f := newFixture(t)

	tk := f.enqueue(t, task.NewCreate("h1", "", payload.Object{"name": payload.String("A")}))
	assert.Equal(t, "id-1", tk.EntityID)

	tk = f.enqueue(t, task.NewCreate("h1", "mine", payload.Object{}))
	assert.Equal(t, "mine", tk.EntityID)
}

func TestEnqueue_StoreFailurePropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.engine.Enqueue(context.Background(), task.NewDelete("h1", "d1"))
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.Empty(t, f.events.events, "a failed append emits nothing")
}

func TestEnqueue_InvalidDraftRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Enqueue(context.Background(), task.Draft{Op: task.OpUpdate, ScopeID: "h1"})
	assert.ErrorIs(t, err, task.ErrInvalid)
}

func TestFlush_Empty(t *testing.T) {
	f := newFixture(t)

	rep, err := f.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", rep.Cycle)
	assert.Zero(t, rep.Folded)
	assert.Equal(t, []EventKind{EventStarted, EventDone}, f.events.kinds())
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestFlush_FoldsExecutesAndDrains(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, task.NewCreate("h1", "d1", payload.Object{"name": payload.String("A")}))
	f.enqueue(t, task.NewUpdate("h1", "d1", payload.Object{"name": payload.String("B")}))
	f.enqueue(t, task.NewUpdate("h1", "d1", payload.Object{"price": payload.Int(5)}))
	f.enqueue(t, task.NewSetSingleton("h1", "name", payload.String("Home")))
	f.events.reset()

	rep, err := f.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Folded)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 4, rep.Removed)
	assert.False(t, rep.Halted)
	assert.Empty(t, f.pending(t))

	doc, ok := f.remote.Entity("h1", "d1")
	require.True(t, ok)
	assert.True(t, payload.Equal(payload.Object{"name": payload.String("B"), "price": payload.Int(5)}, doc))
	assert.Equal(t, payload.String("Home"), f.remote.Scope("h1")["name"])

	assert.Equal(t, []EventKind{EventStarted, EventTaskOK, EventTaskOK, EventDone}, f.events.kinds())
	started := f.events.events[0]
	assert.Equal(t, 2, started.Count)
	assert.Equal(t, 4, started.Stats.Input)
	assert.Len(t, f.events.events[1].Replaces, 3)
	done := f.events.events[3]
	require.NotNil(t, done.Report)
	assert.Equal(t, 2, done.Report.Succeeded)
	assert.NoError(t, done.Err)

	// Only one remote write for the three-task bucket.
	upserts := 0
	for _, c := range f.remote.Calls() {
		if c.Op == "upsert_merge" {
			upserts++
		}
	}
	assert.Equal(t, 1, upserts)
}

func TestFlush_HaltsOnFirstFailure(t *testing.T) {
	f := newFixture(t)
	first := f.enqueue(t, task.NewCreate("h1", "d1", payload.Object{"n": payload.Int(1)}))
	second := f.enqueue(t, task.NewCreate("h1", "d2", payload.Object{"n": payload.Int(2)}))
	third := f.enqueue(t, task.NewCreate("h1", "d3", payload.Object{"n": payload.Int(3)}))
	f.events.reset()

	f.remote.InjectFault(func(c memremote.Call) error {
		if c.EntityID == "d2" {
			return remote.Unavailable(c.Op, errors.New("connection reset"))
		}
		return nil
	})

	rep, err := f.engine.Flush(context.Background())

	require.Error(t, err)
	assert.True(t, IsTaskFailure(err))
	assert.True(t, executor.IsNetworkUnavailable(err))
	assert.True(t, rep.Halted)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 2, rep.Remaining())
	assert.Equal(t, StateHalted, f.engine.State())

	_, ok := f.remote.Entity("h1", "d1")
	assert.True(t, ok, "task 1 executed")
	for _, c := range f.remote.Calls() {
		assert.NotEqual(t, "d3", c.EntityID, "task 3 must not execute")
	}

	left := f.pending(t)
	require.Len(t, left, 2)
	assert.Equal(t, second.Seq, left[0].Seq)
	assert.Equal(t, third.Seq, left[1].Seq)
	assert.NotEqual(t, first.Seq, left[0].Seq)

	assert.Equal(t, []EventKind{EventStarted, EventTaskOK, EventTaskError, EventDone}, f.events.kinds())
	assert.Equal(t, second.Seq, f.events.events[2].Task.Seq)
	assert.Error(t, f.events.events[3].Err)

	// The next trigger resumes where the halted cycle stopped.
	f.remote.InjectFault(nil)
	rep, err = f.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cycle-2", rep.Cycle)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, StateIdle, f.engine.State())
	assert.Empty(t, f.pending(t))
}

func TestFlush_RejectedTaskStaysQueued(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, task.NewMarkChildReceived("h1", "missing", "c1", 5))

	_, err := f.engine.Flush(context.Background())

	assert.True(t, executor.IsRemoteRejected(err))
	assert.Len(t, f.pending(t), 1)
}

func TestFlush_StaleSkipRemovesTask(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, task.NewUpdate("h1", "d1", payload.Object{"name": payload.String("local")}))
	f.remote.SetLastModified("h1", "d1", 5_000)

	rep, err := f.engine.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Skipped)
	assert.Empty(t, f.pending(t))
	doc, _ := f.remote.Entity("h1", "d1")
	assert.NotContains(t, doc, "name")

	var ok Event
	for _, ev := range f.events.events {
		if ev.Kind == EventTaskOK {
			ok = ev
		}
	}
	assert.Equal(t, executor.OutcomeStaleSkip, ok.Outcome)
}

func TestFlush_PassThroughFIFO(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, task.NewSetSingleton("h1", "name", payload.String("first")))
	f.enqueue(t, task.NewSetSingleton("h2", "name", payload.String("other")))
	f.enqueue(t, task.NewSetSingleton("h1", "name", payload.String("second")))

	_, err := f.engine.Flush(context.Background())
	require.NoError(t, err)

	var scopes []string
	for _, c := range f.remote.Calls() {
		scopes = append(scopes, c.ScopeID)
	}
	assert.Equal(t, []string{"h1", "h2", "h1"}, scopes)
	assert.Equal(t, payload.String("second"), f.remote.Scope("h1")["name"])
}

// removeFailingStore fails every RemoveAll.
type removeFailingStore struct {
	*store.Store
}

func (removeFailingStore) RemoveAll(context.Context, []int64) error {
	return &store.StorageError{Op: "remove", Err: errors.New("disk I/O error")}
}

func TestFlush_RemoveFailureHalts(t *testing.T) {
	s := setupTestStore(t)
	r := memremote.New()
	e := New(removeFailingStore{s}, executor.New(r), WithCycleGenerator(testutil.NewSequenceGenerator("c")))

	_, err := s.Append(context.Background(), task.NewDelete("h1", "d1"))
	require.NoError(t, err)
	_, err = s.Append(context.Background(), task.NewDelete("h1", "d2"))
	require.NoError(t, err)

	rep, err := e.Flush(context.Background())

	assert.True(t, IsStorageFailure(err))
	assert.True(t, store.IsStorageError(err))
	assert.Zero(t, rep.Succeeded)
	assert.Equal(t, StateHalted, e.State())
	assert.Len(t, r.Calls(), 1, "halts before the second task")
}

func TestFlush_ListFailureHalts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.engine.Flush(context.Background())

	assert.True(t, IsStorageFailure(err))
	assert.Equal(t, StateHalted, f.engine.State())
	assert.Equal(t, []EventKind{EventDone}, f.events.kinds())
}

// gateExecutor blocks each Execute until released and records the context
// state it saw.
type gateExecutor struct {
	entered chan task.Task
	release chan struct{}

	mu       sync.Mutex
	executed []task.Task
	ctxErrs  []error
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{
		entered: make(chan task.Task, 16),
		release: make(chan struct{}),
	}
}

func (g *gateExecutor) Execute(ctx context.Context, t task.Task) (executor.Outcome, error) {
	g.entered <- t
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, t)
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	return executor.OutcomeApplied, nil
}

func TestFlush_ConcurrentTriggerIsBusy(t *testing.T) {
	s := setupTestStore(t)
	gate := newGateExecutor()
	e := New(s, gate)
	_, err := s.Append(context.Background(), task.NewDelete("h1", "d1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Flush(context.Background())
		done <- err
	}()

	<-gate.entered
	assert.Equal(t, StateExecuting, e.State())

	_, err = e.Flush(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, e.State())
}

func TestFlush_StopsAtTaskBoundary(t *testing.T) {
	s := setupTestStore(t)
	gate := newGateExecutor()
	e := New(s, gate)
	for _, id := range []string{"d1", "d2", "d3"} {
		_, err := s.Append(context.Background(), task.NewDelete("h1", id))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var rep Report
	go func() {
		var err error
		rep, err = e.Flush(ctx)
		done <- err
	}()

	<-gate.entered
	cancel()
	close(gate.release)
	err := <-done

	assert.True(t, IsStopped(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, rep.Halted)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, StateIdle, e.State())

	require.Len(t, gate.executed, 1, "in-flight task completes, the rest wait")
	assert.NoError(t, gate.ctxErrs[0], "in-flight call is not cancelled")

	left, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestObserver_PanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.engine.Subscribe(ObserverFunc(func(Event) { panic("boom") }))
	var after []EventKind
	f.engine.Subscribe(ObserverFunc(func(ev Event) { after = append(after, ev.Kind) }))

	f.enqueue(t, task.NewDelete("h1", "d1"))
	_, err := f.engine.Flush(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventQueued, EventStarted, EventTaskOK, EventDone}, after)
}

func TestObserver_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	count := 0
	unsubscribe := f.engine.Subscribe(ObserverFunc(func(Event) { count++ }))

	f.enqueue(t, task.NewDelete("h1", "d1"))
	unsubscribe()
	f.enqueue(t, task.NewDelete("h1", "d2"))

	assert.Equal(t, 1, count)
}

func TestSubscribeChan_DropsWhenFull(t *testing.T) {
	f := newFixture(t)
	ch, unsubscribe := f.engine.SubscribeChan(2)
	defer unsubscribe()

	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		f.enqueue(t, task.NewDelete("h1", id))
	}

	require.Len(t, ch, 2)
	ev := <-ch
	assert.Equal(t, EventQueued, ev.Kind)
	assert.Equal(t, "d1", ev.Task.EntityID)
}

func TestPlan_DoesNotExecute(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, task.NewCreate("h1", "d1", payload.Object{"a": payload.Int(1)}))
	f.enqueue(t, task.NewDelete("h1", "d1"))

	plan, err := f.engine.Plan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan, 1)
	assert.Equal(t, task.OpDelete, plan[0].Op)
	assert.Empty(t, f.remote.Calls())
	assert.Len(t, f.pending(t), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "folding", StateFolding.String())
	assert.Equal(t, "executing", StateExecuting.String())
	assert.Equal(t, "halted", StateHalted.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestCycleError_Message(t *testing.T) {
	err := &CycleError{Code: ErrCodeStopped, Cycle: "c-1", Err: context.Canceled}
	assert.Equal(t, "STOPPED: context canceled (cycle=c-1)", err.Error())

	err = &CycleError{
		Code:  ErrCodeTaskFailed,
		Cycle: "c-2",
		Task:  task.Task{Seq: 4, Draft: task.NewDelete("h1", "d1")},
		Err:   errors.New("boom"),
	}
	assert.Equal(t, "TASK_FAILED: boom (cycle=c-2, task=#4 delete_entity h1/d1)", err.Error())
}
