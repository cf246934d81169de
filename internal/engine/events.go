package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/hearth/internal/executor"
	"github.com/roach88/hearth/internal/fold"
	"github.com/roach88/hearth/internal/task"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	// EventQueued follows a successful Enqueue. Task is the stored task.
	EventQueued EventKind = "sync-queued"
	// EventStarted opens a cycle. Count is the folded task count.
	EventStarted EventKind = "sync-started"
	// EventTaskOK follows each successful task. Outcome tells applied from stale-skip.
	EventTaskOK EventKind = "sync-task-ok"
	// EventTaskError follows the failed task that halts a cycle.
	EventTaskError EventKind = "sync-task-error"
	// EventDone closes every cycle that emitted EventStarted. Report is set.
	EventDone EventKind = "sync-done"
)

// Event is one lifecycle notification. Fields not relevant to Kind are zero.
type Event struct {
	Kind     EventKind
	Cycle    string
	Task     task.Task
	Replaces []int64
	Count    int
	Stats    fold.Stats
	Outcome  executor.Outcome
	Err      error
	Report   *Report
}

// Observer receives lifecycle events. OnEvent runs on the flushing or
// enqueuing goroutine and must return promptly.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (o *observers) add(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = obs
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// emit delivers ev to every observer in subscription order.
func (o *observers) emit(ev Event) {
	o.mu.RLock()
	ids := slices.Sorted(maps.Keys(o.subs))
	snapshot := make([]Observer, len(ids))
	for i, id := range ids {
		snapshot[i] = o.subs[id]
	}
	o.mu.RUnlock()

	for _, obs := range snapshot {
		deliver(obs, ev)
	}
}

func deliver(obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("observer panicked",
				"event", ev.Kind,
				"cycle", ev.Cycle,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	obs.OnEvent(ev)
}

// Subscribe registers obs and returns a function that removes it.
func (e *Engine) Subscribe(obs Observer) (unsubscribe func()) {
	return e.observers.add(obs)
}

// SubscribeChan returns a channel receiving every event. Events that do not
// fit in the buffer are dropped rather than blocking the cycle. The returned
// function unsubscribes; the channel is not closed, so the consumer stops
// reading when it unsubscribes.
func (e *Engine) SubscribeChan(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	unsubscribe := e.Subscribe(ObserverFunc(func(ev Event) {
		select {
		case ch <- ev:
		default:
			slog.Debug("event dropped: subscriber buffer full", "event", ev.Kind, "cycle", ev.Cycle)
		}
	}))
	return ch, unsubscribe
}
