package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hearth/internal/engine"
	"github.com/roach88/hearth/internal/executor"
)

// TraceEvent is the recorded form of one engine event.
type TraceEvent struct {
	Kind     string  `json:"kind"`
	Cycle    string  `json:"cycle,omitempty"`
	Task     string  `json:"task,omitempty"`
	Replaces []int64 `json:"replaces,omitempty"`
	Count    int     `json:"count,omitempty"`
	Outcome  string  `json:"outcome,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func newTraceEvent(ev engine.Event) TraceEvent {
	te := TraceEvent{Kind: string(ev.Kind), Cycle: ev.Cycle, Replaces: ev.Replaces}
	switch ev.Kind {
	case engine.EventQueued, engine.EventTaskOK, engine.EventTaskError:
		te.Task = ev.Task.String()
	case engine.EventStarted:
		te.Count = ev.Count
	case engine.EventDone:
		if ev.Report != nil {
			te.Count = ev.Report.Succeeded
		}
	}
	if ev.Kind == engine.EventTaskOK {
		te.Outcome = ev.Outcome.String()
	}
	if ev.Err != nil {
		te.Error = errorClass(ev.Err)
	}
	return te
}

// errorClass reduces an event error to its category so traces stay stable
// across message wording changes.
func errorClass(err error) string {
	var ce *engine.CycleError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var ee *executor.Error
	if errors.As(err, &ee) {
		return string(ee.Kind)
	}
	return err.Error()
}

// String renders the event on one line for golden comparison.
func (e TraceEvent) String() string {
	var b strings.Builder
	b.WriteString(e.Kind)
	if e.Cycle != "" {
		fmt.Fprintf(&b, " cycle=%s", e.Cycle)
	}
	if e.Task != "" {
		fmt.Fprintf(&b, " task=%q", e.Task)
	}
	if len(e.Replaces) > 0 {
		fmt.Fprintf(&b, " replaces=%v", e.Replaces)
	}
	if e.Count > 0 {
		fmt.Fprintf(&b, " count=%d", e.Count)
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, " outcome=%s", e.Outcome)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%s", e.Error)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every flush expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every engine event in emission order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns the number of trace events of kind.
func (r *Result) Count(kind string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
