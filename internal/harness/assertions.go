package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote/memremote"
	"github.com/roach88/hearth/internal/store"
)

// AssertionContext provides access to the final state.
type AssertionContext struct {
	Store  *store.Store
	Remote *memremote.Remote
	Ctx    context.Context
}

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPendingCount:
		return assertPendingCount(actx, a, result.Trace)
	case AssertRemoteEntity:
		return assertRemoteEntity(actx, a)
	case AssertRemoteScope:
		return assertRemoteScope(actx, a)
	case AssertCallOrder:
		return assertCallOrder(actx.Remote.Calls(), a)
	case AssertCallCount:
		return assertCallCount(actx.Remote.Calls(), a)
	case AssertTraceCount:
		return assertTraceCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertPendingCount(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	tasks, err := actx.Store.ListAll(actx.Ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(tasks) != a.Count {
		seqs := make([]string, len(tasks))
		for i, t := range tasks {
			seqs[i] = t.String()
		}
		return &AssertionError{
			Type:     AssertPendingCount,
			Expected: fmt.Sprintf("%d pending", a.Count),
			Actual:   fmt.Sprintf("%d pending %v", len(tasks), seqs),
			Trace:    trace,
		}
	}
	return nil
}

func assertRemoteEntity(actx *AssertionContext, a Assertion) error {
	doc, ok := actx.Remote.Entity(a.Scope, a.Entity)
	key := a.Scope + "/" + a.Entity
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertRemoteEntity,
				Expected: key + " absent",
				Actual:   string(payload.MustCanonical(doc)),
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertRemoteEntity,
			Expected: key + " present",
			Actual:   "not found",
		}
	}
	return matchSubset(AssertRemoteEntity, key, doc, a.Expect)
}

func assertRemoteScope(actx *AssertionContext, a Assertion) error {
	return matchSubset(AssertRemoteScope, a.Scope, actx.Remote.Scope(a.Scope), a.Expect)
}

// matchSubset checks that every expected field is present in doc with an
// equal value. Fields not named in expect are ignored.
func matchSubset(kind, key string, doc payload.Object, expect map[string]any) error {
	want, err := toObject(expect)
	if err != nil {
		return fmt.Errorf("%s %s: expect: %w", kind, key, err)
	}
	for _, field := range want.SortedKeys() {
		got, ok := doc[field]
		if !ok || !payload.Equal(got, want[field]) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %s", key, field, encodeValue(want[field])),
				Actual:   string(payload.MustCanonical(doc)),
			}
		}
	}
	return nil
}

func encodeValue(v payload.Value) string {
	return strings.TrimSuffix(strings.TrimPrefix(string(payload.MustCanonical(payload.Object{"v": v})), `{"v":`), "}")
}

// assertCallOrder checks that ops appear in the call log in this order.
// Calls don't need to be consecutive.
func assertCallOrder(calls []memremote.Call, a Assertion) error {
	next := 0
	for _, c := range calls {
		if next < len(a.Ops) && c.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     AssertCallOrder,
			Expected: fmt.Sprintf("calls in order %v", a.Ops),
			Actual:   fmt.Sprintf("%v (missing from %q)", callOps(calls), a.Ops[next]),
		}
	}
	return nil
}

func assertCallCount(calls []memremote.Call, a Assertion) error {
	n := 0
	for _, c := range calls {
		if c.Op == a.Op {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d %s calls", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d in %v", n, callOps(calls)),
		}
	}
	return nil
}

func assertTraceCount(result *Result, a Assertion) error {
	if n := result.Count(a.Kind); n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

func callOps(calls []memremote.Call) []string {
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}
