package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name matches scenario name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_FlushExpectationMismatch(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: wrong counts are reported, not fatal
flow:
  - enqueue: {op: delete_entity, scope: h1, entity: d1}
  - flush:
      expect: {succeeded: 2, halted: true}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "halted=false, want true")
	assert.Contains(t, result.Errors[1], "succeeded=1, want 2")
}

func TestRun_AssertionFailures(t *testing.T) {
	s := mustParse(t, `
name: failing
description: every assertion type can fail
flow:
  - enqueue: {op: create_entity, scope: h1, entity: d1, payload: {name: A}}
assertions:
  - type: pending_count
    count: 0
  - type: remote_entity
    scope: h1
    entity: d1
    expect: {name: A}
  - type: remote_scope
    scope: h1
    expect: {name: Home}
  - type: call_order
    ops: [upsert_merge]
  - type: call_count
    op: upsert_merge
    count: 1
  - type: trace_count
    kind: sync-started
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "1 pending")
	assert.Contains(t, result.Errors[1], "not found")
	assert.Contains(t, result.Errors[2], `field "name" = "Home"`)
	assert.Contains(t, result.Errors[3], `missing from "upsert_merge"`)
	assert.Contains(t, result.Errors[4], "0 in []")
	assert.Contains(t, result.Errors[5], "1 sync-started events")
}

func TestRun_InvalidEnqueue(t *testing.T) {
	s := mustParse(t, `
name: invalid
description: refused tasks are expected, accepted ones are not
flow:
  - enqueue: {op: teleport, scope: h1, invalid: true}
  - enqueue: {op: update_entity, scope: h1, invalid: true}
  - enqueue: {op: delete_entity, scope: h1, entity: d1, invalid: true}
assertions:
  - type: pending_count
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected the task to be refused")
}

func TestRun_CreateWithoutEntityGetsGeneratedID(t *testing.T) {
	s := mustParse(t, `
name: generated
description: creates without an entity get a sequence ID
flow:
  - enqueue: {op: create_entity, scope: h1, payload: {name: A}}
  - flush: {}
assertions:
  - type: remote_entity
    scope: h1
    entity: entity-1
    expect: {name: A}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, `sync-queued task="#1 create_entity h1/entity-1"`, result.Trace[0].String())
}

func TestRun_FaultMatchingAndClear(t *testing.T) {
	s := mustParse(t, `
name: faults
description: a fault hits only matching calls until cleared
flow:
  - enqueue: {op: create_entity, scope: h1, entity: a, payload: {n: 1}}
  - enqueue: {op: create_entity, scope: h1, entity: b, payload: {n: 2}}
  - fault: {op: upsert_merge, entity: b, error: unavailable}
  - flush:
      expect: {halted: true, succeeded: 1}
  - fault: {clear: true}
  - flush:
      expect: {succeeded: 1}
assertions:
  - type: pending_count
    count: 0
  - type: call_count
    op: upsert_merge
    count: 3
  - type: trace_count
    kind: sync-task-error
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var errEvent TraceEvent
	for _, ev := range result.Trace {
		if ev.Kind == "sync-task-error" {
			errEvent = ev
		}
	}
	assert.Equal(t, "NETWORK_UNAVAILABLE", errEvent.Error)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing name", "description: x\nflow: [{flush: {}}]\n", "name is required"},
		{"missing description", "name: x\nflow: [{flush: {}}]\n", "description is required"},
		{"empty flow", "name: x\ndescription: x\n", "flow list is required"},
		{"unknown field", "name: x\ndescription: x\nflow: [{flush: {}}]\nassertion: []\n", "not found in type"},
		{"empty step", "name: x\ndescription: x\nflow: [{}]\n", "flow[0]: empty step"},
		{"two kinds", "name: x\ndescription: x\nflow: [{flush: {}, offline: true}]\n", "more than one"},
		{"unknown op", "name: x\ndescription: x\nflow: [{enqueue: {op: teleport, scope: h1}}]\n", `unknown operation "teleport"`},
		{"bad fault", "name: x\ndescription: x\nflow: [{fault: {error: boom}}]\n", `unknown error "boom"`},
		{"bad seed", "name: x\ndescription: x\nflow: [{seed: {scope: h1}}]\n", "scope and entity are required"},
		{"bad duration", "name: x\ndescription: x\nflow: [{advance: soon}]\n", "failed to parse YAML"},
		{"unknown assertion", "name: x\ndescription: x\nflow: [{flush: {}}]\nassertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"entity without expect", "name: x\ndescription: x\nflow: [{flush: {}}]\nassertions: [{type: remote_entity, scope: h1, entity: d1}]\n", "expect or absent"},
		{"call_order without ops", "name: x\ndescription: x\nflow: [{flush: {}}]\nassertions: [{type: call_order}]\n", "ops list is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTraceEventString(t *testing.T) {
	ev := TraceEvent{
		Kind:     "sync-task-ok",
		Cycle:    "cycle-1",
		Task:     "#3 update_entity h1/d1",
		Replaces: []int64{2, 3},
		Outcome:  "stale-skip",
	}
	assert.Equal(t, `sync-task-ok cycle=cycle-1 task="#3 update_entity h1/d1" replaces=[2 3] outcome=stale-skip`, ev.String())

	assert.Equal(t, "sync-done cycle=cycle-2 error=STOPPED", TraceEvent{Kind: "sync-done", Cycle: "cycle-2", Error: "STOPPED"}.String())
}

func TestAssertionErrorIncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 sync-done events",
		Actual:   "0",
		Trace:    []TraceEvent{{Kind: "sync-queued", Task: "#1 delete_entity h1/d1"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, `[1] sync-queued task="#1 delete_entity h1/d1"`)
}
