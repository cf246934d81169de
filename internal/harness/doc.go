// Package harness runs replay scenarios against the real sync engine.
//
// A scenario drives a fresh queue, an in-process remote and a
// manual clock through a list of steps, records every engine event, and
// then checks assertions against the queue, the remote and the trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: fold_create_then_update
//	description: "An update folds into the pending create"
//	clock: 1000
//	flow:
//	  - enqueue: {op: create_entity, scope: h1, entity: d1, payload: {name: Milk}}
//	  - advance: 10ms
//	  - enqueue: {op: update_entity, scope: h1, entity: d1, payload: {qty: 2}}
//	  - flush:
//	      expect: {succeeded: 1, removed: 2}
//	assertions:
//	  - type: pending_count
//	    count: 0
//	  - type: remote_entity
//	    scope: h1
//	    entity: d1
//	    expect: {name: Milk, qty: 2}
//
// Step kinds:
//   - enqueue: append a task (op, scope, entity, payload)
//   - advance: move the clock forward by a duration
//   - offline: true/false switches the remote's connectivity
//   - fault: fail matching remote calls (op, entity, error) until cleared with {clear: true}
//   - seed: write a document directly into the remote, optionally with a last-modified marker
//   - flush: run one cycle, optionally checking its report
//
// Assertion types:
//   - pending_count: number of tasks still queued
//   - remote_entity: subset match of an entity document, or absent: true
//   - remote_scope: subset match of the scope document
//   - call_order: remote operations appear in this relative order
//   - call_count: number of remote calls of one operation
//   - trace_count: number of engine events of one kind
//
// # Golden Files
//
// RunWithGolden renders the trace one event per line and compares it with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
