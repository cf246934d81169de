// Package fold reduces the pending task list to the minimal equivalent list.
//
// Executing the folded list in order yields the same final remote state as
// executing the original list in order, with fewer round-trips. Fold is a
// pure function: no I/O, no clock, inputs are never mutated.
//
// Rules per fold bucket (scope, entity), applied in seq order:
//   - a delete dominates: the bucket folds to one delete, whatever else it holds
//   - create then updates: one create, payload overlaid key by key
//   - updates only: one update, payload overlaid key by key
//   - a lone create folds to itself
//
// Tasks without a bucket pass through unchanged, in their original order.
package fold

import (
	"fmt"
	"strings"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/task"
)

// Folded is one task ready for execution plus the original seqs it stands for.
//
// The embedded Task carries the seq of the last task folded into it and the
// greatest EnqueuedAt among them, so the update conflict guard compares the
// remote marker against the newest local intent.
type Folded struct {
	task.Task

	// Replaces lists every original seq this task stands for, ascending,
	// including its own. All of them leave the store once it succeeds.
	Replaces []int64 `json:"replaces"`

	// Dropped lists the seqs whose effect was discarded rather than merged:
	// creates and updates swallowed by a delete in the same bucket.
	Dropped []int64 `json:"dropped,omitempty"`
}

// Coalesced reports whether this task stands for more than one original.
func (f Folded) Coalesced() bool {
	return len(f.Replaces) > 1
}

// Plan is the ordered output of Fold.
type Plan []Folded

// Stats summarises a fold.
type Stats struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	Coalesced int `json:"coalesced"`
	Dropped   int `json:"dropped"`
}

// Stats returns counts for events, logs and CLI output.
func (p Plan) Stats() Stats {
	var st Stats
	for _, f := range p {
		st.Input += len(f.Replaces)
		st.Dropped += len(f.Dropped)
	}
	st.Output = len(p)
	st.Coalesced = st.Input - st.Output
	return st
}

// String renders one line per folded task:
//
//	#3 create_entity h1/d1 at=1200 payload={"name":"B","price":5} replaces=[1 2 3]
func (p Plan) String() string {
	var b strings.Builder
	for _, f := range p {
		data, err := payload.Canonical(f.Payload)
		if err != nil {
			data = []byte(fmt.Sprintf("<%v>", err))
		}
		fmt.Fprintf(&b, "%s at=%d payload=%s replaces=%v", f.Task, f.EnqueuedAt, data, f.Replaces)
		if len(f.Dropped) > 0 {
			fmt.Fprintf(&b, " dropped=%v", f.Dropped)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// bucket accumulates the fold state of one (scope, entity).
type bucket struct {
	key        task.BucketKey
	op         task.Operation
	fields     payload.Object
	lastSeq    int64
	enqueuedAt int64
	seqs       []int64
	deletes    map[int64]bool
}

func (b *bucket) add(t task.Task) {
	b.seqs = append(b.seqs, t.Seq)
	b.lastSeq = t.Seq
	if t.EnqueuedAt > b.enqueuedAt {
		b.enqueuedAt = t.EnqueuedAt
	}

	if t.Op == task.OpDelete {
		if b.deletes == nil {
			b.deletes = make(map[int64]bool)
		}
		b.deletes[t.Seq] = true
	}

	switch {
	case b.op == task.OpDelete:
		// Delete dominates, including over anything that arrives after it.
	case t.Op == task.OpDelete:
		b.op = task.OpDelete
		b.fields = payload.Object{}
	case b.op == "":
		b.op = t.Op
		b.fields = t.Payload.Clone()
	default:
		// create+update -> create, update+update -> update,
		// update+create -> create (the create writes over earlier patches).
		if t.Op == task.OpCreate {
			b.op = task.OpCreate
		}
		b.fields = payload.Overlay(b.fields, t.Payload)
	}
}

func (b *bucket) result() Folded {
	f := Folded{
		Task: task.Task{
			Seq: b.lastSeq,
			Draft: task.Draft{
				Op:         b.op,
				ScopeID:    b.key.ScopeID,
				EntityID:   b.key.EntityID,
				Payload:    b.fields,
				EnqueuedAt: b.enqueuedAt,
			},
		},
		Replaces: b.seqs,
	}
	if b.op == task.OpDelete {
		for _, seq := range b.seqs {
			if !b.deletes[seq] {
				f.Dropped = append(f.Dropped, seq)
			}
		}
	}
	if f.Payload == nil {
		f.Payload = payload.Object{}
	}
	return f
}

// Fold reduces tasks (ordered by seq ascending, as ListAll returns them)
// to the minimal equivalent Plan.
//
// Each bucket's folded task is emitted at the position of the bucket's first
// task; pass-through tasks keep their own positions. Both groups therefore
// keep their internal relative order.
func Fold(tasks []task.Task) Plan {
	type slot struct {
		passThrough *task.Task
		bucket      *bucket
	}

	slots := make([]slot, 0, len(tasks))
	buckets := make(map[task.BucketKey]*bucket)

	for i := range tasks {
		t := tasks[i]
		key, ok := t.Bucket()
		if !ok {
			slots = append(slots, slot{passThrough: &t})
			continue
		}
		b, seen := buckets[key]
		if !seen {
			b = &bucket{key: key}
			buckets[key] = b
			slots = append(slots, slot{bucket: b})
		}
		b.add(t)
	}

	plan := make(Plan, 0, len(slots))
	for _, s := range slots {
		if s.passThrough != nil {
			t := *s.passThrough
			t.Payload = t.Payload.Clone()
			if t.Payload == nil {
				t.Payload = payload.Object{}
			}
			plan = append(plan, Folded{Task: t, Replaces: []int64{t.Seq}})
			continue
		}
		plan = append(plan, s.bucket.result())
	}
	return plan
}
