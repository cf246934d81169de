// Package task defines the pending mutation tasks held by the offline queue.
//
// A Task is one intended remote write. Tasks are immutable once appended:
// corrections are expressed as new tasks, never as edits. Seq is assigned by
// the durable store and gives the global FIFO order; EnqueuedAt is wall-clock
// milliseconds and is used only for conflict comparison.
package task

import (
	"errors"
	"fmt"

	"github.com/roach88/hearth/internal/payload"
)

// Operation is the persisted tag naming what a task does remotely.
// The taxonomy is open: unknown tags decode, but fail Validate.
type Operation string

const (
	// OpCreate writes the full initial state of an entity.
	OpCreate Operation = "create_entity"
	// OpUpdate writes a partial patch to an entity, guarded by last-write-wins.
	OpUpdate Operation = "update_entity"
	// OpDelete removes an entity.
	OpDelete Operation = "delete_entity"
	// OpSetSingleton sets one field on the scope document.
	OpSetSingleton Operation = "set_singleton_field"
	// OpRemoveMember removes one element from an array field of the scope document.
	OpRemoveMember Operation = "remove_member"
	// OpBulkTransition moves a batch of entities from one status to another.
	OpBulkTransition Operation = "bulk_status_transition"
	// OpMarkChildReceived marks one child of an entity as received.
	OpMarkChildReceived Operation = "mark_child_received"
)

// Operations lists every known operation in declaration order.
var Operations = []Operation{
	OpCreate,
	OpUpdate,
	OpDelete,
	OpSetSingleton,
	OpRemoveMember,
	OpBulkTransition,
	OpMarkChildReceived,
}

// Known reports whether op is one of the declared operations.
func (op Operation) Known() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// Foldable reports whether tasks of this operation may be coalesced with
// other tasks targeting the same entity.
func (op Operation) Foldable() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// requiresEntity reports whether the operation targets one entity.
func (op Operation) requiresEntity() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpMarkChildReceived:
		return true
	default:
		return false
	}
}

// Draft is a task that has not yet been assigned a sequence key.
type Draft struct {
	Op         Operation      `json:"operation"`
	ScopeID    string         `json:"scope_id"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    payload.Object `json:"payload"`
	EnqueuedAt int64          `json:"enqueued_at"`
}

// Task is a Draft stored in the queue under Seq.
type Task struct {
	Seq int64 `json:"seq"`
	Draft
}

// BucketKey identifies a fold bucket: all tasks for one entity in one scope.
type BucketKey struct {
	ScopeID  string
	EntityID string
}

// String renders the key as "scope/entity".
func (k BucketKey) String() string {
	return k.ScopeID + "/" + k.EntityID
}

// Bucket returns the task's fold bucket. ok is false for tasks that are
// never folded: non-foldable operations, or tasks missing either identifier.
func (t Task) Bucket() (key BucketKey, ok bool) {
	if !t.Op.Foldable() || t.ScopeID == "" || t.EntityID == "" {
		return BucketKey{}, false
	}
	return BucketKey{ScopeID: t.ScopeID, EntityID: t.EntityID}, true
}

// String is a short human-readable description used in logs.
func (t Task) String() string {
	if t.EntityID == "" {
		return fmt.Sprintf("#%d %s %s", t.Seq, t.Op, t.ScopeID)
	}
	return fmt.Sprintf("#%d %s %s/%s", t.Seq, t.Op, t.ScopeID, t.EntityID)
}

// ErrInvalid is returned (wrapped) by Validate.
var ErrInvalid = errors.New("invalid task")

// Validate checks that the draft carries every field its operation needs.
func (d Draft) Validate() error {
	if !d.Op.Known() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalid, d.Op)
	}
	if d.ScopeID == "" {
		return fmt.Errorf("%w: %s requires scope_id", ErrInvalid, d.Op)
	}
	if d.Op.requiresEntity() && d.EntityID == "" {
		return fmt.Errorf("%w: %s requires entity_id", ErrInvalid, d.Op)
	}
	if d.EnqueuedAt < 0 {
		return fmt.Errorf("%w: negative enqueued_at %d", ErrInvalid, d.EnqueuedAt)
	}

	var err error
	switch d.Op {
	case OpSetSingleton:
		_, err = DecodeSingletonField(d.Payload)
	case OpRemoveMember:
		_, err = DecodeMemberRemoval(d.Payload)
	case OpBulkTransition:
		_, err = DecodeStatusTransition(d.Payload)
	case OpMarkChildReceived:
		_, err = DecodeChildReceipt(d.Payload)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, d.Op, err)
	}
	return nil
}

// NewCreate drafts a create with the entity's full initial fields.
func NewCreate(scopeID, entityID string, fields payload.Object) Draft {
	return Draft{Op: OpCreate, ScopeID: scopeID, EntityID: entityID, Payload: fields}
}

// NewUpdate drafts a partial update of an entity.
func NewUpdate(scopeID, entityID string, patch payload.Object) Draft {
	return Draft{Op: OpUpdate, ScopeID: scopeID, EntityID: entityID, Payload: patch}
}

// NewDelete drafts the removal of an entity.
func NewDelete(scopeID, entityID string) Draft {
	return Draft{Op: OpDelete, ScopeID: scopeID, EntityID: entityID, Payload: payload.Object{}}
}

// NewSetSingleton drafts setting one field on the scope document.
func NewSetSingleton(scopeID, field string, value payload.Value) Draft {
	return Draft{Op: OpSetSingleton, ScopeID: scopeID, Payload: SingletonField{Field: field, Value: value}.Object()}
}

// NewRemoveMember drafts removing member from the array field of the scope document.
func NewRemoveMember(scopeID, field string, member payload.Value) Draft {
	return Draft{Op: OpRemoveMember, ScopeID: scopeID, Payload: MemberRemoval{Field: field, Member: member}.Object()}
}

// NewBulkTransition drafts a batch status change.
func NewBulkTransition(scopeID string, st StatusTransition) Draft {
	return Draft{Op: OpBulkTransition, ScopeID: scopeID, Payload: st.Object()}
}

// NewMarkChildReceived drafts marking child of parentID as received at receivedAt (ms).
func NewMarkChildReceived(scopeID, parentID, child string, receivedAt int64) Draft {
	return Draft{
		Op:       OpMarkChildReceived,
		ScopeID:  scopeID,
		EntityID: parentID,
		Payload:  ChildReceipt{Child: child, ReceivedAt: receivedAt}.Object(),
	}
}
