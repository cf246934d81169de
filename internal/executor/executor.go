// Package executor replays one task against the remote store.
//
// Each operation maps to one idempotent remote call, except updates, which
// first read the entity's last-modified marker: when the remote copy was
// written after the task was enqueued the update is skipped (last write wins
// on wall-clock time).
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/hearth/internal/remote"
	"github.com/roach88/hearth/internal/task"
)

// Outcome is the result of a successful execution.
type Outcome int

const (
	// OutcomeApplied means the remote write was performed.
	OutcomeApplied Outcome = iota + 1
	// OutcomeStaleSkip means an update was discarded because the remote
	// copy is newer. It counts as success: the task leaves the queue.
	OutcomeStaleSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStaleSkip:
		return "stale-skip"
	default:
		return "unknown"
	}
}

// Executor is stateless apart from its configuration and is safe for
// concurrent use.
type Executor struct {
	remote  remote.Store
	timeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithCallTimeout bounds each Execute call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// New creates an executor writing to r.
func New(r remote.Store, opts ...Option) *Executor {
	e := &Executor{remote: r}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs t against the remote. A non-nil error is always an *Error.
func (e *Executor) Execute(ctx context.Context, t task.Task) (Outcome, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outcome, err := e.execute(ctx, t)
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			return 0, ee
		}
		return 0, classify(t, err)
	}
	return outcome, nil
}

func (e *Executor) execute(ctx context.Context, t task.Task) (Outcome, error) {
	switch t.Op {
	case task.OpCreate:
		if err := e.remote.UpsertMerge(ctx, t.ScopeID, t.EntityID, t.Payload, t.EnqueuedAt); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpUpdate:
		marker, ok, err := e.remote.ReadLastModified(ctx, t.ScopeID, t.EntityID)
		if err != nil {
			return 0, err
		}
		if ok && marker > t.EnqueuedAt {
			return OutcomeStaleSkip, nil
		}
		if err := e.remote.UpsertMerge(ctx, t.ScopeID, t.EntityID, t.Payload, t.EnqueuedAt); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpDelete:
		if err := e.remote.Delete(ctx, t.ScopeID, t.EntityID); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpSetSingleton:
		args, err := task.DecodeSingletonField(t.Payload)
		if err != nil {
			return 0, rejected(t, "decode arguments: %w", err)
		}
		if err := e.remote.SetField(ctx, t.ScopeID, args.Field, args.Value); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpRemoveMember:
		args, err := task.DecodeMemberRemoval(t.Payload)
		if err != nil {
			return 0, rejected(t, "decode arguments: %w", err)
		}
		if err := e.remote.ArrayRemove(ctx, t.ScopeID, args.Field, args.Member); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpBulkTransition:
		args, err := task.DecodeStatusTransition(t.Payload)
		if err != nil {
			return 0, rejected(t, "decode arguments: %w", err)
		}
		if err := e.remote.BulkTransition(ctx, t.ScopeID, args.Collection, args.IDs, args.From, args.To); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	case task.OpMarkChildReceived:
		args, err := task.DecodeChildReceipt(t.Payload)
		if err != nil {
			return 0, rejected(t, "decode arguments: %w", err)
		}
		if err := e.remote.MarkChildReceived(ctx, t.ScopeID, t.EntityID, args.Child, args.ReceivedAt); err != nil {
			return 0, err
		}
		return OutcomeApplied, nil

	default:
		return 0, rejected(t, "unknown operation %q", t.Op)
	}
}
