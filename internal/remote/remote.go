// Package remote defines the remote document store the queue replays into.
//
// The store is organised as scopes (a household, a tenant) holding one scope
// document and any number of entity documents. Entity documents carry a
// last-modified marker in wall-clock milliseconds, written by every
// UpsertMerge and read by the update conflict guard.
//
// Implementations live in subpackages: memremote (in-process, used by tests
// and the "memory" remote driver) and mongoremote (MongoDB).
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hearth/internal/payload"
)

// EntityCollection is the collection create, update and delete write to.
// BulkTransition may name it or any other collection.
const EntityCollection = "entities"

// Store is the remote write surface used by the executor.
//
// Every method must be safe to repeat: replaying a call after an ambiguous
// failure leaves the remote in the same state as a single call.
type Store interface {
	// UpsertMerge writes fields into the entity document, creating it if
	// absent and leaving unnamed fields untouched. The marker is set to
	// modifiedAt.
	UpsertMerge(ctx context.Context, scopeID, entityID string, fields payload.Object, modifiedAt int64) error

	// ReadLastModified returns the entity's marker. ok is false when the
	// document or its marker does not exist.
	ReadLastModified(ctx context.Context, scopeID, entityID string) (marker int64, ok bool, err error)

	// Delete removes the entity document. Deleting an absent document succeeds.
	Delete(ctx context.Context, scopeID, entityID string) error

	// SetField sets one field on the scope document, creating it if absent.
	SetField(ctx context.Context, scopeID, field string, value payload.Value) error

	// ArrayRemove removes every element equal to member from an array field
	// of the scope document. Missing documents and fields are a no-op.
	ArrayRemove(ctx context.Context, scopeID, field string, member payload.Value) error

	// BulkTransition sets status=to on every listed document of collection
	// in one atomic batch. When from is non-empty only documents currently
	// in status from are changed.
	BulkTransition(ctx context.Context, scopeID, collection string, ids []string, from, to string) error

	// MarkChildReceived flags one child of an entity as received.
	// The parent entity must exist.
	MarkChildReceived(ctx context.Context, scopeID, entityID, child string, receivedAt int64) error
}

// Pinger is implemented by stores that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrUnavailable marks failures caused by the remote being unreachable:
// no connectivity, timeouts, closed connections. Implementations wrap it
// so that errors.Is(err, ErrUnavailable) holds.
var ErrUnavailable = errors.New("remote unavailable")

// ErrNotFound is returned when a write needs a document that does not exist.
var ErrNotFound = errors.New("remote document not found")

// RejectedError is a definitive refusal by the remote: validation failure,
// permission denied, malformed write. Repeating the call will not help.
type RejectedError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote rejected %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("remote rejected %s: %s", e.Op, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// the original cause stays reachable through errors.As.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
