// Package memremote is an in-process remote.Store.
//
// It applies writes with the same merge semantics as the MongoDB adapter and
// adds the hooks tests need: an offline switch, per-call fault injection, a
// call log, and direct seeding of documents and markers to simulate writes
// from other devices.
package memremote

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote"
)

var errOffline = errors.New("offline")

// Call records one remote invocation.
type Call struct {
	Op       string
	ScopeID  string
	EntityID string
}

// Fault decides whether a call fails. Returning nil lets the call proceed.
type Fault func(Call) error

type document struct {
	fields     payload.Object
	modifiedAt int64
	hasMarker  bool
}

type docKey struct {
	collection string
	scopeID    string
	id         string
}

// Remote is safe for concurrent use.
type Remote struct {
	mu      sync.Mutex
	docs    map[docKey]*document
	scopes  map[string]payload.Object
	calls   []Call
	offline bool
	fault   Fault
}

var (
	_ remote.Store  = (*Remote)(nil)
	_ remote.Pinger = (*Remote)(nil)
)

// New returns an empty, online remote.
func New() *Remote {
	return &Remote{
		docs:   make(map[docKey]*document),
		scopes: make(map[string]payload.Object),
	}
}

// SetOffline makes every call fail with remote.ErrUnavailable until reset.
func (r *Remote) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// InjectFault installs f; pass nil to clear it.
func (r *Remote) InjectFault(f Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = f
}

// Calls returns a copy of the call log.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Entity returns a copy of an entity document's fields.
func (r *Remote) Entity(scopeID, entityID string) (payload.Object, bool) {
	return r.Document(remote.EntityCollection, scopeID, entityID)
}

// Document returns a copy of any collection's document fields.
func (r *Remote) Document(collection, scopeID, id string) (payload.Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[docKey{collection, scopeID, id}]
	if !ok {
		return nil, false
	}
	return d.fields.Clone(), true
}

// Scope returns a copy of the scope document.
func (r *Remote) Scope(scopeID string) payload.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scopes[scopeID].Clone()
}

// Put seeds a document directly, bypassing faults and the call log.
func (r *Remote) Put(collection, scopeID, id string, fields payload.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields = fields.Clone()
	if fields == nil {
		fields = payload.Object{}
	}
	r.docs[docKey{collection, scopeID, id}] = &document{fields: fields}
}

// SetLastModified overwrites an entity's marker, creating an empty document
// if needed. Simulates a newer write from another device.
func (r *Remote) SetLastModified(scopeID, entityID string, ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.entity(scopeID, entityID, true)
	d.modifiedAt = ms
	d.hasMarker = true
}

// Len returns the number of documents in a collection across all scopes.
func (r *Remote) Len(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.docs {
		if k.collection == collection {
			n++
		}
	}
	return n
}

// begin records the call and reports any configured failure. Callers hold mu.
func (r *Remote) begin(ctx context.Context, c Call) error {
	r.calls = append(r.calls, c)
	if err := ctx.Err(); err != nil {
		return remote.Unavailable(c.Op, err)
	}
	if r.offline {
		return remote.Unavailable(c.Op, errOffline)
	}
	if r.fault != nil {
		return r.fault(c)
	}
	return nil
}

func (r *Remote) entity(scopeID, entityID string, create bool) *document {
	k := docKey{remote.EntityCollection, scopeID, entityID}
	d, ok := r.docs[k]
	if !ok && create {
		d = &document{fields: payload.Object{}}
		r.docs[k] = d
	}
	return d
}

func (r *Remote) UpsertMerge(ctx context.Context, scopeID, entityID string, fields payload.Object, modifiedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "upsert_merge", ScopeID: scopeID, EntityID: entityID}); err != nil {
		return err
	}
	d := r.entity(scopeID, entityID, true)
	d.fields = payload.Apply(d.fields, fields)
	d.modifiedAt = modifiedAt
	d.hasMarker = true
	return nil
}

func (r *Remote) ReadLastModified(ctx context.Context, scopeID, entityID string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "read_last_modified", ScopeID: scopeID, EntityID: entityID}); err != nil {
		return 0, false, err
	}
	d := r.entity(scopeID, entityID, false)
	if d == nil || !d.hasMarker {
		return 0, false, nil
	}
	return d.modifiedAt, true, nil
}

func (r *Remote) Delete(ctx context.Context, scopeID, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "delete", ScopeID: scopeID, EntityID: entityID}); err != nil {
		return err
	}
	delete(r.docs, docKey{remote.EntityCollection, scopeID, entityID})
	return nil
}

func (r *Remote) SetField(ctx context.Context, scopeID, field string, value payload.Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "set_field", ScopeID: scopeID}); err != nil {
		return err
	}
	r.scopes[scopeID] = payload.Overlay(r.scopes[scopeID], payload.Object{field: value})
	return nil
}

func (r *Remote) ArrayRemove(ctx context.Context, scopeID, field string, member payload.Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "array_remove", ScopeID: scopeID}); err != nil {
		return err
	}
	doc, ok := r.scopes[scopeID]
	if !ok {
		return nil
	}
	arr, ok := doc[field].(payload.Array)
	if !ok {
		return nil
	}
	kept := make(payload.Array, 0, len(arr))
	for _, v := range arr {
		if !payload.Equal(v, member) {
			kept = append(kept, v)
		}
	}
	doc[field] = kept
	return nil
}

func (r *Remote) BulkTransition(ctx context.Context, scopeID, collection string, ids []string, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "bulk_transition", ScopeID: scopeID}); err != nil {
		return err
	}
	for _, id := range ids {
		d, ok := r.docs[docKey{collection, scopeID, id}]
		if !ok {
			continue
		}
		if from != "" && !payload.Equal(d.fields["status"], payload.String(from)) {
			continue
		}
		d.fields["status"] = payload.String(to)
	}
	return nil
}

func (r *Remote) MarkChildReceived(ctx context.Context, scopeID, entityID, child string, receivedAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(ctx, Call{Op: "mark_child_received", ScopeID: scopeID, EntityID: entityID}); err != nil {
		return err
	}
	d := r.entity(scopeID, entityID, false)
	if d == nil {
		return fmt.Errorf("mark %s/%s child %s: %w", scopeID, entityID, child, remote.ErrNotFound)
	}
	children, _ := d.fields["children"].(payload.Object)
	children = payload.Overlay(children, payload.Object{
		child: payload.Object{
			"received":    payload.Bool(true),
			"received_at": payload.Int(receivedAt),
		},
	})
	d.fields["children"] = children
	return nil
}

// Ping fails while the remote is offline.
func (r *Remote) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return remote.Unavailable("ping", errOffline)
	}
	return ctx.Err()
}
