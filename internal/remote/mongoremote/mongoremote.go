// Package mongoremote implements remote.Store on MongoDB.
//
// Layout:
//
//	scopes:      { _id: scopeID, <singleton fields> }
//	entities:    { _id: "scope/entity", _scope, _entity, _modifiedAt, <fields> }
//	<collection> documents addressed by BulkTransition share the entity _id form.
//
// Writes use majority write concern; an acknowledged write survives a
// primary failover.
package mongoremote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote"
)

// Reserved document fields. Payload keys may not use them.
const (
	fieldID         = "_id"
	fieldScope      = "_scope"
	fieldEntity     = "_entity"
	fieldModifiedAt = "_modifiedAt"

	scopesCollection = "scopes"
)

var (
	_ remote.Store  = (*Remote)(nil)
	_ remote.Pinger = (*Remote)(nil)
)

// Remote is a remote.Store backed by one MongoDB database.
type Remote struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and selects database. The caller must Close the result.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*Remote, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Remote {
	dbOpt := options.Database().
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Majority())
	return &Remote{
		client: client,
		db:     client.Database(database, dbOpt),
	}
}

// Close disconnects the client.
func (r *Remote) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (r *Remote) Ping(ctx context.Context) error {
	return classify("ping", r.client.Ping(ctx, readpref.Primary()))
}

func docID(scopeID, id string) string {
	return scopeID + "/" + id
}

func (r *Remote) UpsertMerge(ctx context.Context, scopeID, entityID string, fields payload.Object, modifiedAt int64) error {
	update, err := upsertMergeUpdate(scopeID, entityID, fields, modifiedAt)
	if err != nil {
		return err
	}
	_, err = r.db.Collection(remote.EntityCollection).UpdateOne(ctx,
		bson.M{fieldID: docID(scopeID, entityID)},
		update,
		options.Update().SetUpsert(true),
	)
	return classify("upsert_merge", err)
}

// upsertMergeUpdate builds the $set / $unset / $setOnInsert document for
// UpsertMerge. A Null field is cleared, not stored.
func upsertMergeUpdate(scopeID, entityID string, fields payload.Object, modifiedAt int64) (bson.M, error) {
	set := bson.M{fieldModifiedAt: modifiedAt}
	unset := bson.M{}
	for k, v := range fields {
		if err := checkFieldName(k); err != nil {
			return nil, &remote.RejectedError{Op: "upsert_merge", Reason: err.Error()}
		}
		if _, ok := v.(payload.Null); ok {
			unset[k] = ""
			continue
		}
		set[k] = payload.ToAny(v)
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			fieldScope:  scopeID,
			fieldEntity: entityID,
		},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update, nil
}

func checkFieldName(k string) error {
	switch {
	case k == "":
		return errors.New("empty field name")
	case k == fieldID || k == fieldScope || k == fieldEntity || k == fieldModifiedAt:
		return fmt.Errorf("field %q is reserved", k)
	case strings.HasPrefix(k, "$") || strings.Contains(k, "."):
		return fmt.Errorf("field %q is not a plain name", k)
	}
	return nil
}

type markerDoc struct {
	ModifiedAt *int64 `bson:"_modifiedAt"`
}

func (r *Remote) ReadLastModified(ctx context.Context, scopeID, entityID string) (int64, bool, error) {
	res := r.db.Collection(remote.EntityCollection).FindOne(ctx,
		bson.M{fieldID: docID(scopeID, entityID)},
		options.FindOne().SetProjection(bson.M{fieldModifiedAt: 1}),
	)
	var doc markerDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, classify("read_last_modified", err)
	}
	if doc.ModifiedAt == nil {
		return 0, false, nil
	}
	return *doc.ModifiedAt, true, nil
}

func (r *Remote) Delete(ctx context.Context, scopeID, entityID string) error {
	_, err := r.db.Collection(remote.EntityCollection).DeleteOne(ctx, bson.M{fieldID: docID(scopeID, entityID)})
	return classify("delete", err)
}

func (r *Remote) SetField(ctx context.Context, scopeID, field string, value payload.Value) error {
	if err := checkFieldName(field); err != nil {
		return &remote.RejectedError{Op: "set_field", Reason: err.Error()}
	}
	_, err := r.db.Collection(scopesCollection).UpdateOne(ctx,
		bson.M{fieldID: scopeID},
		bson.M{"$set": bson.M{field: payload.ToAny(value)}},
		options.Update().SetUpsert(true),
	)
	return classify("set_field", err)
}

func (r *Remote) ArrayRemove(ctx context.Context, scopeID, field string, member payload.Value) error {
	if err := checkFieldName(field); err != nil {
		return &remote.RejectedError{Op: "array_remove", Reason: err.Error()}
	}
	_, err := r.db.Collection(scopesCollection).UpdateOne(ctx,
		bson.M{fieldID: scopeID},
		bson.M{"$pull": bson.M{field: payload.ToAny(member)}},
	)
	return classify("array_remove", err)
}

// BulkTransition issues one UpdateMany; MongoDB applies it as a single
// write command.
func (r *Remote) BulkTransition(ctx context.Context, scopeID, collection string, ids []string, from, to string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Collection(collection).UpdateMany(ctx,
		bulkTransitionFilter(scopeID, ids, from),
		bson.M{"$set": bson.M{"status": to}},
	)
	return classify("bulk_transition", err)
}

func bulkTransitionFilter(scopeID string, ids []string, from string) bson.M {
	keys := make(bson.A, len(ids))
	for i, id := range ids {
		keys[i] = docID(scopeID, id)
	}
	filter := bson.M{fieldID: bson.M{"$in": keys}}
	if from != "" {
		filter["status"] = from
	}
	return filter
}

func (r *Remote) MarkChildReceived(ctx context.Context, scopeID, entityID, child string, receivedAt int64) error {
	if err := checkFieldName(child); err != nil {
		return &remote.RejectedError{Op: "mark_child_received", Reason: err.Error()}
	}
	prefix := "children." + child + "."
	res, err := r.db.Collection(remote.EntityCollection).UpdateOne(ctx,
		bson.M{fieldID: docID(scopeID, entityID)},
		bson.M{"$set": bson.M{
			prefix + "received":    true,
			prefix + "received_at": receivedAt,
		}},
	)
	if err != nil {
		return classify("mark_child_received", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mark %s/%s child %s: %w", scopeID, entityID, child, remote.ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto remote.ErrUnavailable or *remote.RejectedError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err) {
		return remote.Unavailable(op, err)
	}
	return &remote.RejectedError{Op: op, Reason: "request refused", Err: err}
}
