package memremote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hearth/internal/payload"
	"github.com/roach88/hearth/internal/remote"
)

func TestUpsertMerge_MergesAndMarks(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{"name": payload.String("A"), "price": payload.Int(5)}, 100))
	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{"name": payload.String("B")}, 200))

	doc, ok := r.Entity("h1", "d1")
	require.True(t, ok)
	assert.True(t, payload.Equal(payload.Object{"name": payload.String("B"), "price": payload.Int(5)}, doc))

	marker, ok, err := r.ReadLastModified(ctx, "h1", "d1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(200), marker)
}

func TestUpsertMerge_NullClearsField(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{"name": payload.String("A"), "note": payload.String("x")}, 100))
	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{"note": payload.Null{}}, 200))

	doc, ok := r.Entity("h1", "d1")
	require.True(t, ok)
	_, present := doc["note"]
	assert.False(t, present)
	assert.Equal(t, payload.Object{"name": payload.String("A")}, doc)
}

func TestUpsertMerge_Idempotent(t *testing.T) {
	r := New()
	ctx := context.Background()
	fields := payload.Object{"name": payload.String("A")}

	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", fields, 100))
	once, _ := r.Entity("h1", "d1")
	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", fields, 100))
	twice, _ := r.Entity("h1", "d1")

	assert.True(t, payload.Equal(once, twice))
	assert.Equal(t, 1, r.Len(remote.EntityCollection))
}

func TestReadLastModified_Absent(t *testing.T) {
	r := New()

	_, ok, err := r.ReadLastModified(context.Background(), "h1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_AbsentSucceeds(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.Delete(ctx, "h1", "never"))
	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{}, 1))
	require.NoError(t, r.Delete(ctx, "h1", "d1"))
	require.NoError(t, r.Delete(ctx, "h1", "d1"))

	_, ok := r.Entity("h1", "d1")
	assert.False(t, ok)
}

func TestScopeFields(t *testing.T) {
	r := New()
	ctx := context.Background()

	require.NoError(t, r.SetField(ctx, "h1", "name", payload.String("Home")))
	require.NoError(t, r.SetField(ctx, "h1", "members", payload.Array{
		payload.String("u1"), payload.String("u2"), payload.String("u2"),
	}))
	require.NoError(t, r.ArrayRemove(ctx, "h1", "members", payload.String("u2")))
	require.NoError(t, r.ArrayRemove(ctx, "h1", "members", payload.String("u2")))
	require.NoError(t, r.ArrayRemove(ctx, "h1", "absent", payload.String("u2")))
	require.NoError(t, r.ArrayRemove(ctx, "h9", "members", payload.String("u2")))

	doc := r.Scope("h1")
	assert.Equal(t, payload.String("Home"), doc["name"])
	assert.True(t, payload.Equal(payload.Array{payload.String("u1")}, doc["members"]))
}

func TestBulkTransition(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.Put("items", "h1", "a", payload.Object{"status": payload.String("open")})
	r.Put("items", "h1", "b", payload.Object{"status": payload.String("closed")})
	r.Put("items", "h1", "c", nil)

	require.NoError(t, r.BulkTransition(ctx, "h1", "items", []string{"a", "b", "c", "zz"}, "open", "done"))

	a, _ := r.Document("items", "h1", "a")
	b, _ := r.Document("items", "h1", "b")
	c, _ := r.Document("items", "h1", "c")
	assert.Equal(t, payload.String("done"), a["status"])
	assert.Equal(t, payload.String("closed"), b["status"])
	assert.Nil(t, c["status"])

	require.NoError(t, r.BulkTransition(ctx, "h1", "items", []string{"b", "c"}, "", "archived"))
	b, _ = r.Document("items", "h1", "b")
	c, _ = r.Document("items", "h1", "c")
	assert.Equal(t, payload.String("archived"), b["status"])
	assert.Equal(t, payload.String("archived"), c["status"])
}

func TestMarkChildReceived(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.MarkChildReceived(ctx, "h1", "o1", "c1", 50)
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	require.NoError(t, r.UpsertMerge(ctx, "h1", "o1", payload.Object{"name": payload.String("order")}, 1))
	require.NoError(t, r.MarkChildReceived(ctx, "h1", "o1", "c1", 50))
	require.NoError(t, r.MarkChildReceived(ctx, "h1", "o1", "c2", 60))

	doc, _ := r.Entity("h1", "o1")
	children, ok := doc["children"].(payload.Object)
	require.True(t, ok)
	assert.True(t, payload.Equal(payload.Object{
		"received":    payload.Bool(true),
		"received_at": payload.Int(50),
	}, children["c1"]))
	assert.Contains(t, children, "c2")
}

func TestOffline(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.SetOffline(true)

	err := r.UpsertMerge(ctx, "h1", "d1", payload.Object{}, 1)
	assert.True(t, errors.Is(err, remote.ErrUnavailable))
	assert.True(t, errors.Is(r.Ping(ctx), remote.ErrUnavailable))
	assert.Equal(t, 0, r.Len(remote.EntityCollection))

	r.SetOffline(false)
	assert.NoError(t, r.Ping(ctx))
	assert.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{}, 1))
}

func TestInjectFault(t *testing.T) {
	r := New()
	ctx := context.Background()
	denied := &remote.RejectedError{Op: "delete", Reason: "permission denied"}
	r.InjectFault(func(c Call) error {
		if c.Op == "delete" {
			return denied
		}
		return nil
	})

	require.NoError(t, r.UpsertMerge(ctx, "h1", "d1", payload.Object{}, 1))
	err := r.Delete(ctx, "h1", "d1")
	assert.ErrorIs(t, err, denied)

	_, ok := r.Entity("h1", "d1")
	assert.True(t, ok, "a failed call must not write")

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Call{Op: "delete", ScopeID: "h1", EntityID: "d1"}, calls[1])
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.SetField(ctx, "h1", "name", payload.String("x"))
	assert.True(t, errors.Is(err, remote.ErrUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}
