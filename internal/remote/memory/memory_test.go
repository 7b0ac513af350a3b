package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/remote"
)

func TestSetGet(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	doc := remote.Document{"id": "u1", "name": "Alice"}
	require.NoError(t, s.Set(ctx, "accounts", "u1", doc))

	got, err := s.Get(ctx, "accounts", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])

	// the stored copy does not alias the caller's map
	doc["name"] = "changed"
	got, err = s.Get(ctx, "accounts", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
}

func TestGet_NotFound(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Get(context.Background(), "accounts", "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "accounts", "u1", remote.Document{"id": "u1", "name": "Alice"}))
	require.NoError(t, s.Update(ctx, "accounts", "u1", remote.Document{"bio": "hello"}))

	got, err := s.Get(ctx, "accounts", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, "hello", got["bio"])

	err = s.Update(ctx, "accounts", "missing", remote.Document{"bio": "x"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_AbsentIsNoop(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "accounts", "u1", remote.Document{"id": "u1"}))
	require.NoError(t, s.Delete(ctx, "accounts", "u1"))
	require.NoError(t, s.Delete(ctx, "accounts", "u1"))

	_, err := s.Get(ctx, "accounts", "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestQuery(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "relationships", "r1", remote.Document{"id": "r1", "ownerID": "u1"}))
	require.NoError(t, s.Set(ctx, "relationships", "r2", remote.Document{"id": "r2", "ownerID": "u2"}))
	require.NoError(t, s.Set(ctx, "events", "e1", remote.Document{"id": "e1", "participants": []any{"u1", "u2"}}))

	docs, err := s.Query(ctx, "relationships", remote.Query{Field: "ownerID", Op: remote.OpEqual, Value: "u1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "r1", docs[0]["id"])

	docs, err = s.Query(ctx, "events", remote.Query{Field: "participants", Op: remote.OpArrayContains, Value: "u2"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestBatchWrite_Atomic(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "events", "e1", remote.Document{"id": "e1"}))

	err := s.BatchWrite(ctx, []remote.BatchOp{
		{Kind: remote.BatchDelete, Collection: "events", ID: "e1"},
		{Kind: "bogus", Collection: "events", ID: "e2"},
	})
	require.Error(t, err)

	// the valid op in the rejected batch was not applied
	_, err = s.Get(ctx, "events", "e1")
	assert.NoError(t, err)

	require.NoError(t, s.BatchWrite(ctx, []remote.BatchOp{
		{Kind: remote.BatchDelete, Collection: "events", ID: "e1"},
		{Kind: remote.BatchSet, Collection: "accounts", ID: "u1", Doc: remote.Document{"id": "u1"}},
	}))

	_, err = s.Get(ctx, "events", "e1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.Get(ctx, "accounts", "u1")
	assert.NoError(t, err)
}

func TestWatch_DeliversMatchingDeltas(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Watch(ctx, "accounts", remote.Query{Field: "id", Op: remote.OpEqual, Value: "u1"})
	require.NoError(t, err)
	defer sub.Stop()

	require.NoError(t, s.Set(ctx, "accounts", "u1", remote.Document{"id": "u1"}))
	require.NoError(t, s.Set(ctx, "accounts", "u2", remote.Document{"id": "u2"}))
	require.NoError(t, s.Set(ctx, "accounts", "u1", remote.Document{"id": "u1", "bio": "hi"}))
	require.NoError(t, s.Delete(ctx, "accounts", "u1"))

	want := []remote.EventType{remote.EventAdded, remote.EventModified, remote.EventRemoved}
	for _, typ := range want {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, typ, ev.Type)
			assert.Equal(t, "u1", ev.ID)
		case <-time.After(time.Second):
			t.Fatalf("missing %s delta", typ)
		}
	}
}

func TestWatch_StopIsIdempotent(t *testing.T) {
	s := New()
	defer s.Close()

	sub, err := s.Watch(context.Background(), "accounts", remote.Query{Field: "id", Op: remote.OpEqual, Value: "u1"})
	require.NoError(t, err)

	sub.Stop()
	sub.Stop()

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestClose_RejectsFurtherOps(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub, err := s.Watch(ctx, "accounts", remote.Query{Field: "id", Op: remote.OpEqual, Value: "u1"})
	require.NoError(t, err)

	require.NoError(t, s.Close())

	_, open := <-sub.Events()
	assert.False(t, open)

	err = s.Set(ctx, "accounts", "u1", remote.Document{"id": "u1"})
	assert.ErrorIs(t, err, common.ErrorRemoteUnavailable)

	_, err = s.Watch(ctx, "accounts", remote.Query{Field: "id", Op: remote.OpEqual, Value: "u1"})
	assert.ErrorIs(t, err, common.ErrorRemoteUnavailable)
}
