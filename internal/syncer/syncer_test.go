package syncer

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithapp/kith/internal/auth"
	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/keyx"
	"github.com/kithapp/kith/internal/localdb"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/models"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/remote/memory"
	"github.com/kithapp/kith/internal/repositories/accounts"
	"github.com/kithapp/kith/internal/repositories/events"
	"github.com/kithapp/kith/internal/repositories/relationships"
	"github.com/kithapp/kith/internal/scheduler"
	"github.com/kithapp/kith/internal/services"
)

type fixture struct {
	svc         *Service
	store       *memory.Store
	broadcaster *auth.Broadcaster

	accountRepo accounts.Repository
	relRepo     relationships.Repository
	eventRepo   events.Repository
}

func setup(t *testing.T, accountID string) *fixture {
	t.Helper()

	db, err := localdb.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	broadcaster := auth.NewBroadcaster()
	t.Cleanup(broadcaster.Close)
	if accountID != "" {
		broadcaster.Publish(auth.Authenticated(accountID))
	}

	logger := logging.NewDefault(slog.LevelError)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	f := &fixture{
		store:       store,
		broadcaster: broadcaster,
		accountRepo: accounts.NewSQLiteRepository(db),
		relRepo:     relationships.NewSQLiteRepository(db),
		eventRepo:   events.NewSQLiteRepository(db),
	}
	accountSvc := services.NewAccountService(store, f.accountRepo, broadcaster, logger)
	relSvc := services.NewRelationshipService(store, f.relRepo, logger)
	eventSvc := services.NewEventService(store, f.eventRepo, logger)
	f.svc = New(sched, accountSvc, relSvc, eventSvc, store, broadcaster, logger)
	return f
}

func ts(min int) time.Time {
	return time.Date(2025, 3, 1, 12, min, 0, 0, time.UTC)
}

func seedAccount(t *testing.T, f *fixture, id string) {
	t.Helper()
	a := &models.Account{ID: id, Name: "name-" + id, CreatedAt: ts(0), UpdatedAt: ts(0)}
	require.NoError(t, f.store.Set(context.Background(), remote.CollectionAccounts, id, a.Document()))
}

func TestPerformFullSync(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	seedAccount(t, f, "u1")

	rel := &models.Relationship{ID: "r1", OwnerID: "u2", CounterpartID: "u1",
		Type: models.RelationshipFriend, CreatedAt: ts(0), UpdatedAt: ts(0)}
	require.NoError(t, f.store.Set(ctx, remote.CollectionRelationships, rel.CanonicalID(), rel.Document()))

	e := &models.Event{ID: "e1", Title: "Coffee", Date: ts(30), Category: models.EventCategoryCoffee,
		Participants: []string{"u1", "u2"}, CreatorID: "u2", CreatedAt: ts(0), UpdatedAt: ts(0)}
	require.NoError(t, f.store.Set(ctx, remote.CollectionEvents, "e1", e.Document()))

	require.NoError(t, f.svc.PerformFullSync(ctx))

	_, err := f.accountRepo.GetByID(ctx, "u1")
	require.NoError(t, err)
	_, err = f.relRepo.GetByID(ctx, "r1")
	require.NoError(t, err)
	_, err = f.eventRepo.GetByID(ctx, "e1")
	require.NoError(t, err)

	st := f.svc.Status()
	assert.False(t, st.IsSyncing)
	assert.NoError(t, st.SyncError)
	assert.False(t, st.LastSyncTimestamp.IsZero())
}

func TestPerformFullSync_ThrottledWithinCooldown(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	seedAccount(t, f, "u1")

	require.NoError(t, f.svc.PerformFullSync(ctx))

	err := f.svc.PerformFullSync(ctx)
	assert.ErrorIs(t, err, scheduler.ErrThrottled)
}

func TestPerformFullSync_Unauthenticated(t *testing.T) {
	f := setup(t, "")

	err := f.svc.PerformFullSync(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthenticated)
}

func TestPerformFullSync_PublishesStatus(t *testing.T) {
	f := setup(t, "u1")
	seedAccount(t, f, "u1")

	ch := f.svc.SubscribeStatus("ui")
	defer f.svc.UnsubscribeStatus("ui")
	<-ch // initial replay

	require.NoError(t, f.svc.PerformFullSync(context.Background()))

	first := <-ch
	assert.True(t, first.IsSyncing)
	second := <-ch
	assert.False(t, second.IsSyncing)
	assert.False(t, second.LastSyncTimestamp.IsZero())
}

func TestCreateRelationship(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	rel, err := f.svc.CreateRelationship(ctx, "u2", "met at work")
	require.NoError(t, err)
	assert.Equal(t, "u1", rel.OwnerID)
	assert.Equal(t, "met at work", rel.CustomNotes)

	_, err = f.store.Get(ctx, remote.CollectionRelationships, keyx.PairKey("u1", "u2"))
	require.NoError(t, err)
}

func TestCreateRelationship_Self(t *testing.T) {
	f := setup(t, "u1")

	_, err := f.svc.CreateRelationship(context.Background(), "u1", "")
	assert.ErrorIs(t, err, common.ErrorInvalidState)
}

func TestUpdateAccountProfile(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	seedAccount(t, f, "u1")

	name := "New Name"
	bio := "hello"
	a, err := f.svc.UpdateAccountProfile(ctx, ProfileUpdate{Name: &name, Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "New Name", a.Name)
	assert.Equal(t, "hello", a.Bio)

	doc, err := f.store.Get(ctx, remote.CollectionAccounts, "u1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", doc["name"])
}

func TestUpdateRelationship_ForbiddenForOutsider(t *testing.T) {
	f := setup(t, "u9")
	ctx := context.Background()

	rel := &models.Relationship{ID: "r1", OwnerID: "u1", CounterpartID: "u2",
		Type: models.RelationshipFriend, CreatedAt: ts(0), UpdatedAt: ts(0)}
	require.NoError(t, f.relRepo.Upsert(ctx, rel))

	fav := true
	_, err := f.svc.UpdateRelationship(ctx, "r1", RelationshipUpdate{IsFavorite: &fav})
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestUpdateRelationship(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	rel, err := f.svc.CreateRelationship(ctx, "u2", "")
	require.NoError(t, err)

	fav := true
	typ := models.RelationshipFamily
	updated, err := f.svc.UpdateRelationship(ctx, rel.ID, RelationshipUpdate{IsFavorite: &fav, Type: &typ})
	require.NoError(t, err)
	assert.True(t, updated.IsFavorite)
	assert.Equal(t, models.RelationshipFamily, updated.Type)
}

func TestScheduleAndDeleteEvent(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	e := &models.Event{Title: "Coffee", Date: ts(30), Category: models.EventCategoryCoffee,
		Participants: []string{"u2"}}
	require.NoError(t, f.svc.ScheduleEvent(ctx, e))
	assert.Equal(t, "u1", e.CreatorID)
	assert.True(t, e.HasParticipant("u1"))

	require.NoError(t, f.svc.DeleteEvent(ctx, e.ID))

	doc, err := f.store.Get(ctx, remote.CollectionEvents, e.ID)
	require.NoError(t, err)
	assert.Equal(t, true, doc["isDeleted"])
}

func TestClearAllUserData(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	seedAccount(t, f, "u1")

	rel, err := f.svc.CreateRelationship(ctx, "u2", "")
	require.NoError(t, err)

	e := &models.Event{Title: "Coffee", Date: ts(30), Category: models.EventCategoryCoffee,
		Participants: []string{"u1", "u2"}}
	require.NoError(t, f.svc.ScheduleEvent(ctx, e))

	keep := &models.Event{ID: "e9", Title: "Other", Date: ts(40), Category: models.EventCategoryOther,
		Participants: []string{"u2", "u3"}, CreatorID: "u2", CreatedAt: ts(0), UpdatedAt: ts(0)}
	require.NoError(t, f.store.Set(ctx, remote.CollectionEvents, "e9", keep.Document()))

	require.NoError(t, f.svc.ClearAllUserData(ctx, "u1"))

	// account document redacted, not deleted
	doc, err := f.store.Get(ctx, remote.CollectionAccounts, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted User", doc["name"])

	// owned relationship and participant event are hard-deleted remotely
	_, err = f.store.Get(ctx, remote.CollectionRelationships, rel.CanonicalID())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.store.Get(ctx, remote.CollectionEvents, e.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// unrelated data survives
	_, err = f.store.Get(ctx, remote.CollectionEvents, "e9")
	assert.NoError(t, err)

	// local cache purged
	_, err = f.accountRepo.GetByID(ctx, "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	rels, err := f.relRepo.ListForAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rels)
	evs, err := f.eventRepo.ListByParticipant(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, evs)

	// the session ended
	_, err = f.broadcaster.CurrentAccountID()
	assert.ErrorIs(t, err, common.ErrorUnauthenticated)
}

func TestClearAllUserData_ForbiddenForOtherAccount(t *testing.T) {
	f := setup(t, "u1")

	err := f.svc.ClearAllUserData(context.Background(), "u2")
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestPublishStatus_ConcurrentDrainDoesNotDeadlock(t *testing.T) {
	f := setup(t, "u1")

	ch := f.svc.SubscribeStatus("racer")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()

	for i := 0; i < 10_000; i++ {
		f.svc.publishStatus(func(st *Status) { st.IsSyncing = i%2 == 0 })
	}
	f.svc.UnsubscribeStatus("racer")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("status publish loop did not finish")
	}
}

func TestSubscribeStatus_Idempotent(t *testing.T) {
	f := setup(t, "u1")

	ch1 := f.svc.SubscribeStatus("ui")
	ch2 := f.svc.SubscribeStatus("ui")
	assert.Equal(t, ch1, ch2)

	f.svc.UnsubscribeStatus("ui")
	f.svc.UnsubscribeStatus("ui")
}
