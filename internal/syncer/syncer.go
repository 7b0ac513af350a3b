// Package syncer orchestrates synchronization on top of the entity
// services: scheduled full syncs, user-facing mutations, and account data
// erasure. It publishes sync status to named subscribers.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kithapp/kith/internal/auth"
	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/models"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/scheduler"
	"github.com/kithapp/kith/internal/services"
)

// fullSyncMinInterval keeps repeated full-sync requests for one account
// from hammering the remote store.
const fullSyncMinInterval = 30 * time.Second

const fullSyncKeyPrefix = "full_sync_"

const statusBuffer = 16

// Status is one sync-state snapshot.
type Status struct {
	IsSyncing         bool
	LastSyncTimestamp time.Time
	SyncError         error
}

// ProfileUpdate carries the mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Name            *string
	Email           *string
	PhoneNumber     *string
	Bio             *string
	ProfileImageURL *string
	Birthday        *time.Time
	Preferences     map[string]any
	IsDiscoverable  *bool
}

// RelationshipUpdate carries the mutable relationship fields; nil means
// unchanged.
type RelationshipUpdate struct {
	Type                *models.RelationshipType
	IsFavorite          *bool
	CustomNotes         *string
	LastInteractionDate *time.Time
	NextScheduledDate   *time.Time
	LastContactedDate   *time.Time
}

// Service is the sync orchestrator.
type Service struct {
	sched         *scheduler.Scheduler
	accounts      *services.AccountService
	relationships *services.RelationshipService
	events        *services.EventService
	store         remote.Store
	broadcaster   *auth.Broadcaster
	logger        logging.Logger

	mu     sync.Mutex
	status Status
	subs   map[string]chan Status
}

func New(
	sched *scheduler.Scheduler,
	accounts *services.AccountService,
	relationships *services.RelationshipService,
	events *services.EventService,
	store remote.Store,
	broadcaster *auth.Broadcaster,
	logger logging.Logger,
) *Service {
	return &Service{
		sched:         sched,
		accounts:      accounts,
		relationships: relationships,
		events:        events,
		store:         store,
		broadcaster:   broadcaster,
		logger:        logger,
		subs:          make(map[string]chan Status),
	}
}

// PerformFullSync runs a full reconciliation for the signed-in account:
// the account document first, then relationships, then events, so each
// stage can rely on the previous one being current. The run goes through
// the scheduler under a per-account key with high priority; a request
// while one is pending or within the cooldown returns
// scheduler.ErrThrottled.
func (s *Service) PerformFullSync(ctx context.Context) error {
	accountID, err := s.broadcaster.CurrentAccountID()
	if err != nil {
		return err
	}

	key := fullSyncKeyPrefix + accountID
	return s.sched.RunAndWait(ctx, "full_sync", key, scheduler.PriorityHigh, fullSyncMinInterval,
		func(ctx context.Context) error {
			return s.fullSync(ctx, accountID)
		})
}

func (s *Service) fullSync(ctx context.Context, accountID string) error {
	s.publishStatus(func(st *Status) { st.IsSyncing = true })
	s.logger.Info(ctx, "full sync started", "account_id", accountID)

	err := s.syncAll(ctx, accountID)

	s.publishStatus(func(st *Status) {
		st.IsSyncing = false
		st.SyncError = err
		if err == nil {
			st.LastSyncTimestamp = time.Now().UTC()
		}
	})
	if err != nil {
		return fmt.Errorf("full sync: %w", err)
	}
	s.logger.Info(ctx, "full sync finished", "account_id", accountID)
	return nil
}

func (s *Service) syncAll(ctx context.Context, accountID string) error {
	if err := s.accounts.SyncLocalWithRemote(ctx, accountID); err != nil {
		return err
	}
	if err := s.relationships.SyncLocalWithRemote(ctx, accountID); err != nil {
		return err
	}
	return s.events.SyncLocalWithRemote(ctx, accountID)
}

// CreateRelationship links the signed-in account to counterpartID.
func (s *Service) CreateRelationship(ctx context.Context, counterpartID, notes string) (*models.Relationship, error) {
	accountID, err := s.broadcaster.CurrentAccountID()
	if err != nil {
		return nil, err
	}
	if accountID == counterpartID {
		return nil, fmt.Errorf("relationship with self: %w", common.ErrorInvalidState)
	}

	rel := &models.Relationship{
		OwnerID:       accountID,
		CounterpartID: counterpartID,
		Type:          models.RelationshipFriend,
		CustomNotes:   notes,
	}
	if err := s.relationships.Create(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// UpdateAccountProfile applies the non-nil fields to the signed-in user's
// profile.
func (s *Service) UpdateAccountProfile(ctx context.Context, update ProfileUpdate) (*models.Account, error) {
	a, err := s.accounts.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Email != nil {
		a.Email = *update.Email
	}
	if update.PhoneNumber != nil {
		a.PhoneNumber = *update.PhoneNumber
	}
	if update.Bio != nil {
		a.Bio = *update.Bio
	}
	if update.ProfileImageURL != nil {
		a.ProfileImageURL = *update.ProfileImageURL
	}
	if update.Birthday != nil {
		b := *update.Birthday
		a.Birthday = &b
	}
	if update.Preferences != nil {
		a.Preferences = update.Preferences
	}
	if update.IsDiscoverable != nil {
		a.IsDiscoverable = *update.IsDiscoverable
	}

	if err := s.accounts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateRelationship applies the non-nil fields to the relationship. The
// signed-in account must be one of the participants.
func (s *Service) UpdateRelationship(ctx context.Context, id string, update RelationshipUpdate) (*models.Relationship, error) {
	accountID, err := s.broadcaster.CurrentAccountID()
	if err != nil {
		return nil, err
	}

	rel, err := s.relationships.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rel.Involves(accountID) {
		return nil, fmt.Errorf("relationship %s: %w", id, common.ErrorForbidden)
	}

	if update.Type != nil {
		rel.Type = *update.Type
	}
	if update.IsFavorite != nil {
		rel.IsFavorite = *update.IsFavorite
	}
	if update.CustomNotes != nil {
		rel.CustomNotes = *update.CustomNotes
	}
	if update.LastInteractionDate != nil {
		d := *update.LastInteractionDate
		rel.LastInteractionDate = &d
	}
	if update.NextScheduledDate != nil {
		d := *update.NextScheduledDate
		rel.NextScheduledDate = &d
	}
	if update.LastContactedDate != nil {
		d := *update.LastContactedDate
		rel.LastContactedDate = &d
	}

	if err := s.relationships.Update(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// ScheduleEvent creates an event on behalf of the signed-in user.
func (s *Service) ScheduleEvent(ctx context.Context, e *models.Event) error {
	accountID, err := s.broadcaster.CurrentAccountID()
	if err != nil {
		return err
	}
	if e.CreatorID == "" {
		e.CreatorID = accountID
	}
	return s.events.Create(ctx, e)
}

// DeleteEvent soft-deletes the event so all participants observe the
// tombstone on their next sync.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	return s.events.Delete(ctx, id)
}

// ClearAllUserData erases the account's footprint: the listeners are torn
// down via a sign-out, the remote account document is rewritten to its
// redacted shape, the account's relationships and events are batch
// hard-deleted remotely, and the local cache is purged. Event erasure is
// the one place events are physically removed.
func (s *Service) ClearAllUserData(ctx context.Context, accountID string) error {
	current, err := s.broadcaster.CurrentAccountID()
	if err != nil {
		return err
	}
	if current != accountID {
		return fmt.Errorf("clear data for %s: %w", accountID, common.ErrorForbidden)
	}

	s.broadcaster.Publish(auth.NotAuthenticated())

	ops, err := s.collectDeletions(ctx, accountID)
	if err != nil {
		return err
	}
	ops = append(ops, remote.BatchOp{
		Kind:       remote.BatchSet,
		Collection: remote.CollectionAccounts,
		ID:         accountID,
		Doc:        models.RedactedAccount(accountID, time.Now().UTC()).Document(),
	})
	if err := s.store.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("failed to erase remote data: %w", err)
	}

	if err := s.relationships.PurgeLocal(ctx, accountID); err != nil {
		return err
	}
	if err := s.events.PurgeLocal(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.PurgeLocal(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user data cleared", "account_id", accountID)
	return nil
}

// collectDeletions gathers the batch deletes for every relationship and
// event involving accountID. The three remote queries run concurrently.
func (s *Service) collectDeletions(ctx context.Context, accountID string) ([]remote.BatchOp, error) {
	var (
		mu  sync.Mutex
		ops []remote.BatchOp
	)
	add := func(collection string, ids ...string) {
		mu.Lock()
		for _, id := range ids {
			ops = append(ops, remote.BatchOp{Kind: remote.BatchDelete, Collection: collection, ID: id})
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, field := range []string{"ownerID", "counterpartID"} {
		g.Go(func() error {
			docs, err := s.store.Query(gctx, remote.CollectionRelationships,
				remote.Query{Field: field, Op: remote.OpEqual, Value: accountID})
			if err != nil {
				return err
			}
			for _, doc := range docs {
				rel, err := models.DecodeRelationship(doc)
				if err != nil {
					return err
				}
				add(remote.CollectionRelationships, rel.CanonicalID())
			}
			return nil
		})
	}
	g.Go(func() error {
		docs, err := s.store.Query(gctx, remote.CollectionEvents,
			remote.Query{Field: "participants", Op: remote.OpArrayContains, Value: accountID})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			e, err := models.DecodeEvent(doc)
			if err != nil {
				return err
			}
			add(remote.CollectionEvents, e.ID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to collect deletions: %w", err)
	}
	return ops, nil
}

// SubscribeStatus registers a named status subscriber and replays the
// current status. Subscribing an existing name returns its channel.
func (s *Service) SubscribeStatus(name string) <-chan Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[name]; ok {
		return ch
	}
	ch := make(chan Status, statusBuffer)
	s.subs[name] = ch
	ch <- s.status
	return ch
}

// UnsubscribeStatus removes a named subscriber; unknown names are a no-op.
func (s *Service) UnsubscribeStatus(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[name]; ok {
		delete(s.subs, name)
		close(ch)
	}
}

// Status returns the latest published sync status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) publishStatus(mutate func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.status)
	for _, ch := range s.subs {
		select {
		case ch <- s.status:
		default:
			// drop the oldest without blocking; the subscriber may have
			// drained the buffer since the failed send
			select {
			case <-ch:
			default:
			}
			ch <- s.status
		}
	}
}
