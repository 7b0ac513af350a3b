package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/models"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/repositories/events"
)

// EventService keeps the local event cache consistent with the remote
// events collection. Deletion is soft: the remote record stays and only
// the isDeleted flag flips, so every participant observes the tombstone.
type EventService struct {
	store  remote.Store
	repo   events.Repository
	logger logging.Logger
}

func NewEventService(store remote.Store, repo events.Repository, logger logging.Logger) *EventService {
	return &EventService{store: store, repo: repo, logger: logger}
}

// Get returns the event by id, including soft-deleted ones, reading
// through to the remote store on a cache miss.
func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "local event read failed", "event_id", id, "error", err)
	}

	doc, err := s.store.Get(ctx, remote.CollectionEvents, id)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}
	e, err = models.DecodeEvent(doc)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Create writes a new event remotely first, then caches it. The creator
// is always a participant.
func (s *EventService) Create(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatorID != "" && !e.HasParticipant(e.CreatorID) {
		e.Participants = append(slices.Clone(e.Participants), e.CreatorID)
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if _, err := s.store.Get(ctx, remote.CollectionEvents, e.ID); err == nil {
		return fmt.Errorf("event %s: %w", e.ID, common.ErrorAlreadyExists)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("failed to check event: %w", err)
	}

	if err := s.store.Set(ctx, remote.CollectionEvents, e.ID, e.Document()); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return s.repo.Upsert(ctx, e)
}

// Update rewrites updatedAt, replaces the remote document, then the
// cache. An absent remote record fails with common.ErrorNotFound.
func (s *EventService) Update(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, remote.CollectionEvents, e.ID, e.Document()); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return s.repo.Upsert(ctx, e)
}

// Delete soft-deletes the event: the remote document is updated in place
// with the tombstone flag and a fresh updatedAt, and the cached row keeps
// the tombstone so reads stay consistent.
func (s *EventService) Delete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	e.IsDeleted = true
	e.UpdatedAt = time.Now().UTC()

	fields := remote.Document{
		"isDeleted": true,
		"updatedAt": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, remote.CollectionEvents, id, fields); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return s.repo.Upsert(ctx, e)
}

// GetMeetups returns the cached non-deleted events participantID takes
// part in, ordered by date.
func (s *EventService) GetMeetups(ctx context.Context, participantID string) ([]models.Event, error) {
	return s.repo.ListByParticipant(ctx, participantID, false)
}

// Search queries the local cache by title or location.
func (s *EventService) Search(ctx context.Context, q string) ([]models.Event, error) {
	return s.repo.Search(ctx, q)
}

// SyncLocalWithRemote reconciles the cache with the remote store for
// accountID using a participant membership query. Tombstoned remote events
// are merged like any other record; cached events absent from the remote
// result are evicted.
func (s *EventService) SyncLocalWithRemote(ctx context.Context, accountID string) error {
	docs, err := s.store.Query(ctx, remote.CollectionEvents,
		remote.Query{Field: "participants", Op: remote.OpArrayContains, Value: accountID})
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		e, err := models.DecodeEvent(doc)
		if err != nil {
			return err
		}
		seen[e.ID] = struct{}{}
		if err := s.mergeUpsert(ctx, e); err != nil {
			return err
		}
	}

	local, err := s.repo.ListByParticipant(ctx, accountID, true)
	if err != nil {
		return err
	}
	for _, e := range local {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		s.logger.Debug(ctx, "evicting stale event", "event_id", e.ID)
		if err := s.repo.DeleteByID(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRemoteEvent applies one change-stream delta.
func (s *EventService) ApplyRemoteEvent(ctx context.Context, ev remote.Event) error {
	switch ev.Type {
	case remote.EventAdded, remote.EventModified:
		e, err := models.DecodeEvent(ev.Doc)
		if err != nil {
			return err
		}
		return s.mergeUpsert(ctx, e)
	case remote.EventRemoved:
		return s.repo.DeleteByID(ctx, ev.ID)
	default:
		return fmt.Errorf("unknown event type %q: %w", ev.Type, common.ErrorInvalidState)
	}
}

// PurgeLocal drops every cached event involving accountID.
func (s *EventService) PurgeLocal(ctx context.Context, accountID string) error {
	return s.repo.DeleteAllForParticipant(ctx, accountID)
}

func (s *EventService) mergeUpsert(ctx context.Context, incoming *models.Event) error {
	local, err := s.repo.GetByID(ctx, incoming.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return s.repo.Upsert(ctx, incoming)
	}
	if err != nil {
		return err
	}
	if !local.Merge(incoming) {
		return nil
	}
	return s.repo.Upsert(ctx, local)
}
