package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/keyx"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/models"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/repositories/relationships"
)

// RelationshipService keeps the local relationship cache consistent with
// the remote relationships collection. Remote records are addressed by the
// canonical pair key, so both participants converge on the same document.
type RelationshipService struct {
	store  remote.Store
	repo   relationships.Repository
	logger logging.Logger
}

func NewRelationshipService(store remote.Store, repo relationships.Repository, logger logging.Logger) *RelationshipService {
	return &RelationshipService{store: store, repo: repo, logger: logger}
}

// Get returns the relationship by synthetic id, reading through to the
// remote store on a cache miss.
func (s *RelationshipService) Get(ctx context.Context, id string) (*models.Relationship, error) {
	rel, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "local relationship read failed", "id", id, "error", err)
	}

	docs, err := s.store.Query(ctx, remote.CollectionRelationships,
		remote.Query{Field: "id", Op: remote.OpEqual, Value: id})
	if err != nil {
		return nil, fmt.Errorf("failed to query relationship: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("relationship %s: %w", id, common.ErrorNotFound)
	}
	rel, err = models.DecodeRelationship(docs[0])
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// GetFriendship returns the relationship between two accounts, resolved by
// canonical pair key so either perspective yields the same record.
func (s *RelationshipService) GetFriendship(ctx context.Context, userID, friendID string) (*models.Relationship, error) {
	canonicalID := keyx.PairKey(userID, friendID)

	rel, err := s.repo.GetByCanonicalID(ctx, canonicalID)
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "local relationship read failed", "canonical_id", canonicalID, "error", err)
	}

	doc, err := s.store.Get(ctx, remote.CollectionRelationships, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("relationship %s: %w", canonicalID, err)
	}
	rel, err = models.DecodeRelationship(doc)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Create writes a new relationship to the remote store under its canonical
// key, then caches it. An existing record for the pair fails with
// common.ErrorAlreadyExists.
func (s *RelationshipService) Create(ctx context.Context, rel *models.Relationship) error {
	if rel.OwnerID == rel.CounterpartID {
		return fmt.Errorf("relationship with self: %w", common.ErrorInvalidState)
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now

	canonicalID := rel.CanonicalID()
	if _, err := s.store.Get(ctx, remote.CollectionRelationships, canonicalID); err == nil {
		return fmt.Errorf("relationship %s: %w", canonicalID, common.ErrorAlreadyExists)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("failed to check relationship: %w", err)
	}

	if err := s.store.Set(ctx, remote.CollectionRelationships, canonicalID, rel.Document()); err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}
	return s.repo.Upsert(ctx, rel)
}

// Update rewrites updatedAt, replaces the remote document, then the
// cache. An absent remote record fails with common.ErrorNotFound.
func (s *RelationshipService) Update(ctx context.Context, rel *models.Relationship) error {
	rel.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, remote.CollectionRelationships, rel.CanonicalID(), rel.Document()); err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	return s.repo.Upsert(ctx, rel)
}

// Delete removes the relationship remotely and locally. Unlike events,
// relationship deletion is physical on both sides. The canonical address
// is resolved from the cached record, so deleting requires a local copy.
func (s *RelationshipService) Delete(ctx context.Context, id string) error {
	rel, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	canonicalID := rel.CanonicalID()
	if err := s.store.Delete(ctx, remote.CollectionRelationships, canonicalID); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return s.repo.DeleteByCanonicalID(ctx, canonicalID)
}

// Search queries the local cache by type or notes.
func (s *RelationshipService) Search(ctx context.Context, q string) ([]models.Relationship, error) {
	return s.repo.Search(ctx, q)
}

// SyncLocalWithRemote reconciles the cache with the remote store for
// accountID. Remote discovery is bidirectional: the account may appear as
// owner or counterpart, so both queries run concurrently and the results
// are deduplicated in canonical-key space. Cached relationships absent
// from the remote result are evicted.
func (s *RelationshipService) SyncLocalWithRemote(ctx context.Context, accountID string) error {
	var (
		mu     sync.Mutex
		byKey  = make(map[string]*models.Relationship)
		fields = []string{"ownerID", "counterpartID"}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, field := range fields {
		g.Go(func() error {
			docs, err := s.store.Query(gctx, remote.CollectionRelationships,
				remote.Query{Field: field, Op: remote.OpEqual, Value: accountID})
			if err != nil {
				return fmt.Errorf("failed to query relationships by %s: %w", field, err)
			}
			for _, doc := range docs {
				rel, err := models.DecodeRelationship(doc)
				if err != nil {
					return err
				}
				mu.Lock()
				byKey[rel.CanonicalID()] = rel
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rel := range byKey {
		if err := s.mergeUpsert(ctx, rel); err != nil {
			return err
		}
	}

	// evict cached records the remote no longer has
	local, err := s.repo.ListForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, rel := range local {
		key := rel.CanonicalID()
		if _, ok := byKey[key]; ok {
			continue
		}
		s.logger.Debug(ctx, "evicting stale relationship", "canonical_id", key)
		if err := s.repo.DeleteByCanonicalID(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRemoteEvent applies one change-stream delta. Removal deltas carry
// the canonical key as the document id.
func (s *RelationshipService) ApplyRemoteEvent(ctx context.Context, ev remote.Event) error {
	switch ev.Type {
	case remote.EventAdded, remote.EventModified:
		rel, err := models.DecodeRelationship(ev.Doc)
		if err != nil {
			return err
		}
		return s.mergeUpsert(ctx, rel)
	case remote.EventRemoved:
		return s.repo.DeleteByCanonicalID(ctx, ev.ID)
	default:
		return fmt.Errorf("unknown event type %q: %w", ev.Type, common.ErrorInvalidState)
	}
}

// PurgeLocal drops every cached relationship involving accountID.
func (s *RelationshipService) PurgeLocal(ctx context.Context, accountID string) error {
	return s.repo.DeleteAllForAccount(ctx, accountID)
}

func (s *RelationshipService) mergeUpsert(ctx context.Context, incoming *models.Relationship) error {
	local, err := s.repo.GetByCanonicalID(ctx, incoming.CanonicalID())
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
