// Package services implements the entity-level sync logic: each service
// pairs the remote document store with the local cache repository for one
// entity kind, applying remote-write-before-local-durability on mutations
// and last-write-wins merging on reconciliation.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/models"
	"github.com/kithapp/kith/internal/remote"
	"github.com/kithapp/kith/internal/repositories/accounts"
)

// CurrentAccountProvider yields the signed-in account id, or
// common.ErrorUnauthenticated when there is no live session.
type CurrentAccountProvider interface {
	CurrentAccountID() (string, error)
}

// AccountService keeps the local account cache consistent with the remote
// accounts collection.
type AccountService struct {
	store   remote.Store
	repo    accounts.Repository
	current CurrentAccountProvider
	logger  logging.Logger
}

func NewAccountService(store remote.Store, repo accounts.Repository, current CurrentAccountProvider, logger logging.Logger) *AccountService {
	return &AccountService{store: store, repo: repo, current: current, logger: logger}
}

// Get returns the account by id, reading through to the remote store when
// the local cache misses. A remote hit is cached before returning.
func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		// a broken cache row degrades to a miss, the remote is authoritative
		s.logger.Warn(ctx, "local account read failed", "account_id", id, "error", err)
	}

	doc, err := s.store.Get(ctx, remote.CollectionAccounts, id)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	a, err = models.DecodeAccount(doc)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetCurrent returns the signed-in user's account.
func (s *AccountService) GetCurrent(ctx context.Context) (*models.Account, error) {
	id, err := s.current.CurrentAccountID()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Create writes the account remotely first, then caches it locally. The
// write timestamps are rewritten here so the record's updatedAt reflects
// this mutation.
func (s *AccountService) Create(ctx context.Context, a *models.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if _, err := s.store.Get(ctx, remote.CollectionAccounts, a.ID); err == nil {
		return fmt.Errorf("account %s: %w", a.ID, common.ErrorAlreadyExists)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("failed to check account: %w", err)
	}

	if err := s.store.Set(ctx, remote.CollectionAccounts, a.ID, a.Document()); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return s.repo.Upsert(ctx, a)
}

// Update rewrites updatedAt, replaces the remote document, and only then
// updates the cache. A failed remote write leaves the cache untouched; an
// absent remote document fails with common.ErrorNotFound.
func (s *AccountService) Update(ctx context.Context, a *models.Account) error {
	a.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, remote.CollectionAccounts, a.ID, a.Document()); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return s.repo.Upsert(ctx, a)
}

// EnsureProfile creates a minimal account document for the signed-in user
// when none exists yet. Returns the existing or created account.
func (s *AccountService) EnsureProfile(ctx context.Context) (*models.Account, error) {
	id, err := s.current.CurrentAccountID()
	if err != nil {
		return nil, err
	}

	a, err := s.Get(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	s.logger.Info(ctx, "creating initial profile", "account_id", id)
	a = &models.Account{
		ID:              id,
		IsProfileActive: true,
		IsDiscoverable:  true,
		Preferences:     map[string]any{},
	}
	if err := s.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Search queries the local cache by name or email substring.
func (s *AccountService) Search(ctx context.Context, q string) ([]models.Account, error) {
	return s.repo.Search(ctx, q)
}

// SyncLocalWithRemote pulls the account document for accountID and merges
// it into the cache with last-write-wins. A missing remote document is a
// no-op: profile creation is EnsureProfile's job.
func (s *AccountService) SyncLocalWithRemote(ctx context.Context, accountID string) error {
	doc, err := s.store.Get(ctx, remote.CollectionAccounts, accountID)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Debug(ctx, "no remote account document", "account_id", accountID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch account: %w", err)
	}

	incoming, err := models.DecodeAccount(doc)
	if err != nil {
		return err
	}
	return s.mergeUpsert(ctx, incoming)
}

// ApplyRemoteEvent applies one change-stream delta through the same
// last-write-wins path as a full sync.
func (s *AccountService) ApplyRemoteEvent(ctx context.Context, ev remote.Event) error {
	switch ev.Type {
	case remote.EventAdded, remote.EventModified:
		incoming, err := models.DecodeAccount(ev.Doc)
		if err != nil {
			return err
		}
		return s.mergeUpsert(ctx, incoming)
	case remote.EventRemoved:
		return s.repo.DeleteByID(ctx, ev.ID)
	default:
		return fmt.Errorf("unknown event type %q: %w", ev.Type, common.ErrorInvalidState)
	}
}

// PurgeLocal drops the cached account row.
func (s *AccountService) PurgeLocal(ctx context.Context, accountID string) error {
	return s.repo.DeleteByID(ctx, accountID)
}

func (s *AccountService) mergeUpsert(ctx context.Context, incoming *models.Account) error {
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
