package events

import (
	"context"

	"github.com/kithapp/kith/internal/models"
)

// Repository describes local-cache operations for Event records.
//
// Events are soft-deleted: the cache keeps tombstoned rows so that reads
// after a sync correctly reflect deletion.
type Repository interface {
	// Upsert inserts or replaces an event by id.
	Upsert(ctx context.Context, event *models.Event) error

	// GetByID returns an event by id, including soft-deleted ones;
	// common.ErrorNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.Event, error)

	// ListByParticipant returns events where accountID is a participant.
	// Soft-deleted events are excluded unless includeDeleted is set.
	ListByParticipant(ctx context.Context, accountID string, includeDeleted bool) ([]models.Event, error)

	// Search returns non-deleted events whose title or location contains q.
	Search(ctx context.Context, q string) ([]models.Event, error)

	// DeleteByID physically removes an event row. Absent ids are a no-op.
	DeleteByID(ctx context.Context, id string) error

	// DeleteAllForParticipant physically removes every event involving
	// accountID.
	DeleteAllForParticipant(ctx context.Context, accountID string) error
}
