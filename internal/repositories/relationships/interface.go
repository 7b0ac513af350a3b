package relationships

import (
	"context"

	"github.com/kithapp/kith/internal/models"
)

// Repository describes local-cache operations for Relationship records.
//
// Relationships are addressed two ways: by synthetic id (local API surface)
// and by canonical pair key (the remote storage address). Reconciliation
// works in canonical-key space.
type Repository interface {
	// Upsert inserts or replaces a relationship by canonical key.
	Upsert(ctx context.Context, rel *models.Relationship) error

	// GetByID returns a relationship by synthetic id;
	// common.ErrorNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.Relationship, error)

	// GetByCanonicalID returns a relationship by canonical pair key;
	// common.ErrorNotFound when absent.
	GetByCanonicalID(ctx context.Context, canonicalID string) (*models.Relationship, error)

	// ListForAccount returns all relationships where accountID is either
	// the owner or the counterpart.
	ListForAccount(ctx context.Context, accountID string) ([]models.Relationship, error)

	// Search returns relationships whose type equals q or whose notes
	// contain q.
	Search(ctx context.Context, q string) ([]models.Relationship, error)

	// DeleteByID removes a relationship by synthetic id. Absent ids are a no-op.
	DeleteByID(ctx context.Context, id string) error

	// DeleteByCanonicalID removes a relationship by canonical pair key.
	// Absent keys are a no-op.
	DeleteByCanonicalID(ctx context.Context, canonicalID string) error

	// DeleteAllForAccount removes every relationship involving accountID.
	DeleteAllForAccount(ctx context.Context, accountID string) error
}
