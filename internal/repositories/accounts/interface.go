package accounts

import (
	"context"

	"github.com/kithapp/kith/internal/models"
)

// Repository describes local-cache operations for Account records.
// Implementations are backed by the local SQLite database.
type Repository interface {
	// Upsert inserts a new account or replaces an existing one by id.
	Upsert(ctx context.Context, account *models.Account) error

	// GetByID returns an account by id; common.ErrorNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// Search returns accounts whose name or email starts with q.
	Search(ctx context.Context, q string) ([]models.Account, error)

	// DeleteByID removes an account from the cache. Absent ids are a no-op.
	DeleteByID(ctx context.Context, id string) error
}
