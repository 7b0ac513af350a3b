package services

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kithapp/kith/internal/localdb"
	"github.com/kithapp/kith/internal/logging"
	"github.com/kithapp/kith/internal/remote/memory"
	"github.com/kithapp/kith/internal/repositories/accounts"
	"github.com/kithapp/kith/internal/repositories/events"
	"github.com/kithapp/kith/internal/repositories/relationships"
)

// fixture wires all three services against an in-memory remote store and
// a file-backed SQLite cache.
type fixture struct {
	store    *memory.Store
	accounts *AccountService
	rels     *RelationshipService
	events   *EventService

	accountRepo accounts.Repository
	relRepo     relationships.Repository
	eventRepo   events.Repository
}

type staticAccount string

func (s staticAccount) CurrentAccountID() (string, error) { return string(s), nil }

func setup(t *testing.T, currentID string) *fixture {
	t.Helper()

	db, err := localdb.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return newFixture(t, db, currentID)
}

func newFixture(t *testing.T, db *sql.DB, currentID string) *fixture {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewDefault(slog.LevelError)
	f := &fixture{
		store:       store,
		accountRepo: accounts.NewSQLiteRepository(db),
		relRepo:     relationships.NewSQLiteRepository(db),
		eventRepo:   events.NewSQLiteRepository(db),
	}
	f.accounts = NewAccountService(store, f.accountRepo, staticAccount(currentID), logger)
	f.rels = NewRelationshipService(store, f.relRepo, logger)
	f.events = NewEventService(store, f.eventRepo, logger)
	return f
}

func ts(min int) time.Time {
	return time.Date(2025, 3, 1, 12, min, 0, 0, time.UTC)
}
