package accounts

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/dbx"
	"github.com/kithapp/kith/internal/localdb"
	"github.com/kithapp/kith/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := localdb.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testAccount(id, name string) *models.Account {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Account{
		ID:          id,
		Name:        name,
		Email:       name + "@example.com",
		Preferences: map[string]any{"reminders": true},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUpsert_InsertAndUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := testAccount("u1", "Alice")
	require.NoError(t, r.Upsert(ctx, a))

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, map[string]any{"reminders": true}, got.Preferences)

	a.Bio = "updated bio"
	a.UpdatedAt = a.UpdatedAt.Add(time.Minute)
	require.NoError(t, r.Upsert(ctx, a))

	got, err = r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "updated bio", got.Bio)
	assert.Equal(t, a.UpdatedAt, got.UpdatedAt)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpsert_Birthday(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := testAccount("u1", "Alice")
	bday := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	a.Birthday = &bday
	require.NoError(t, r.Upsert(ctx, a))

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.Birthday)
	assert.Equal(t, bday, *got.Birthday)
}

func TestSearch(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, testAccount("u1", "Alice")))
	require.NoError(t, r.Upsert(ctx, testAccount("u2", "Albert")))
	require.NoError(t, r.Upsert(ctx, testAccount("u3", "Bob")))

	got, err := r.Search(ctx, "Al")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Albert", got[0].Name)
	assert.Equal(t, "Alice", got[1].Name)
}

func TestDeleteByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, testAccount("u1", "Alice")))
	require.NoError(t, r.DeleteByID(ctx, "u1"))

	_, err := r.GetByID(ctx, "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// absent id is a no-op
	assert.NoError(t, r.DeleteByID(ctx, "u1"))
}

func TestWorksInsideTransaction(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return NewSQLiteRepository(tx).Upsert(ctx, testAccount("u1", "Alice"))
	})
	require.NoError(t, err)

	_, err = NewSQLiteRepository(db).GetByID(ctx, "u1")
	assert.NoError(t, err)

	// a failing transaction rolls the write back
	boom := errors.New("boom")
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := NewSQLiteRepository(tx).Upsert(ctx, testAccount("u2", "Bob")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = NewSQLiteRepository(db).GetByID(ctx, "u2")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
