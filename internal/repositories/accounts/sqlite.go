package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/dbx"
	"github.com/kithapp/kith/internal/models"
)

const timeFormat = time.RFC3339Nano

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, a *models.Account) error {
	prefs, err := json.Marshal(a.Preferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	var birthday sql.NullString
	if a.Birthday != nil {
		birthday = sql.NullString{String: a.Birthday.UTC().Format(timeFormat), Valid: true}
	}

	query := `INSERT INTO accounts (id, name, email, phone_number, bio, profile_image_url,
				birthday, preferences, is_profile_active, is_discoverable, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				email = excluded.email,
				phone_number = excluded.phone_number,
				bio = excluded.bio,
				profile_image_url = excluded.profile_image_url,
				birthday = excluded.birthday,
				preferences = excluded.preferences,
				is_profile_active = excluded.is_profile_active,
				is_discoverable = excluded.is_discoverable,
				updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Email, a.PhoneNumber, a.Bio, a.ProfileImageURL,
		birthday, string(prefs), a.IsProfileActive, a.IsDiscoverable,
		a.CreatedAt.UTC().Format(timeFormat), a.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT id, name, email, phone_number, bio, profile_image_url,
				birthday, preferences, is_profile_active, is_discoverable, created_at, updated_at
			FROM accounts WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	a, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) Search(ctx context.Context, q string) ([]models.Account, error) {
	query := `SELECT id, name, email, phone_number, bio, profile_image_url,
				birthday, preferences, is_profile_active, is_discoverable, created_at, updated_at
			FROM accounts WHERE name LIKE ? OR email LIKE ? ORDER BY name`
	pattern := q + "%"
	rows, err := r.db.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts: %w", err)
	}
	defer rows.Close()

	var result []models.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func scanAccount(scan func(dest ...any) error) (*models.Account, error) {
	var (
		a         models.Account
		birthday  sql.NullString
		prefs     string
		createdAt string
		updatedAt string
	)
	err := scan(&a.ID, &a.Name, &a.Email, &a.PhoneNumber, &a.Bio, &a.ProfileImageURL,
		&birthday, &prefs, &a.IsProfileActive, &a.IsDiscoverable, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if birthday.Valid {
		t, err := time.Parse(timeFormat, birthday.String)
		if err != nil {
			return nil, fmt.Errorf("invalid birthday: %w", err)
		}
		a.Birthday = &t
	}
	if err := json.Unmarshal([]byte(prefs), &a.Preferences); err != nil {
		return nil, fmt.Errorf("invalid preferences: %w", err)
	}
	if a.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &a, nil
}
