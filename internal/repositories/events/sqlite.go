package events

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

const selectColumns = `id, title, date, location, category, participants,
	notes, is_ai_generated, creator_id, is_deleted, created_at, updated_at`

// participantFilter matches rows whose participants JSON array contains the
// bound account id.
const participantFilter = `EXISTS (SELECT 1 FROM json_each(participants) WHERE json_each.value = ?)`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Event) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `INSERT INTO events (id, title, date, location, category, participants,
				notes, is_ai_generated, creator_id, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				date = excluded.date,
				location = excluded.location,
				category = excluded.category,
				participants = excluded.participants,
				notes = excluded.notes,
				is_ai_generated = excluded.is_ai_generated,
				is_deleted = excluded.is_deleted,
				updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Title, e.Date.UTC().Format(timeFormat), e.Location, string(e.Category),
		string(participants), e.Notes, e.IsAIGenerated, e.CreatorID, e.IsDeleted,
		e.CreatedAt.UTC().Format(timeFormat), e.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM events WHERE id = ?`, id)

	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select event: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListByParticipant(ctx context.Context, accountID string, includeDeleted bool) ([]models.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM events WHERE ` + participantFilter
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY date`
	return r.list(ctx, query, accountID)
}

func (r *SQLiteRepository) Search(ctx context.Context, q string) ([]models.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM events
			WHERE is_deleted = 0 AND (title LIKE ? OR location LIKE ?) ORDER BY date`
	pattern := "%" + q + "%"
	return r.list(ctx, query, pattern, pattern)
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAllForParticipant(ctx context.Context, accountID string) error {
	query := `DELETE FROM events WHERE ` + participantFilter
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var result []models.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEvent(scan func(dest ...any) error) (*models.Event, error) {
	var (
		e            models.Event
		date         string
		category     string
		participants string
		createdAt    string
		updatedAt    string
	)
	err := scan(&e.ID, &e.Title, &date, &e.Location, &category, &participants,
		&e.Notes, &e.IsAIGenerated, &e.CreatorID, &e.IsDeleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Category = models.EventCategory(category)
	if e.Date, err = time.Parse(timeFormat, date); err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}
	if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
		return nil, fmt.Errorf("invalid participants: %w", err)
	}
	if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &e, nil
}
