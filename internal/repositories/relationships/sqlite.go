package relationships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/dbx"
	"github.com/kithapp/kith/internal/models"
)

const timeFormat = time.RFC3339Nano

const selectColumns = `id, canonical_id, owner_id, counterpart_id, relationship_type,
	is_favorite, last_interaction_date, next_scheduled_date, custom_notes,
	last_contacted_date, created_at, updated_at`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rel *models.Relationship) error {
	query := `INSERT INTO relationships (id, canonical_id, owner_id, counterpart_id,
				relationship_type, is_favorite, last_interaction_date, next_scheduled_date,
				custom_notes, last_contacted_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(canonical_id) DO UPDATE SET relationship_type = excluded.relationship_type,
				is_favorite = excluded.is_favorite,
				last_interaction_date = excluded.last_interaction_date,
				next_scheduled_date = excluded.next_scheduled_date,
				custom_notes = excluded.custom_notes,
				last_contacted_date = excluded.last_contacted_date,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rel.ID, rel.CanonicalID(), rel.OwnerID, rel.CounterpartID,
		string(rel.Type), rel.IsFavorite,
		nullTime(rel.LastInteractionDate), nullTime(rel.NextScheduledDate),
		rel.CustomNotes, nullTime(rel.LastContactedDate),
		rel.CreatedAt.UTC().Format(timeFormat), rel.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Relationship, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM relationships WHERE id = ?`, id)

	rel, err := scanRelationship(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select relationship: %w", err)
	}
	return rel, nil
}

func (r *SQLiteRepository) GetByCanonicalID(ctx context.Context, canonicalID string) (*models.Relationship, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM relationships WHERE canonical_id = ?`, canonicalID)

	rel, err := scanRelationship(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship %s: %w", canonicalID, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select relationship: %w", err)
	}
	return rel, nil
}

func (r *SQLiteRepository) ListForAccount(ctx context.Context, accountID string) ([]models.Relationship, error) {
	query := `SELECT ` + selectColumns + ` FROM relationships
			WHERE owner_id = ? OR counterpart_id = ? ORDER BY updated_at DESC`
	return r.list(ctx, query, accountID, accountID)
}

func (r *SQLiteRepository) Search(ctx context.Context, q string) ([]models.Relationship, error) {
	query := `SELECT ` + selectColumns + ` FROM relationships
			WHERE relationship_type = ? OR custom_notes LIKE ? ORDER BY updated_at DESC`
	return r.list(ctx, query, q, "%"+q+"%")
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByCanonicalID(ctx context.Context, canonicalID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM relationships WHERE canonical_id = ?`, canonicalID); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAllForAccount(ctx context.Context, accountID string) error {
	query := `DELETE FROM relationships WHERE owner_id = ? OR counterpart_id = ?`
	if _, err := r.db.ExecContext(ctx, query, accountID, accountID); err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Relationship, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select relationships: %w", err)
	}
	defer rows.Close()

	var result []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseNullTime(s sql.NullString, field string) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &t, nil
}

func scanRelationship(scan func(dest ...any) error) (*models.Relationship, error) {
	var (
		rel             models.Relationship
		canonicalID     string
		typ             string
		lastInteraction sql.NullString
		nextScheduled   sql.NullString
		lastContacted   sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := scan(&rel.ID, &canonicalID, &rel.OwnerID, &rel.CounterpartID, &typ,
		&rel.IsFavorite, &lastInteraction, &nextScheduled, &rel.CustomNotes,
		&lastContacted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rel.Type = models.RelationshipType(typ)
	if rel.LastInteractionDate, err = parseNullTime(lastInteraction, "last_interaction_date"); err != nil {
		return nil, err
	}
	if rel.NextScheduledDate, err = parseNullTime(nextScheduled, "next_scheduled_date"); err != nil {
		return nil, err
	}
	if rel.LastContactedDate, err = parseNullTime(lastContacted, "last_contacted_date"); err != nil {
		return nil, err
	}
	if rel.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if rel.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &rel, nil
}
