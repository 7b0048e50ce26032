package resolutions

import (
	"context"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, res *models.ConflictResolution) error {
	query := `INSERT INTO resolutions (id, entity_type, entity_id, detected_at, resolved_at, strategy, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		res.ID, res.EntityType, res.EntityID, res.DetectedAt, res.ResolvedAt, res.Strategy, res.Note)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]models.ConflictResolution, error) {
	query := `SELECT id, entity_type, entity_id, detected_at, resolved_at, strategy, note FROM resolutions`
	var args []any
	switch {
	case f.EntityType != "" && f.EntityID != "":
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, f.EntityType, f.EntityID)
	case f.EntityType != "":
		query += ` WHERE entity_type = ?`
		args = append(args, f.EntityType)
	}
	query += ` ORDER BY resolved_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select resolutions: %w", err)
	}
	defer rows.Close()

	var result []models.ConflictResolution
	for rows.Next() {
		var item models.ConflictResolution
		if err := rows.Scan(&item.ID, &item.EntityType, &item.EntityID, &item.DetectedAt, &item.ResolvedAt, &item.Strategy, &item.Note); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CountSince(ctx context.Context, ts int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolutions WHERE resolved_at >= ?`, ts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resolutions`); err != nil {
		return fmt.Errorf("failed to clear resolutions: %w", err)
	}
	return nil
}
