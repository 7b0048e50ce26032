package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `entity_type, id, local_id, cloud_id, version, sync_status,
	created_at, updated_at, last_synced_at, dirty, payload`

func scanRecord(scan func(dest ...any) error) (*models.LocalEntity, error) {
	e := &models.LocalEntity{}
	var dirty int
	var payload string
	err := scan(&e.EntityType, &e.ID, &e.LocalID, &e.CloudID, &e.Version, &e.SyncStatus,
		&e.CreatedAt, &e.UpdatedAt, &e.LastSyncedAt, &dirty, &payload)
	if err != nil {
		return nil, err
	}
	e.Dirty = dirty != 0
	e.Data = []byte(payload)
	return e, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.LocalEntity) error {
	query := `INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			local_id = excluded.local_id,
			cloud_id = excluded.cloud_id,
			version = excluded.version,
			sync_status = excluded.sync_status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at,
			dirty = excluded.dirty,
			payload = excluded.payload
	`
	dirty := 0
	if e.Dirty {
		dirty = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		e.EntityType, e.ID, e.LocalID, e.CloudID, e.Version, e.SyncStatus,
		e.CreatedAt, e.UpdatedAt, e.LastSyncedAt, dirty, string(e.Data))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE entity_type = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, t, id)
	e, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.LocalEntity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.LocalEntity
	for rows.Next() {
		e, err := scanRecord(rows.Scan)
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

func (r *SQLiteRepository) ListByType(ctx context.Context, t models.EntityType) ([]models.LocalEntity, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM records WHERE entity_type = ? ORDER BY created_at`, t)
}

func (r *SQLiteRepository) ListAll(ctx context.Context) ([]models.LocalEntity, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM records ORDER BY entity_type, created_at`)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, s models.SyncStatus) ([]models.LocalEntity, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM records WHERE sync_status = ? ORDER BY updated_at`, s)
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, t models.EntityType, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE entity_type = ? AND id = ?`, t, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountByType(ctx context.Context) (map[models.EntityType]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_type, COUNT(*) FROM records GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	result := make(map[models.EntityType]int)
	for rows.Next() {
		var t models.EntityType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		result[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
