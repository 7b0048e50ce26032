package syncstate

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

func (r *SQLiteRepository) Get(ctx context.Context) (*models.SyncState, error) {
	s := &models.SyncState{}
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sync, data_hash, device_id, pending_operations, conflict_resolutions FROM sync_state WHERE id = 1`).
		Scan(&s.LastSync, &s.DataHash, &s.DeviceID, &s.PendingOperations, &s.ConflictResolutions)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.SyncState) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_state SET last_sync = ?, data_hash = ?, device_id = ?, pending_operations = ?, conflict_resolutions = ? WHERE id = 1`,
		s.LastSync, s.DataHash, s.DeviceID, s.PendingOperations, s.ConflictResolutions)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
