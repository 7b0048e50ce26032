package operations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ilyakasyanov/walletsync/internal/common"
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

const opColumns = `id, op_type, entity_type, entity_id, payload, ts,
	retry_count, max_retries, status, priority, last_attempt_at, last_error`

func scanOp(scan func(dest ...any) error) (*models.PendingOperation, error) {
	op := &models.PendingOperation{}
	var payload string
	var rank int
	err := scan(&op.ID, &op.Type, &op.EntityType, &op.EntityID, &payload, &op.Timestamp,
		&op.RetryCount, &op.MaxRetries, &op.Status, &rank, &op.LastAttemptAt, &op.LastError)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		op.Data = []byte(payload)
	}
	op.Priority = models.PriorityFromRank(rank)
	return op, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, op *models.PendingOperation) error {
	query := `INSERT INTO operations (` + opColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.Type, op.EntityType, op.EntityID, string(op.Data), op.Timestamp,
		op.RetryCount, op.MaxRetries, op.Status, op.Priority.Rank(), op.LastAttemptAt, op.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.PendingOperation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+opColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOp(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// Eligible applies the retry-backoff window in SQL: a failed row becomes
// due again (1 << retry_count) seconds after its last attempt.
func (r *SQLiteRepository) Eligible(ctx context.Context, minRank int, now int64, limit int) ([]models.PendingOperation, error) {
	query := `SELECT ` + opColumns + ` FROM operations
		WHERE priority >= ?
		  AND (status = 'pending'
		       OR (status = 'failed'
		           AND retry_count < max_retries
		           AND last_attempt_at + (1 << retry_count) * 1000 <= ?))
		ORDER BY priority DESC, ts ASC, rowid ASC
		LIMIT ?`
	return r.list(ctx, query, minRank, now, limit)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []models.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkSyncing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE operations SET status = 'syncing' WHERE id IN (` + placeholders + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark operations syncing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE operations SET status = 'completed' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark operation completed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, retryCount int, attemptedAt int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE operations SET status = 'failed', retry_count = ?, last_attempt_at = ?, last_error = ? WHERE id = ?`,
		retryCount, attemptedAt, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkPending(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE operations SET status = 'pending' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark operation pending: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ? AND status != 'syncing'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
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

func (r *SQLiteRepository) DeleteCompleted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE status = 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ClearNotSyncing(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE status != 'syncing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) EvictLowest(ctx context.Context, n int) (int64, error) {
	query := `DELETE FROM operations WHERE id IN (
		SELECT id FROM operations WHERE status = 'pending'
		ORDER BY priority ASC, ts ASC, rowid ASC LIMIT ?)`
	res, err := r.db.ExecContext(ctx, query, n)
	if err != nil {
		return 0, fmt.Errorf("failed to evict operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) List(ctx context.Context, status models.OperationStatus) ([]models.PendingOperation, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+opColumns+` FROM operations ORDER BY priority DESC, ts ASC, rowid ASC`)
	}
	return r.list(ctx, `SELECT `+opColumns+` FROM operations WHERE status = ? ORDER BY priority DESC, ts ASC, rowid ASC`, status)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE status != 'completed'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.OperationStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	result := make(map[models.OperationStatus]int)
	for rows.Next() {
		var s models.OperationStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		result[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
