// Package operations persists the offline operation queue. Rows survive
// process restarts; ordering is priority first, then insertion order.
package operations

import (
	"context"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// Repository describes storage operations for queued mutations.
type Repository interface {
	// Insert stores a fully populated operation.
	Insert(ctx context.Context, op *models.PendingOperation) error

	// GetByID returns one operation or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.PendingOperation, error)

	// Eligible selects up to limit operations ready for dispatch: pending,
	// or failed with retries left whose backoff window has elapsed by now
	// (epoch ms). Syncing and terminally failed rows never match. Ordering
	// is priority rank descending, then insertion order.
	Eligible(ctx context.Context, minRank int, now int64, limit int) ([]models.PendingOperation, error)

	// MarkSyncing transitions the given operations to syncing.
	MarkSyncing(ctx context.Context, ids []string) error

	// MarkCompleted transitions one operation to completed.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed records a failed attempt: retry count, attempt time and
	// the error message. Status becomes failed whether or not retries
	// remain; eligibility decides if it is terminal.
	MarkFailed(ctx context.Context, id string, retryCount int, attemptedAt int64, errMsg string) error

	// MarkPending returns an operation to pending (used when a cycle is
	// torn down before the operation was dispatched).
	MarkPending(ctx context.Context, id string) error

	// DeleteByID discards one operation regardless of status except syncing.
	DeleteByID(ctx context.Context, id string) error

	// DeleteCompleted removes completed rows, returning how many.
	DeleteCompleted(ctx context.Context) (int64, error)

	// ClearNotSyncing removes every row except those currently syncing.
	ClearNotSyncing(ctx context.Context) (int64, error)

	// EvictLowest removes up to n of the oldest, lowest-priority pending
	// rows to bound queue growth. Returns how many were evicted.
	EvictLowest(ctx context.Context, n int) (int64, error)

	// List returns all operations, optionally filtered by status.
	List(ctx context.Context, status models.OperationStatus) ([]models.PendingOperation, error)

	// Count returns the number of rows not yet completed.
	Count(ctx context.Context) (int, error)

	// CountByStatus returns row counts per status.
	CountByStatus(ctx context.Context) (map[models.OperationStatus]int, error)
}
