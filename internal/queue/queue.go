// Package queue implements the offline operation queue: ordered, durable
// buffering of mutations so sync can proceed independently of the
// originating call and survive process restarts.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/repositories/operations"
)

// Config bounds queue growth and batching.
type Config struct {
	// MaxLength caps stored operations; beyond it the oldest
	// lowest-priority pending rows are evicted best-effort.
	MaxLength int
	// BatchSize caps how many operations one drain selects.
	BatchSize int
	// MaxRetries is the default retry budget for new operations.
	MaxRetries int
}

// DefaultConfig mirrors the engine-wide defaults.
func DefaultConfig() Config {
	return Config{MaxLength: 500, BatchSize: 50, MaxRetries: 3}
}

// Queue is the durable operation buffer. It shares the replica database.
type Queue struct {
	db  *sql.DB
	cfg Config
	log logging.Logger
}

func New(db *sql.DB, cfg Config, log logging.Logger) *Queue {
	def := DefaultConfig()
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Queue{db: db, cfg: cfg, log: log.With("component", "queue")}
}

func (q *Queue) repo(db dbx.DBTX) operations.Repository {
	return operations.NewSQLiteRepository(db)
}

// AddOperation assigns identity and defaults, then inserts the operation
// ordered by priority (FIFO within a band, by insertion order). When the
// queue is over its cap, the oldest lowest-priority pending rows are
// dropped; if nothing is evictable the enqueue is refused with
// ErrQueueFull.
func (q *Queue) AddOperation(ctx context.Context, op models.PendingOperation) (*models.PendingOperation, error) {
	if !op.EntityType.Known() {
		return nil, fmt.Errorf("enqueue %q: %w", op.EntityType, common.ErrUnknownEntityType)
	}
	switch op.Type {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return nil, fmt.Errorf("enqueue %q: %w", op.Type, common.ErrUnknownOperation)
	}

	op.ID = uuid.NewString()
	op.Timestamp = models.NowMillis()
	op.RetryCount = 0
	op.Status = models.OpStatusPending
	if op.MaxRetries <= 0 {
		op.MaxRetries = q.cfg.MaxRetries
	}
	switch op.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		op.Priority = models.PriorityMedium
	}

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.repo(tx)
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		if n >= q.cfg.MaxLength {
			evicted, err := repo.EvictLowest(ctx, n-q.cfg.MaxLength+1)
			if err != nil {
				return err
			}
			if evicted == 0 {
				// nothing pending to drop, every row is syncing or failed
				return fmt.Errorf("enqueue: %w", common.ErrQueueFull)
			}
			q.log.Warn(ctx, "queue over capacity, evicted operations", "evicted", evicted)
		}
		return repo.Insert(ctx, &op)
	})
	if err != nil {
		return nil, err
	}

	q.log.Debug(ctx, "operation enqueued",
		"id", op.ID, "type", op.Type, "entityType", op.EntityType, "priority", op.Priority)
	return &op, nil
}

// NextBatch atomically selects up to the batch cap of eligible operations
// at or above minPriority and marks them syncing. Eligible means pending,
// or failed with retries left whose 2^retryCount-second backoff elapsed.
func (q *Queue) NextBatch(ctx context.Context, minPriority models.Priority) ([]models.PendingOperation, error) {
	var batch []models.PendingOperation
	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.repo(tx)
		ops, err := repo.Eligible(ctx, minPriority.Rank(), models.NowMillis(), q.cfg.BatchSize)
		if err != nil {
			return err
		}
		ids := make([]string, len(ops))
		for i := range ops {
			ids[i] = ops[i].ID
			ops[i].Status = models.OpStatusSyncing
		}
		if err := repo.MarkSyncing(ctx, ids); err != nil {
			return err
		}
		batch = ops
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// CompleteOperation records a successful dispatch.
func (q *Queue) CompleteOperation(ctx context.Context, id string) error {
	return q.repo(q.db).MarkCompleted(ctx, id)
}

// FailOperation records an unsuccessful dispatch attempt. Returns whether
// the retry budget is now exhausted (terminal); the operation stays in
// the table with a terminal failed status until explicitly discarded.
func (q *Queue) FailOperation(ctx context.Context, op *models.PendingOperation, cause string) (terminal bool, err error) {
	op.RetryCount++
	op.Status = models.OpStatusFailed
	op.LastAttemptAt = models.NowMillis()
	op.LastError = cause
	if err := q.repo(q.db).MarkFailed(ctx, op.ID, op.RetryCount, op.LastAttemptAt, cause); err != nil {
		return false, err
	}
	return op.RetriesExhausted(), nil
}

// FailTerminal exhausts the retry budget in one step. Used for remote
// rejections (auth, validation, version conflict) that no amount of
// retrying can fix.
func (q *Queue) FailTerminal(ctx context.Context, op *models.PendingOperation, cause string) error {
	op.RetryCount = op.MaxRetries
	op.Status = models.OpStatusFailed
	op.LastAttemptAt = models.NowMillis()
	op.LastError = cause
	return q.repo(q.db).MarkFailed(ctx, op.ID, op.RetryCount, op.LastAttemptAt, cause)
}

// ReleaseOperation returns a not-yet-dispatched operation to pending,
// used when a cycle is torn down before the operation went out.
func (q *Queue) ReleaseOperation(ctx context.Context, id string) error {
	return q.repo(q.db).MarkPending(ctx, id)
}

// DiscardOperation explicitly removes one operation. Syncing rows are
// protected and surface as ErrOperationSyncing.
func (q *Queue) DiscardOperation(ctx context.Context, id string) error {
	repo := q.repo(q.db)
	err := repo.DeleteByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		if op, getErr := repo.GetByID(ctx, id); getErr == nil && op.Status == models.OpStatusSyncing {
			return fmt.Errorf("discard %s: %w", id, common.ErrOperationSyncing)
		}
	}
	return err
}

// ClearQueue removes everything except in-flight operations.
func (q *Queue) ClearQueue(ctx context.Context) (int64, error) {
	return q.repo(q.db).ClearNotSyncing(ctx)
}

// CleanupCompletedOperations prunes completed rows.
func (q *Queue) CleanupCompletedOperations(ctx context.Context) (int64, error) {
	return q.repo(q.db).DeleteCompleted(ctx)
}

// PendingCount reports operations not yet completed.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.repo(q.db).Count(ctx)
}

// Counts reports operations per status.
func (q *Queue) Counts(ctx context.Context) (map[models.OperationStatus]int, error) {
	return q.repo(q.db).CountByStatus(ctx)
}

// TerminallyFailed lists operations whose retry budget is exhausted; these
// are surfaced to the caller, never retried automatically.
func (q *Queue) TerminallyFailed(ctx context.Context) ([]models.PendingOperation, error) {
	failed, err := q.repo(q.db).List(ctx, models.OpStatusFailed)
	if err != nil {
		return nil, err
	}
	terminal := failed[:0]
	for _, op := range failed {
		if op.RetriesExhausted() {
			terminal = append(terminal, op)
		}
	}
	return terminal, nil
}

// List exposes the raw queue contents (status surface, debugging).
func (q *Queue) List(ctx context.Context, status models.OperationStatus) ([]models.PendingOperation, error) {
	return q.repo(q.db).List(ctx, status)
}
