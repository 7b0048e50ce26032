// Package syncer implements the cloud sync driver: the only component
// that speaks to the remote transport. It coordinates pushing queued
// operations, pulling remote state, conflict detection and resolution
// into one guarded cycle.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/conflict"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/store"
	"github.com/ilyakasyanov/walletsync/internal/transport"
)

// SyncResult reports the outcome of one sync cycle. Per-operation
// outcomes are independent; one rejection never aborts the batch.
type SyncResult struct {
	Success     bool                  `json:"success"`
	Conflicts   []models.ConflictItem `json:"conflicts,omitempty"`
	Errors      []string              `json:"errors,omitempty"`
	SyncedCount int                   `json:"syncedCount"`
	FailedCount int                   `json:"failedCount"`
	OperationID string                `json:"operationId"`
	Timestamp   int64                 `json:"timestamp"`
}

// Config tunes the driver.
type Config struct {
	// Concurrency caps simultaneous operation dispatches in one cycle.
	Concurrency int
	// PullRetries caps in-cycle retries of the dataset pull on transient
	// network failures. Queued operations are never retried in-cycle;
	// their budget belongs to the queue.
	PullRetries uint64
	// BaseInterval is the schedule hint interval when link quality is
	// unknown. A healthy link tightens it, a degraded link widens it.
	BaseInterval time.Duration
}

// Driver runs sync cycles against the remote store.
type Driver struct {
	store     *store.Store
	queue     *queue.Queue
	detector  *conflict.Detector
	history   *conflict.History
	transport transport.Transport
	emitter   *Emitter
	log       logging.Logger
	cfg       Config

	// at most one cycle per dataset; checked with a CAS so overlapping
	// timers and manual "sync now" never double-execute
	busy atomic.Bool

	mu         sync.Mutex
	lastResult *SyncResult
}

func New(st *store.Store, q *queue.Queue, det *conflict.Detector, hist *conflict.History, tr transport.Transport, em *Emitter, cfg Config, log logging.Logger) *Driver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PullRetries == 0 {
		cfg.PullRetries = 2
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 30 * time.Second
	}
	return &Driver{
		store:     st,
		queue:     q,
		detector:  det,
		history:   hist,
		transport: tr,
		emitter:   em,
		cfg:       cfg,
		log:       log.With("component", "syncer"),
	}
}

// Events exposes the driver's event stream.
func (d *Driver) Events() *Emitter { return d.emitter }

// SyncInProgress reports whether a cycle is currently running.
func (d *Driver) SyncInProgress() bool { return d.busy.Load() }

func (d *Driver) acquire() error {
	if !d.busy.CompareAndSwap(false, true) {
		return common.ErrSyncInProgress
	}
	return nil
}

func (d *Driver) release() { d.busy.Store(false) }

// checkCredentials short-circuits a cycle on an already-expired JWT:
// a terminal auth failure without a wasted round trip.
func (d *Driver) checkCredentials(creds transport.Credentials) error {
	if creds.TokenExpired(time.Now()) {
		return &transport.Error{Kind: transport.KindAuth, Op: "credentials", Err: common.ErrTokenExpired}
	}
	return nil
}

// ProcessQueue drains one batch of queued operations to the remote.
// Dispatches run concurrently up to the configured cap; outcomes are
// collected independently. A second call while one cycle is active is
// rejected with common.ErrSyncInProgress.
func (d *Driver) ProcessQueue(ctx context.Context, creds transport.Credentials, minPriority models.Priority) (*SyncResult, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer d.release()

	result := &SyncResult{OperationID: uuid.NewString(), Timestamp: models.NowMillis()}

	if err := d.checkCredentials(creds); err != nil {
		result.Errors = append(result.Errors, err.Error())
		d.finishCycle(ctx, result)
		return result, err
	}

	batch, err := d.queue.NextBatch(ctx, minPriority)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		result.Success = true
		d.finishCycle(ctx, result)
		return result, nil
	}

	d.log.Info(ctx, "sync cycle started", "cycle", result.OperationID, "operations", len(batch))

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := range batch {
		op := batch[i]
		if err := sem.Acquire(gctx, 1); err != nil {
			// driver torn down; not-yet-dispatched work returns to pending
			if relErr := d.queue.ReleaseOperation(ctx, op.ID); relErr != nil {
				d.log.Error(ctx, "failed to release operation", "id", op.ID, "error", relErr)
			}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			outcome := d.dispatch(gctx, creds, &op)
			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case outcomeSynced:
				result.SyncedCount++
			case outcomeConflict:
				result.Conflicts = append(result.Conflicts, *outcome.conflict)
			case outcomeFailed:
				result.FailedCount++
				result.Errors = append(result.Errors, outcome.err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Success = result.FailedCount == 0 && len(result.Conflicts) == 0
	d.finishCycle(ctx, result)
	return result, nil
}

type outcomeKind int

const (
	outcomeSynced outcomeKind = iota
	outcomeConflict
	outcomeFailed
	outcomeSkipped
)

type dispatchOutcome struct {
	kind     outcomeKind
	conflict *models.ConflictItem
	err      string
}

// dispatch replays one operation remotely and settles both the queue row
// and the entity's sync status.
func (d *Driver) dispatch(ctx context.Context, creds transport.Credentials, op *models.PendingOperation) dispatchOutcome {
	isDelete := op.Type == models.OpDelete

	if !isDelete {
		if err := d.store.MarkSyncing(ctx, op.EntityType, op.EntityID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				// entity vanished locally; the queued delete carries the tombstone
				d.log.Debug(ctx, "skipping operation for missing entity", "id", op.ID, "entity", op.EntityID)
				if cErr := d.queue.CompleteOperation(ctx, op.ID); cErr != nil {
					d.log.Error(ctx, "failed to complete skipped operation", "id", op.ID, "error", cErr)
				}
				return dispatchOutcome{kind: outcomeSkipped}
			}
			// entity in conflict or storage trouble; the operation stays
			// queued and retries with backoff
			if _, fErr := d.queue.FailOperation(ctx, op, err.Error()); fErr != nil {
				d.log.Error(ctx, "failed to record operation failure", "id", op.ID, "error", fErr)
			}
			return dispatchOutcome{kind: outcomeFailed, err: err.Error()}
		}
	}

	pushed, err := d.transport.Push(ctx, creds, *op)
	if err != nil {
		return d.settleFailure(ctx, op, err, isDelete)
	}

	if cErr := d.queue.CompleteOperation(ctx, op.ID); cErr != nil {
		d.log.Error(ctx, "failed to complete operation", "id", op.ID, "error", cErr)
	}

	if isDelete {
		return dispatchOutcome{kind: outcomeSynced}
	}

	expected := expectedVersion(op)
	requeue, err := d.store.MarkSynced(ctx, op.EntityType, op.EntityID, pushed.CloudID, expected)
	if err != nil {
		d.log.Error(ctx, "failed to finalize entity", "entity", op.EntityID, "error", err)
		return dispatchOutcome{kind: outcomeFailed, err: err.Error()}
	}
	if requeue {
		// a local edit raced the push; send the fresh version next cycle
		if err := d.requeueEntity(ctx, op); err != nil {
			d.log.Error(ctx, "failed to requeue dirty entity", "entity", op.EntityID, "error", err)
		}
	}
	return dispatchOutcome{kind: outcomeSynced}
}

func (d *Driver) settleFailure(ctx context.Context, op *models.PendingOperation, err error, isDelete bool) dispatchOutcome {
	switch {
	case transport.IsConflict(err):
		if !isDelete {
			if mErr := d.store.MarkConflict(ctx, op.EntityType, op.EntityID); mErr != nil {
				d.log.Error(ctx, "failed to mark entity conflicted", "entity", op.EntityID, "error", mErr)
			}
		}
		if fErr := d.queue.FailTerminal(ctx, op, err.Error()); fErr != nil {
			d.log.Error(ctx, "failed to settle conflicted operation", "id", op.ID, "error", fErr)
		}
		return dispatchOutcome{kind: outcomeConflict, conflict: &models.ConflictItem{
			EntityType:     op.EntityType,
			EntityID:       op.EntityID,
			LocalVersion:   expectedVersion(op),
			ConflictReason: "remote holds a different version",
			AutoResolvable: false,
			Severity:       models.SeverityMedium,
		}}

	case !transport.IsRetryable(err):
		// remote rejection: terminal for this operation, surfaced, never
		// silently retried
		if !isDelete {
			if mErr := d.store.MarkFailed(ctx, op.EntityType, op.EntityID); mErr != nil {
				d.log.Error(ctx, "failed to mark entity failed", "entity", op.EntityID, "error", mErr)
			}
		}
		if fErr := d.queue.FailTerminal(ctx, op, err.Error()); fErr != nil {
			d.log.Error(ctx, "failed to settle rejected operation", "id", op.ID, "error", fErr)
		}
		return dispatchOutcome{kind: outcomeFailed, err: err.Error()}

	default:
		// transport failure: back off and retry in a later cycle
		if !isDelete {
			if mErr := d.store.MarkFailed(ctx, op.EntityType, op.EntityID); mErr != nil {
				d.log.Error(ctx, "failed to mark entity failed", "entity", op.EntityID, "error", mErr)
			}
		}
		terminal, fErr := d.queue.FailOperation(ctx, op, err.Error())
		if fErr != nil {
			d.log.Error(ctx, "failed to record operation failure", "id", op.ID, "error", fErr)
		}
		if terminal {
			return dispatchOutcome{kind: outcomeFailed, err: fmt.Sprintf("%s (retries exhausted)", err)}
		}
		d.log.Warn(ctx, "operation will retry",
			"id", op.ID, "retryCount", op.RetryCount, "backoffSeconds", op.RetryBackoffSeconds())
		return dispatchOutcome{kind: outcomeFailed, err: err.Error()}
	}
}

// expectedVersion reads the entity version captured in the operation's
// payload snapshot; 0 when the snapshot has no version (deletes).
func expectedVersion(op *models.PendingOperation) int64 {
	if len(op.Data) == 0 {
		return 0
	}
	var probe struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(op.Data, &probe); err != nil {
		return 0
	}
	return probe.Version
}

func (d *Driver) requeueEntity(ctx context.Context, prev *models.PendingOperation) error {
	e, err := d.store.Get(ctx, prev.EntityType, prev.EntityID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = d.queue.AddOperation(ctx, models.PendingOperation{
		Type:       models.OpUpdate,
		EntityType: prev.EntityType,
		EntityID:   prev.EntityID,
		Data:       raw,
		Priority:   prev.Priority,
		MaxRetries: prev.MaxRetries,
	})
	return err
}

// finishCycle updates the sync bookkeeping and emits the cycle event.
// Runs on success and failure alike.
func (d *Driver) finishCycle(ctx context.Context, result *SyncResult) {
	state, err := d.store.SyncState(ctx)
	if err != nil {
		d.log.Error(ctx, "failed to read sync state", "error", err)
		state = &models.SyncState{}
	}
	state.LastSync = models.NowMillis()

	if snap, err := d.store.Snapshot(ctx); err == nil {
		state.DataHash = snap.Hash()
	}
	if n, err := d.queue.PendingCount(ctx); err == nil {
		state.PendingOperations = n
	}
	if err := d.store.SaveSyncState(ctx, state); err != nil {
		d.log.Error(ctx, "failed to save sync state", "error", err)
	}

	d.mu.Lock()
	d.lastResult = result
	d.mu.Unlock()

	switch {
	case len(result.Conflicts) > 0:
		d.emitter.Emit(Event{Type: EventConflictDetected, Result: result})
	case result.Success:
		d.emitter.Emit(Event{Type: EventSyncCompleted, Result: result})
	default:
		d.emitter.Emit(Event{Type: EventSyncFailed, Result: result, Error: firstError(result)})
	}

	d.log.Info(ctx, "sync cycle finished",
		"cycle", result.OperationID, "synced", result.SyncedCount,
		"failed", result.FailedCount, "conflicts", len(result.Conflicts))
}

func firstError(r *SyncResult) string {
	if len(r.Errors) > 0 {
		return r.Errors[0]
	}
	return ""
}
