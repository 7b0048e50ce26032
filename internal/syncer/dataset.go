package syncer

// Dataset-level operations: full and incremental pulls, full uploads,
// conflict resolution actions and backup. These complement the per-operation
// push path in driver.go.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/conflict"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/netx"
	"github.com/ilyakasyanov/walletsync/internal/transport"
)

// pullWithRetry wraps a dataset pull with exponential backoff on transient
// transport failures. Terminal rejections surface immediately.
func (d *Driver) pullWithRetry(ctx context.Context, fn func(context.Context) (*models.Snapshot, error)) (*models.Snapshot, error) {
	var snap *models.Snapshot
	backoff := retry.WithMaxRetries(d.cfg.PullRetries, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		snap, err = fn(ctx)
		if err != nil && transport.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// DetectCloudConflicts pulls the remote dataset and runs conflict
// detection against the local replica without modifying either side.
func (d *Driver) DetectCloudConflicts(ctx context.Context, creds transport.Credentials) (*models.ConflictDetectionResult, error) {
	if err := d.checkCredentials(creds); err != nil {
		return nil, err
	}

	remote, err := d.pullWithRetry(ctx, func(ctx context.Context) (*models.Snapshot, error) {
		return d.transport.Pull(ctx, creds)
	})
	if err != nil {
		return nil, err
	}

	local, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	state, err := d.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}

	result, err := d.detector.DetectConflicts(local, remote, state)
	if err != nil {
		return nil, err
	}
	if result.HasConflicts {
		d.emitter.Emit(Event{Type: EventConflictDetected, Conflicts: result})
	}
	return result, nil
}

// DownloadCloudData replaces the local replica with the remote dataset.
// This is the download_cloud resolution action: local unsynced changes and
// the operation queue are discarded.
func (d *Driver) DownloadCloudData(ctx context.Context, creds transport.Credentials) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()

	if err := d.checkCredentials(creds); err != nil {
		return err
	}

	remote, err := d.pullWithRetry(ctx, func(ctx context.Context) (*models.Snapshot, error) {
		return d.transport.Pull(ctx, creds)
	})
	if err != nil {
		return err
	}

	if err := d.store.ReplaceAll(ctx, remote); err != nil {
		return err
	}
	if _, err := d.queue.ClearQueue(ctx); err != nil {
		d.log.Error(ctx, "failed to clear queue after download", "error", err)
	}

	if err := d.history.Append(ctx, &models.ConflictResolution{
		Strategy: models.StrategyCloudWins,
		Note:     fmt.Sprintf("replaced replica with %d cloud records", remote.RecordCount()),
	}); err != nil {
		d.log.Error(ctx, "failed to record resolution", "error", err)
	}

	result := &SyncResult{Success: true, SyncedCount: remote.RecordCount(), Timestamp: models.NowMillis()}
	d.finishCycle(ctx, result)
	return nil
}

// UploadLocalData replaces the remote dataset with the local replica.
// This is the upload_local resolution action.
func (d *Driver) UploadLocalData(ctx context.Context, creds transport.Credentials) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()

	if err := d.checkCredentials(creds); err != nil {
		return err
	}

	bundle, err := d.store.ExportData(ctx)
	if err != nil {
		return err
	}
	// stamping the user invalidates the checksum computed at export time
	bundle.UserID = creds.UserID
	sum, err := bundle.ComputeChecksum()
	if err != nil {
		return err
	}
	bundle.Checksum = sum

	if err := d.transport.PushSnapshot(ctx, creds, bundle); err != nil {
		return err
	}

	// every local record is now the record of truth remotely
	snap := bundle.Snapshot()
	for _, byID := range snap.Entities {
		for _, e := range byID {
			e := e
			if e.SyncStatus == models.StatusSynced {
				continue
			}
			e.SyncStatus = models.StatusSynced
			e.LastSyncedAt = models.NowMillis()
			if e.CloudID == "" {
				e.CloudID = e.ID
			}
			if err := d.store.ApplyRemote(ctx, &e); err != nil {
				d.log.Error(ctx, "failed to finalize uploaded entity", "id", e.ID, "error", err)
			}
		}
	}
	if _, err := d.queue.ClearQueue(ctx); err != nil {
		d.log.Error(ctx, "failed to clear queue after upload", "error", err)
	}

	if err := d.history.Append(ctx, &models.ConflictResolution{
		Strategy: models.StrategyLocalWins,
		Note:     fmt.Sprintf("uploaded %d local records as the dataset of record", snap.RecordCount()),
	}); err != nil {
		d.log.Error(ctx, "failed to record resolution", "error", err)
	}

	result := &SyncResult{Success: true, SyncedCount: snap.RecordCount(), Timestamp: models.NowMillis()}
	d.finishCycle(ctx, result)
	return nil
}

// PerformIncrementalSync pulls records modified since the last sync and
// folds them into the replica. Entities untouched locally apply directly;
// entities with unsynced local progress go through field-level merge when
// the divergence allows it, and surface as conflicts when it does not.
// A first sync (no recorded last-sync time) pulls the full dataset.
func (d *Driver) PerformIncrementalSync(ctx context.Context, creds transport.Credentials) (*SyncResult, error) {
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

	state, err := d.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}

	var remote *models.Snapshot
	if state.LastSync == 0 {
		remote, err = d.pullWithRetry(ctx, func(ctx context.Context) (*models.Snapshot, error) {
			return d.transport.Pull(ctx, creds)
		})
	} else {
		since := state.LastSync
		remote, err = d.pullWithRetry(ctx, func(ctx context.Context) (*models.Snapshot, error) {
			return d.transport.PullSince(ctx, creds, since)
		})
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		d.finishCycle(ctx, result)
		return result, err
	}

	detectedAt := models.NowMillis()
	for _, byID := range remote.Entities {
		for _, re := range byID {
			re := re
			if err := d.foldRemote(ctx, &re, detectedAt, result); err != nil {
				result.FailedCount++
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	result.Success = result.FailedCount == 0 && len(result.Conflicts) == 0
	d.finishCycle(ctx, result)
	return result, nil
}

// foldRemote merges one pulled record into the replica.
func (d *Driver) foldRemote(ctx context.Context, re *models.LocalEntity, detectedAt int64, result *SyncResult) error {
	local, err := d.store.Get(ctx, re.EntityType, re.ID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		// new remotely, unknown locally
		if err := d.store.ApplyRemote(ctx, re); err != nil {
			return err
		}
		result.SyncedCount++
		return nil
	}

	if local.SyncStatus == models.StatusSynced || string(local.Data) == string(re.Data) {
		if err := d.store.ApplyRemote(ctx, re); err != nil {
			return err
		}
		result.SyncedCount++
		return nil
	}

	// unsynced local progress against a changed remote copy
	lp, err := local.Payload()
	if err != nil {
		return err
	}
	rp, err := re.Payload()
	if err != nil {
		return err
	}
	diffs, err := conflict.DiffPayloads(lp, rp)
	if err != nil {
		return err
	}

	if conflict.AutoResolvable(diffs) {
		merged, err := d.detector.ResolveFieldLevel(ctx, local, re, models.StrategyMerge, nil, detectedAt)
		if err != nil {
			return err
		}
		if err := d.store.SaveResolved(ctx, merged); err != nil {
			return err
		}
		// push the merged record back so both sides converge
		if err := d.enqueueEntityUpdate(ctx, merged); err != nil {
			d.log.Error(ctx, "failed to enqueue merged entity", "id", merged.ID, "error", err)
		}
		result.SyncedCount++
		return nil
	}

	result.Conflicts = append(result.Conflicts, models.ConflictItem{
		EntityType:     re.EntityType,
		EntityID:       re.ID,
		LocalVersion:   local.Version,
		CloudVersion:   re.Version,
		ConflictReason: "local and cloud edits touch the same fields",
		AutoResolvable: false,
		Severity:       models.SeverityMedium,
	})
	return nil
}

func (d *Driver) enqueueEntityUpdate(ctx context.Context, e *models.LocalEntity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = d.queue.AddOperation(ctx, models.PendingOperation{
		Type:       models.OpUpdate,
		EntityType: e.EntityType,
		EntityID:   e.ID,
		Data:       raw,
		Priority:   models.PriorityMedium,
	})
	return err
}

// SyncToCloud runs a full reconciliation: drain the operation queue, then
// fold in remote changes. Either half may surface conflicts; the combined
// result reports both.
func (d *Driver) SyncToCloud(ctx context.Context, creds transport.Credentials) (*SyncResult, error) {
	pushed, err := d.ProcessQueue(ctx, creds, models.PriorityLow)
	if err != nil {
		return pushed, err
	}

	pulled, err := d.PerformIncrementalSync(ctx, creds)
	if err != nil {
		return pulled, err
	}

	combined := &SyncResult{
		Success:     pushed.Success && pulled.Success,
		Conflicts:   append(append([]models.ConflictItem(nil), pushed.Conflicts...), pulled.Conflicts...),
		Errors:      append(append([]string(nil), pushed.Errors...), pulled.Errors...),
		SyncedCount: pushed.SyncedCount + pulled.SyncedCount,
		FailedCount: pushed.FailedCount + pulled.FailedCount,
		OperationID: pushed.OperationID,
		Timestamp:   pulled.Timestamp,
	}
	return combined, nil
}

// ResolveWith executes a recommended conflict action.
func (d *Driver) ResolveWith(ctx context.Context, creds transport.Credentials, action models.RecommendedAction) error {
	switch action {
	case models.ActionUploadLocal:
		return d.UploadLocalData(ctx, creds)
	case models.ActionDownloadCloud:
		return d.DownloadCloudData(ctx, creds)
	case models.ActionManualMerge:
		_, err := d.PerformIncrementalSync(ctx, creds)
		return err
	default:
		return fmt.Errorf("resolve action %q: %w", action, common.ErrValidation)
	}
}

// BackupToPresignedURL exports the replica as a bundle and uploads it to a
// caller-supplied presigned URL.
func (d *Driver) BackupToPresignedURL(ctx context.Context, url string) error {
	bundle, err := d.store.ExportData(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	if err := netx.UploadToPresignedURL(ctx, url, body, "application/json"); err != nil {
		return err
	}
	d.log.Info(ctx, "backup uploaded", "bytes", len(body))
	return nil
}

// ScheduleHint tunes the next cycle from the outcome of the last one.
// With no history the hint is conservative: a 30 second interval, batches
// of 50, medium priority and up. A degraded link widens the interval and
// narrows the batch to the urgent work; a healthy link tightens both.
type ScheduleHint struct {
	Interval    time.Duration
	BatchSize   int
	MinPriority models.Priority
}

func (d *Driver) NextScheduleHint() ScheduleHint {
	d.mu.Lock()
	last := d.lastResult
	d.mu.Unlock()

	base := d.cfg.BaseInterval
	switch {
	case last == nil:
		return ScheduleHint{Interval: base, BatchSize: 50, MinPriority: models.PriorityMedium}
	case last.FailedCount > 0:
		return ScheduleHint{Interval: 2 * base, BatchSize: 20, MinPriority: models.PriorityHigh}
	default:
		return ScheduleHint{Interval: base / 2, BatchSize: 100, MinPriority: models.PriorityLow}
	}
}
