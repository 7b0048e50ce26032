package store

// Driver-facing mutators. Only the cloud sync driver calls these; each one
// enforces the sync status state machine and runs as a single transaction
// so sync outcomes and fresh local edits cannot produce lost updates.

import (
	"context"
	"errors"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

func (s *Store) transition(ctx context.Context, t models.EntityType, id string, next models.SyncStatus) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		e, err := repo.GetByID(ctx, t, id)
		if err != nil {
			return err
		}
		if !e.SyncStatus.CanTransition(next) {
			return fmt.Errorf("transition %s/%s %s->%s: %w", t, id, e.SyncStatus, next, common.ErrVersionConflict)
		}
		e.SyncStatus = next
		return repo.Upsert(ctx, e)
	})
}

// MarkSyncing moves an entity into the in-flight state.
func (s *Store) MarkSyncing(ctx context.Context, t models.EntityType, id string) error {
	return s.transition(ctx, t, id, models.StatusSyncing)
}

// MarkFailed records a retryable push failure.
func (s *Store) MarkFailed(ctx context.Context, t models.EntityType, id string) error {
	return s.transition(ctx, t, id, models.StatusFailed)
}

// MarkConflict records that the remote holds a different version.
func (s *Store) MarkConflict(ctx context.Context, t models.EntityType, id string) error {
	return s.transition(ctx, t, id, models.StatusConflict)
}

// MarkSynced finalizes a successful push of expectedVersion. If a local
// edit advanced the entity mid-flight (version moved or the dirty flag is
// set), the entity goes back to pending instead and the caller must
// re-enqueue it; the fresh edit is never lost. Returns whether that
// deferred re-queue is needed.
func (s *Store) MarkSynced(ctx context.Context, t models.EntityType, id, cloudID string, expectedVersion int64) (requeue bool, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		e, err := repo.GetByID(ctx, t, id)
		if err != nil {
			return err
		}

		if cloudID != "" {
			e.CloudID = cloudID
		}

		if e.Dirty || e.Version != expectedVersion {
			// edit raced the push; what the remote accepted is stale
			e.Dirty = false
			e.SyncStatus = models.StatusPending
			requeue = true
			return repo.Upsert(ctx, e)
		}

		if !e.SyncStatus.CanTransition(models.StatusSynced) {
			return fmt.Errorf("mark synced %s/%s from %s: %w", t, id, e.SyncStatus, common.ErrVersionConflict)
		}
		e.SyncStatus = models.StatusSynced
		e.LastSyncedAt = models.NowMillis()
		return repo.Upsert(ctx, e)
	})
	return requeue, err
}

// ApplyRemote writes an entity pulled from the cloud into the replica as
// already synced. Local-only fields are (re)derived here.
func (s *Store) ApplyRemote(ctx context.Context, e *models.LocalEntity) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)

		incoming := e.Clone()
		if incoming.CloudID == "" {
			incoming.CloudID = incoming.ID
		}
		incoming.SyncStatus = models.StatusSynced
		incoming.LastSyncedAt = models.NowMillis()

		existing, err := repo.GetByID(ctx, e.EntityType, e.ID)
		switch {
		case err == nil:
			incoming.LocalID = existing.LocalID
			if existing.SyncStatus != models.StatusSynced && existing.Version > incoming.Version {
				// unsynced local progress wins over an older remote copy
				return nil
			}
		case errors.Is(err, common.ErrNotFound):
			incoming.LocalID = incoming.ID
		default:
			return err
		}

		return repo.Upsert(ctx, incoming)
	})
}

// ReplaceAll swaps the whole replica for the given snapshot, marking every
// entity synced. Used by the download_cloud resolution action.
func (s *Store) ReplaceAll(ctx context.Context, snap *models.Snapshot) error {
	now := models.NowMillis()
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		if err := repo.Clear(ctx); err != nil {
			return err
		}
		for _, byID := range snap.Entities {
			for _, e := range byID {
				e := e
				if e.CloudID == "" {
					e.CloudID = e.ID
				}
				if e.LocalID == "" {
					e.LocalID = e.ID
				}
				e.SyncStatus = models.StatusSynced
				e.LastSyncedAt = now
				if err := repo.Upsert(ctx, &e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SaveResolved writes a conflict-resolved entity back into the replica as
// pending, so the next cycle pushes the resolved content to the remote.
func (s *Store) SaveResolved(ctx context.Context, e *models.LocalEntity) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)

		resolved := e.Clone()
		resolved.Dirty = false
		resolved.SyncStatus = models.StatusPending
		resolved.UpdatedAt = models.NowMillis()

		existing, err := repo.GetByID(ctx, e.EntityType, e.ID)
		switch {
		case err == nil:
			resolved.LocalID = existing.LocalID
		case errors.Is(err, common.ErrNotFound):
			if resolved.LocalID == "" {
				resolved.LocalID = resolved.ID
			}
		default:
			return err
		}

		return repo.Upsert(ctx, resolved)
	})
}

// PendingEntities lists entities awaiting their first (or next) push.
func (s *Store) PendingEntities(ctx context.Context) ([]models.LocalEntity, error) {
	return s.recordsRepo(s.db).ListByStatus(ctx, models.StatusPending)
}
