// Package store implements the local replica: durable, crash-safe storage
// of every entity collection plus sync bookkeeping. It is the single source
// of truth; every mutation path, user edit or sync outcome, goes through it.
// Reads and writes never touch the network.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/repositories/records"
	"github.com/ilyakasyanov/walletsync/internal/repositories/syncstate"
)

// Store is the local replica manager.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// New binds a Store to an open database.
func New(db *sql.DB, log logging.Logger) *Store {
	return &Store{db: db, log: log.With("component", "store")}
}

// DB exposes the underlying handle so sibling services (queue) can share
// the same database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) recordsRepo(db dbx.DBTX) records.Repository {
	return records.NewSQLiteRepository(db)
}

func (s *Store) stateRepo(db dbx.DBTX) syncstate.Repository {
	return syncstate.NewSQLiteRepository(db)
}

// Save constructs a new LocalEntity around the payload, assigns fresh
// identifiers, and persists it with version 1 and status pending.
func (s *Store) Save(ctx context.Context, t models.EntityType, p models.Payload) (*models.LocalEntity, error) {
	if !t.Known() {
		return nil, fmt.Errorf("save %q: %w", t, common.ErrUnknownEntityType)
	}
	if p.GetType() != t {
		return nil, fmt.Errorf("save %q: payload type %q: %w", t, p.GetType(), common.ErrValidation)
	}

	raw, err := models.EncodePayload(p)
	if err != nil {
		return nil, err
	}

	now := models.NowMillis()
	e := &models.LocalEntity{
		ID:         uuid.NewString(),
		LocalID:    uuid.NewString(),
		EntityType: t,
		Version:    1,
		SyncStatus: models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Data:       raw,
	}

	if res := ValidateEntity(e); !res.IsValid {
		return nil, fmt.Errorf("save %s: %v: %w", t, res.Errors, common.ErrValidation)
	}

	if err := s.recordsRepo(s.db).Upsert(ctx, e); err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "entity saved", "entityType", t, "id", e.ID)
	return e, nil
}

// Update replaces the entity's payload, increments version, and moves a
// synced entity back to pending. An entity currently syncing keeps its
// status; the pending transition is deferred until the in-flight push
// settles (the dirty flag records it). The whole read-modify-write is one
// transaction so a concurrent sync outcome cannot interleave.
func (s *Store) Update(ctx context.Context, t models.EntityType, id string, patch models.Payload) (*models.LocalEntity, error) {
	if patch.GetType() != t {
		return nil, fmt.Errorf("update %q: payload type %q: %w", t, patch.GetType(), common.ErrValidation)
	}

	raw, err := models.EncodePayload(patch)
	if err != nil {
		return nil, err
	}

	var updated *models.LocalEntity
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		e, err := repo.GetByID(ctx, t, id)
		if err != nil {
			return err
		}

		e.Data = raw
		e.Version++
		e.UpdatedAt = models.NowMillis()

		switch e.SyncStatus {
		case models.StatusSynced:
			e.SyncStatus = models.StatusPending
		case models.StatusSyncing:
			e.Dirty = true
		}

		if res := ValidateEntity(e); !res.IsValid {
			return fmt.Errorf("update %s/%s: %v: %w", t, id, res.Errors, common.ErrValidation)
		}

		updated = e
		return repo.Upsert(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "entity updated", "entityType", t, "id", id, "version", updated.Version)
	return updated, nil
}

// Delete removes the entity from the readable set immediately and returns
// the removed record. The queued delete operation is the only durable
// trace needed for remote propagation.
func (s *Store) Delete(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error) {
	var removed *models.LocalEntity
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		e, err := repo.GetByID(ctx, t, id)
		if err != nil {
			return err
		}
		removed = e
		return repo.DeleteByID(ctx, t, id)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "entity deleted", "entityType", t, "id", id)
	return removed, nil
}

// Get returns one entity.
func (s *Store) Get(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error) {
	return s.recordsRepo(s.db).GetByID(ctx, t, id)
}

// ListByType returns every entity of one collection.
func (s *Store) ListByType(ctx context.Context, t models.EntityType) ([]models.LocalEntity, error) {
	return s.recordsRepo(s.db).ListByType(ctx, t)
}

// Snapshot captures the full local dataset.
func (s *Store) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	all, err := s.recordsRepo(s.db).ListAll(ctx)
	if err != nil {
		return nil, err
	}
	snap := models.NewSnapshot()
	for i := range all {
		snap.Put(all[i])
	}
	return snap, nil
}

// SyncState reads the bookkeeping record.
func (s *Store) SyncState(ctx context.Context) (*models.SyncState, error) {
	return s.stateRepo(s.db).Get(ctx)
}

// SaveSyncState writes the bookkeeping record. Called only at the end of a
// sync cycle or an import.
func (s *Store) SaveSyncState(ctx context.Context, st *models.SyncState) error {
	return s.stateRepo(s.db).Save(ctx, st)
}
