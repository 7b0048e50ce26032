// Package services wires the local replica and the operation queue behind
// the API the application calls. Every local mutation completes
// synchronously against SQLite and leaves a queued operation behind for
// the background sync driver; callers never wait on the network.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/store"
)

type LedgerService interface {
	Add(ctx context.Context, t models.EntityType, p models.Payload, priority models.Priority) (*models.LocalEntity, error)
	Update(ctx context.Context, t models.EntityType, id string, p models.Payload, priority models.Priority) (*models.LocalEntity, error)
	DeleteByID(ctx context.Context, t models.EntityType, id string) error
	Get(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error)
	List(ctx context.Context, t models.EntityType) ([]models.LocalEntity, error)
	RecoverPending(ctx context.Context) (int, error)
}

type ledgerService struct {
	store *store.Store
	queue *queue.Queue
	log   logging.Logger
}

func NewLedgerService(st *store.Store, q *queue.Queue, log logging.Logger) LedgerService {
	return &ledgerService{store: st, queue: q, log: log.With("component", "ledger")}
}

func (s *ledgerService) Add(ctx context.Context, t models.EntityType, p models.Payload, priority models.Priority) (*models.LocalEntity, error) {
	e, err := s.store.Save(ctx, t, p)
	if err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}
	if err := s.enqueue(ctx, models.OpCreate, e, priority); err != nil {
		// the write stands; the recovery sweep re-enqueues it
		s.log.Error(ctx, "failed to enqueue create", "entityType", t, "id", e.ID, "error", err)
	}
	return e, nil
}

func (s *ledgerService) Update(ctx context.Context, t models.EntityType, id string, p models.Payload, priority models.Priority) (*models.LocalEntity, error) {
	e, err := s.store.Update(ctx, t, id, p)
	if err != nil {
		return nil, fmt.Errorf("updating error: %w", err)
	}
	if e.SyncStatus == models.StatusSyncing {
		// an in-flight push owns this entity; the dirty flag defers the
		// re-queue until that push settles
		return e, nil
	}
	if err := s.enqueue(ctx, models.OpUpdate, e, priority); err != nil {
		s.log.Error(ctx, "failed to enqueue update", "entityType", t, "id", id, "error", err)
	}
	return e, nil
}

// DeleteByID removes the entity locally and queues the remote delete. The
// queued operation is the only remaining trace of the entity; deletes go
// at medium priority so they keep their place relative to the creates and
// updates that preceded them.
func (s *ledgerService) DeleteByID(ctx context.Context, t models.EntityType, id string) error {
	removed, err := s.store.Delete(ctx, t, id)
	if err != nil {
		return fmt.Errorf("deleting error: %w", err)
	}
	if err := s.enqueue(ctx, models.OpDelete, removed, models.PriorityMedium); err != nil {
		s.log.Error(ctx, "failed to enqueue delete", "entityType", t, "id", id, "error", err)
	}
	return nil
}

func (s *ledgerService) Get(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error) {
	return s.store.Get(ctx, t, id)
}

func (s *ledgerService) List(ctx context.Context, t models.EntityType) ([]models.LocalEntity, error) {
	return s.store.ListByType(ctx, t)
}

// RecoverPending re-enqueues pending entities that have no queued
// operation. Run at startup: it closes the gap left by a crash between a
// local write and its enqueue.
func (s *ledgerService) RecoverPending(ctx context.Context) (int, error) {
	entities, err := s.store.PendingEntities(ctx)
	if err != nil {
		return 0, err
	}
	if len(entities) == 0 {
		return 0, nil
	}

	queued := make(map[string]bool)
	for _, status := range []models.OperationStatus{models.OpStatusPending, models.OpStatusSyncing, models.OpStatusFailed} {
		ops, err := s.queue.List(ctx, status)
		if err != nil {
			return 0, err
		}
		for _, op := range ops {
			queued[string(op.EntityType)+"/"+op.EntityID] = true
		}
	}

	recovered := 0
	for i := range entities {
		e := entities[i]
		if queued[string(e.EntityType)+"/"+e.ID] {
			continue
		}
		opType := models.OpUpdate
		if e.CloudID == "" {
			opType = models.OpCreate
		}
		if err := s.enqueue(ctx, opType, &e, models.PriorityMedium); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		s.log.Info(ctx, "recovered unqueued pending entities", "count", recovered)
	}
	return recovered, nil
}

func (s *ledgerService) enqueue(ctx context.Context, opType models.OperationType, e *models.LocalEntity, priority models.Priority) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.queue.AddOperation(ctx, models.PendingOperation{
		Type:       opType,
		EntityType: e.EntityType,
		EntityID:   e.ID,
		Data:       raw,
		Priority:   priority,
	})
	return err
}
