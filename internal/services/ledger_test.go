package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/store"

	_ "modernc.org/sqlite"
)

func setupLedger(t *testing.T) (LedgerService, *store.Store, *queue.Queue) {
	t.Helper()
	db, err := store.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.NewNopLogger()
	st := store.New(db, log)
	q := queue.New(db, queue.DefaultConfig(), log)
	return NewLedgerService(st, q, log), st, q
}

func groceries() models.Expense {
	return models.Expense{
		Title:      "Groceries",
		Amount:     decimal.RequireFromString("54.20"),
		Categories: []string{"food"},
		Date:       1700000000000,
	}
}

func TestAdd_SavesAndEnqueuesCreate(t *testing.T) {
	svc, st, q := setupLedger(t)
	ctx := context.Background()

	e, err := svc.Add(ctx, models.EntityExpense, groceries(), models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, e.SyncStatus)

	got, err := st.Get(ctx, models.EntityExpense, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	ops, err := q.List(ctx, models.OpStatusPending)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Type)
	assert.Equal(t, e.ID, ops[0].EntityID)
	assert.Equal(t, models.PriorityHigh, ops[0].Priority)
}

func TestAdd_RejectsInvalidPayload(t *testing.T) {
	svc, _, q := setupLedger(t)

	bad := groceries()
	bad.Title = ""
	_, err := svc.Add(context.Background(), models.EntityExpense, bad, models.PriorityHigh)
	assert.True(t, errors.Is(err, common.ErrValidation))

	n, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdate_EnqueuesUpdate(t *testing.T) {
	svc, _, q := setupLedger(t)
	ctx := context.Background()

	e, err := svc.Add(ctx, models.EntityExpense, groceries(), models.PriorityHigh)
	require.NoError(t, err)

	changed := groceries()
	changed.Amount = decimal.RequireFromString("60.00")
	updated, err := svc.Update(ctx, models.EntityExpense, e.ID, changed, models.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	ops, err := q.List(ctx, models.OpStatusPending)
	require.NoError(t, err)
	require.Len(t, ops, 2)
}

func TestUpdate_SkipsEnqueueWhileSyncing(t *testing.T) {
	svc, st, q := setupLedger(t)
	ctx := context.Background()

	e, err := svc.Add(ctx, models.EntityExpense, groceries(), models.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, st.MarkSyncing(ctx, models.EntityExpense, e.ID))

	changed := groceries()
	changed.Amount = decimal.RequireFromString("60.00")
	updated, err := svc.Update(ctx, models.EntityExpense, e.ID, changed, models.PriorityMedium)
	require.NoError(t, err)

	// the in-flight push owns the entity; no second operation is queued
	assert.Equal(t, models.StatusSyncing, updated.SyncStatus)
	assert.True(t, updated.Dirty)

	ops, err := q.List(ctx, models.OpStatusPending)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestDeleteByID_QueuesTombstone(t *testing.T) {
	svc, st, q := setupLedger(t)
	ctx := context.Background()

	e, err := svc.Add(ctx, models.EntityExpense, groceries(), models.PriorityHigh)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByID(ctx, models.EntityExpense, e.ID))

	_, err = st.Get(ctx, models.EntityExpense, e.ID)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	ops, err := q.List(ctx, models.OpStatusPending)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	var del *models.PendingOperation
	for i := range ops {
		if ops[i].Type == models.OpDelete {
			del = &ops[i]
		}
	}
	require.NotNil(t, del)
	assert.Equal(t, e.ID, del.EntityID)
	assert.Equal(t, models.PriorityMedium, del.Priority)
}

func TestDeleteByID_MissingEntity(t *testing.T) {
	svc, _, _ := setupLedger(t)

	err := svc.DeleteByID(context.Background(), models.EntityExpense, "ghost")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRecoverPending_RequeuesOrphanedEntities(t *testing.T) {
	svc, st, q := setupLedger(t)
	ctx := context.Background()

	// a crash between the local write and the enqueue leaves this orphan
	orphan, err := st.Save(ctx, models.EntityExpense, groceries())
	require.NoError(t, err)

	// this one already has its operation queued
	covered, err := svc.Add(ctx, models.EntityExpense, groceries(), models.PriorityHigh)
	require.NoError(t, err)

	recovered, err := svc.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	ops, err := q.List(ctx, models.OpStatusPending)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	byEntity := map[string]models.OperationType{}
	for _, op := range ops {
		byEntity[op.EntityID] = op.Type
	}
	assert.Equal(t, models.OpCreate, byEntity[orphan.ID])
	assert.Equal(t, models.OpCreate, byEntity[covered.ID])
}

func TestRecoverPending_NothingToDo(t *testing.T) {
	svc, _, _ := setupLedger(t)

	recovered, err := svc.RecoverPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)
}
