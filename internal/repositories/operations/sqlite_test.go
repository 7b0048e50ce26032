package operations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE operations (
    id              TEXT    PRIMARY KEY,
    op_type         TEXT    NOT NULL,
    entity_type     TEXT    NOT NULL,
    entity_id       TEXT    NOT NULL,
    payload         TEXT    NOT NULL DEFAULT '',
    ts              INTEGER NOT NULL,
    retry_count     INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL DEFAULT 3,
    status          TEXT    NOT NULL DEFAULT 'pending',
    priority        INTEGER NOT NULL DEFAULT 1,
    last_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT    NOT NULL DEFAULT ''
);
`)
	require.NoError(t, err)

	return db
}

func mkOp(id string, p models.Priority, ts int64) *models.PendingOperation {
	return &models.PendingOperation{
		ID:         id,
		Type:       models.OpCreate,
		EntityType: models.EntityExpense,
		EntityID:   "e-" + id,
		Data:       []byte(`{"version":1}`),
		Timestamp:  ts,
		MaxRetries: 3,
		Status:     models.OpStatusPending,
		Priority:   p,
	}
}

func TestInsertAndGetByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	op := mkOp("id1", models.PriorityHigh, 100)
	op.LastError = "boom"
	require.NoError(t, r.Insert(ctx, op))

	got, err := r.GetByID(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, op.Type, got.Type)
	assert.Equal(t, op.EntityID, got.EntityID)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, "boom", got.LastError)
	assert.JSONEq(t, `{"version":1}`, string(got.Data))
}

func TestEligible_OrderingAndPriorityFloor(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("low", models.PriorityLow, 100)))
	require.NoError(t, r.Insert(ctx, mkOp("med1", models.PriorityMedium, 200)))
	require.NoError(t, r.Insert(ctx, mkOp("med2", models.PriorityMedium, 300)))
	require.NoError(t, r.Insert(ctx, mkOp("high", models.PriorityHigh, 400)))

	ops, err := r.Eligible(ctx, models.PriorityLow.Rank(), 1000, 10)
	require.NoError(t, err)
	require.Len(t, ops, 4)
	// higher priority first, FIFO within a band
	assert.Equal(t, "high", ops[0].ID)
	assert.Equal(t, "med1", ops[1].ID)
	assert.Equal(t, "med2", ops[2].ID)
	assert.Equal(t, "low", ops[3].ID)

	// priority floor excludes lower bands
	ops, err = r.Eligible(ctx, models.PriorityMedium.Rank(), 1000, 10)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.NotEqual(t, "low", op.ID)
	}
}

func TestEligible_BackoffWindow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	op := mkOp("f1", models.PriorityMedium, 100)
	require.NoError(t, r.Insert(ctx, op))
	// first failure at t=10000: due again after 1<<1 = 2 seconds
	require.NoError(t, r.MarkFailed(ctx, "f1", 1, 10_000, "net down"))

	ops, err := r.Eligible(ctx, 0, 10_000+1_999, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)

	ops, err = r.Eligible(ctx, 0, 10_000+2_000, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "f1", ops[0].ID)
	assert.Equal(t, 1, ops[0].RetryCount)
}

func TestEligible_ExhaustedNeverReturned(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("f1", models.PriorityHigh, 100)))
	require.NoError(t, r.MarkFailed(ctx, "f1", 3, 0, "rejected"))

	ops, err := r.Eligible(ctx, 0, 1<<40, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDeleteByID_ProtectsSyncing(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("s1", models.PriorityMedium, 100)))
	require.NoError(t, r.MarkSyncing(ctx, []string{"s1"}))

	err := r.DeleteByID(ctx, "s1")
	assert.Error(t, err)

	got, err := r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.OpStatusSyncing, got.Status)
}

func TestEvictLowest_DropsOldestLowestPriority(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("high", models.PriorityHigh, 100)))
	require.NoError(t, r.Insert(ctx, mkOp("low-old", models.PriorityLow, 200)))
	require.NoError(t, r.Insert(ctx, mkOp("low-new", models.PriorityLow, 300)))

	n, err := r.EvictLowest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.GetByID(ctx, "low-old")
	assert.Error(t, err)
	_, err = r.GetByID(ctx, "low-new")
	assert.NoError(t, err)
	_, err = r.GetByID(ctx, "high")
	assert.NoError(t, err)
}

func TestClearNotSyncing(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("p1", models.PriorityMedium, 100)))
	require.NoError(t, r.Insert(ctx, mkOp("s1", models.PriorityMedium, 200)))
	require.NoError(t, r.MarkSyncing(ctx, []string{"s1"}))

	n, err := r.ClearNotSyncing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.GetByID(ctx, "s1")
	assert.NoError(t, err)
}

func TestCountByStatus(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, mkOp("a", models.PriorityMedium, 100)))
	require.NoError(t, r.Insert(ctx, mkOp("b", models.PriorityMedium, 200)))
	require.NoError(t, r.MarkCompleted(ctx, "b"))

	counts, err := r.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.OpStatusPending])
	assert.Equal(t, 1, counts[models.OpStatusCompleted])

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
