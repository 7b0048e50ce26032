package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

func TestHistory_AppendFillsIdentity(t *testing.T) {
	_, h, _ := setupDetector(t)
	ctx := context.Background()

	r := &models.ConflictResolution{
		EntityType: models.EntityExpense,
		EntityID:   "e1",
		Strategy:   models.StrategyMerge,
	}
	require.NoError(t, h.Append(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.NotZero(t, r.ResolvedAt)

	got, err := h.GetConflictHistory(ctx, models.EntityExpense, "e1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)
}

func TestHistory_FilterByEntity(t *testing.T) {
	_, h, _ := setupDetector(t)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityExpense, EntityID: "e1", Strategy: models.StrategyMerge,
	}))
	require.NoError(t, h.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityIncome, EntityID: "i1", Strategy: models.StrategyLocalWins,
	}))

	got, err := h.GetConflictHistory(ctx, models.EntityIncome, "i1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StrategyLocalWins, got[0].Strategy)

	all, err := h.ExportHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHistory_Stats(t *testing.T) {
	_, h, _ := setupDetector(t)
	ctx := context.Background()

	now := models.NowMillis()
	require.NoError(t, h.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityExpense, EntityID: "e1",
		Strategy: models.StrategyMerge, DetectedAt: now - 40, ResolvedAt: now,
	}))
	require.NoError(t, h.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityExpense, EntityID: "e2",
		Strategy: models.StrategyMerge, DetectedAt: now - 20, ResolvedAt: now,
	}))
	// old record without a detection timestamp stays out of the latency mean
	require.NoError(t, h.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityIncome, EntityID: "i1",
		Strategy: models.StrategyCloudWins, ResolvedAt: 1000,
	}))

	stats, err := h.GetConflictStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStrategy[models.StrategyMerge])
	assert.Equal(t, 1, stats.ByStrategy[models.StrategyCloudWins])
	assert.Equal(t, 2, stats.ByEntityType[models.EntityExpense])
	assert.Equal(t, 2, stats.Recent24h)
	assert.Equal(t, int64(30), stats.AvgResolutionMillis)
}

func TestHistory_ExportImportClear(t *testing.T) {
	_, src, _ := setupDetector(t)
	ctx := context.Background()

	require.NoError(t, src.Append(ctx, &models.ConflictResolution{
		EntityType: models.EntityExpense, EntityID: "e1", Strategy: models.StrategyMerge,
	}))

	exported, err := src.ExportHistory(ctx)
	require.NoError(t, err)

	_, dst, _ := setupDetector(t)
	require.NoError(t, dst.ImportHistory(ctx, exported))

	got, err := dst.ExportHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, exported, got)

	require.NoError(t, dst.ClearHistory(ctx))
	got, err = dst.ExportHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
