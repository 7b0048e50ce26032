package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

func TestExportImport_RoundTrip(t *testing.T) {
	src := setupStore(t)
	ctx := context.Background()

	_, err := src.Save(ctx, models.EntityExpense, coffee())
	require.NoError(t, err)
	_, err = src.Save(ctx, models.EntityCategory, models.Category{Name: "food"})
	require.NoError(t, err)

	state, err := src.SyncState(ctx)
	require.NoError(t, err)
	state.LastSync = 777
	state.DeviceID = "device-src"
	require.NoError(t, src.SaveSyncState(ctx, state))

	bundle, err := src.ExportData(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.ExportBundleVersion, bundle.Version)
	assert.NotEmpty(t, bundle.Checksum)

	srcSnap, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst := setupStore(t)
	require.NoError(t, dst.ImportData(ctx, bundle))

	dstSnap, err := dst.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, srcSnap.Hash(), dstSnap.Hash())

	// the sync bookkeeping travels, the device identity does not
	dstState, err := dst.SyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(777), dstState.LastSync)
	assert.NotEqual(t, "device-src", dstState.DeviceID)
}

func TestImport_ChecksumMismatchRejected(t *testing.T) {
	src := setupStore(t)
	ctx := context.Background()

	_, err := src.Save(ctx, models.EntityExpense, coffee())
	require.NoError(t, err)

	bundle, err := src.ExportData(ctx)
	require.NoError(t, err)
	bundle.Checksum = "tampered"

	dst := setupStore(t)
	err = dst.ImportData(ctx, bundle)
	assert.True(t, errors.Is(err, common.ErrChecksumMismatch))

	snap, err := dst.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.RecordCount())
}

func TestImport_NewerBundleVersionRejected(t *testing.T) {
	src := setupStore(t)
	ctx := context.Background()

	bundle, err := src.ExportData(ctx)
	require.NoError(t, err)
	bundle.Version = common.ExportBundleVersion + 1
	sum, err := bundle.ComputeChecksum()
	require.NoError(t, err)
	bundle.Checksum = sum

	err = setupStore(t).ImportData(ctx, bundle)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestImport_RepairsRecoverableEntities(t *testing.T) {
	src := setupStore(t)
	ctx := context.Background()

	_, err := src.Save(ctx, models.EntityExpense, coffee())
	require.NoError(t, err)

	bundle, err := src.ExportData(ctx)
	require.NoError(t, err)

	// corrupt one entity in a repairable way: drop the title
	for id, e := range bundle.Data[models.EntityExpense] {
		e.Data = []byte(`{"amount":"3.50","categories":["food"],"date":100}`)
		bundle.Data[models.EntityExpense][id] = e
	}
	sum, err := bundle.ComputeChecksum()
	require.NoError(t, err)
	bundle.Checksum = sum

	dst := setupStore(t)
	require.NoError(t, dst.ImportData(ctx, bundle))

	all, err := dst.ListByType(ctx, models.EntityExpense)
	require.NoError(t, err)
	require.Len(t, all, 1)

	p, err := all[0].Payload()
	require.NoError(t, err)
	assert.Equal(t, RepairPlaceholderTitle, p.(models.Expense).Title)
}

func TestImport_UnrepairableEntityAborts(t *testing.T) {
	src := setupStore(t)
	ctx := context.Background()

	_, err := src.Save(ctx, models.EntityExpense, coffee())
	require.NoError(t, err)

	bundle, err := src.ExportData(ctx)
	require.NoError(t, err)

	for id, e := range bundle.Data[models.EntityExpense] {
		e.EntityType = "garbage"
		bundle.Data[models.EntityExpense][id] = e
	}
	sum, err := bundle.ComputeChecksum()
	require.NoError(t, err)
	bundle.Checksum = sum

	dst := setupStore(t)
	_, err2 := dst.Save(ctx, models.EntityCategory, models.Category{Name: "keep"})
	require.NoError(t, err2)

	err = dst.ImportData(ctx, bundle)
	assert.True(t, errors.Is(err, common.ErrCorrupted))

	// nothing changed: the import is all-or-nothing
	kept, err := dst.ListByType(ctx, models.EntityCategory)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
