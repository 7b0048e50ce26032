package store

import (
	"context"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

// ExportData produces the full-dataset bundle used by backup/restore and
// cross-device bootstrap. The checksum covers everything but itself.
func (s *Store) ExportData(ctx context.Context) (*models.ExportBundle, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	state, err := s.SyncState(ctx)
	if err != nil {
		return nil, err
	}

	bundle := &models.ExportBundle{
		Version:    common.ExportBundleVersion,
		ExportedAt: models.NowMillis(),
		DeviceID:   state.DeviceID,
		Data:       snap.Entities,
		SyncState:  *state,
	}
	if bundle.Data == nil {
		bundle.Data = map[models.EntityType]map[string]models.LocalEntity{}
	}

	sum, err := bundle.ComputeChecksum()
	if err != nil {
		return nil, fmt.Errorf("export checksum: %w", err)
	}
	bundle.Checksum = sum
	return bundle, nil
}

// ImportData overwrites the entire local dataset from a bundle, verifying
// the checksum and validating (repairing where possible) every entity
// first. The swap is transactional: either the whole bundle lands or
// nothing changes.
func (s *Store) ImportData(ctx context.Context, bundle *models.ExportBundle) error {
	if bundle.Version > common.ExportBundleVersion {
		return fmt.Errorf("import: bundle version %d newer than supported %d: %w",
			bundle.Version, common.ExportBundleVersion, common.ErrValidation)
	}

	sum, err := bundle.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("import checksum: %w", err)
	}
	if sum != bundle.Checksum {
		return fmt.Errorf("import: %w", common.ErrChecksumMismatch)
	}

	// Validate everything up front; the bundle came from untrusted storage.
	incoming := make([]models.LocalEntity, 0)
	for t, byID := range bundle.Data {
		for id, e := range byID {
			e := e
			if e.EntityType == "" {
				e.EntityType = t
			}
			if e.ID == "" {
				e.ID = id
			}
			if res := ValidateEntity(&e); !res.IsValid {
				repaired, ok := AttemptRepair(&e)
				if !ok {
					return fmt.Errorf("import %s/%s: %v: %w", t, id, res.Errors, common.ErrCorrupted)
				}
				s.log.Warn(ctx, "imported entity repaired", "entityType", t, "id", id, "errors", res.Errors)
				e = *repaired
			}
			incoming = append(incoming, e)
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.recordsRepo(tx)
		if err := repo.Clear(ctx); err != nil {
			return err
		}
		for i := range incoming {
			if err := repo.Upsert(ctx, &incoming[i]); err != nil {
				return err
			}
		}

		stateRepo := s.stateRepo(tx)
		current, err := stateRepo.Get(ctx)
		if err != nil {
			return err
		}
		next := bundle.SyncState
		// the device identity of this replica survives the import
		next.DeviceID = current.DeviceID
		return stateRepo.Save(ctx, &next)
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	s.log.Info(ctx, "dataset imported", "records", len(incoming))
	return nil
}
