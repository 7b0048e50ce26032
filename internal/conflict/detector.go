// Package conflict decides whether two dataset snapshots have diverged,
// classifies the divergence, and merges field-by-field when that is safe.
// Every applied resolution lands in the append-only history.
package conflict

import (
	"context"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/store"
)

// Detector computes conflict verdicts. Detection itself is pure; only
// resolution touches the history.
type Detector struct {
	history *History
	log     logging.Logger
}

func NewDetector(history *History, log logging.Logger) *Detector {
	return &Detector{history: history, log: log.With("component", "conflict-detector")}
}

// divergentItemCap: beyond this many non-auto items the verdict is graded
// high rather than medium.
const divergentItemCap = 20

// DetectConflicts compares the local and cloud snapshots. state supplies
// the last successful sync bookkeeping (needed to tell "cloud data lost"
// from "first sync ever").
func (d *Detector) DetectConflicts(local, remote *models.Snapshot, state *models.SyncState) (*models.ConflictDetectionResult, error) {
	result := &models.ConflictDetectionResult{
		DataStats: models.DataStats{
			LocalRecords: local.RecordCount(),
			CloudRecords: remote.RecordCount(),
		},
	}
	if state != nil {
		result.DataStats.LastSync = state.LastSync
	}

	// schema incompatibility trumps everything; nothing below is safe
	if local.SchemaVersion != 0 && remote.SchemaVersion != 0 && local.SchemaVersion != remote.SchemaVersion {
		result.HasConflicts = true
		result.ConflictType = models.ConflictSchemaMismatch
		result.RecommendedAction = models.ActionManualMerge
		result.ConflictItems = []models.ConflictItem{{
			ConflictReason: fmt.Sprintf("local schema v%d incompatible with cloud schema v%d",
				local.SchemaVersion, remote.SchemaVersion),
			AutoResolvable: false,
			Severity:       models.SeverityCritical,
		}}
		return result, nil
	}

	if local.Hash() == remote.Hash() {
		return result, nil
	}

	// cloud dataset vanished after a previously successful sync
	if remote.RecordCount() == 0 && local.RecordCount() > 0 && state != nil && state.DataHash != "" {
		result.HasConflicts = true
		result.ConflictType = models.ConflictMissingCloud
		result.RecommendedAction = models.ActionUploadLocal
		result.ConflictItems = []models.ConflictItem{{
			ConflictReason: fmt.Sprintf("cloud returned 0 records while %d exist locally after a prior sync",
				local.RecordCount()),
			AutoResolvable: false,
			Severity:       models.SeverityHigh,
		}}
		return result, nil
	}

	// local corruption with a healthy cloud copy to fall back to
	if remote.RecordCount() > 0 {
		if corrupt := invalidEntities(local); len(corrupt) > 0 {
			result.HasConflicts = true
			result.ConflictType = models.ConflictCorruptedLocal
			result.RecommendedAction = models.ActionDownloadCloud
			for _, item := range corrupt {
				result.ConflictItems = append(result.ConflictItems, item)
			}
			return result, nil
		}
	}

	items, err := d.divergentItems(local, remote)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		// one-sided additions only; a normal sync cycle reconciles them
		return result, nil
	}

	result.HasConflicts = true
	result.ConflictType = models.ConflictDivergentData
	result.ConflictItems = items
	result.RecommendedAction = models.ActionManualMerge
	return result, nil
}

// AllAutoResolvable reports whether the whole verdict can be merged
// without human input. The driver applies the merge directly then.
func AllAutoResolvable(result *models.ConflictDetectionResult) bool {
	if !result.HasConflicts || result.ConflictType != models.ConflictDivergentData {
		return false
	}
	for _, item := range result.ConflictItems {
		if !item.AutoResolvable {
			return false
		}
	}
	return true
}

func invalidEntities(snap *models.Snapshot) []models.ConflictItem {
	var items []models.ConflictItem
	for _, byID := range snap.Entities {
		for _, e := range byID {
			e := e
			if res := store.ValidateEntity(&e); !res.IsValid {
				items = append(items, models.ConflictItem{
					EntityType:     e.EntityType,
					EntityID:       e.ID,
					LocalVersion:   e.Version,
					ConflictReason: fmt.Sprintf("local record failed validation: %v", res.Errors),
					AutoResolvable: false,
					Severity:       models.SeverityHigh,
				})
			}
		}
	}
	return items
}

// divergentItems builds one ConflictItem per entity present in both
// snapshots with differing version or content. Entities present on only
// one side are additions, not conflicts.
func (d *Detector) divergentItems(local, remote *models.Snapshot) ([]models.ConflictItem, error) {
	var items []models.ConflictItem
	var scalarItems int

	for _, t := range models.EntityTypes {
		localByID := local.Entities[t]
		remoteByID := remote.Entities[t]
		for id, le := range localByID {
			re, ok := remoteByID[id]
			if !ok {
				continue
			}
			if le.Version == re.Version && string(le.Data) == string(re.Data) {
				continue
			}

			lp, err := le.Payload()
			if err != nil {
				return nil, fmt.Errorf("local %s/%s: %w", t, id, err)
			}
			rp, err := re.Payload()
			if err != nil {
				return nil, fmt.Errorf("cloud %s/%s: %w", t, id, err)
			}

			diffs, err := DiffPayloads(lp, rp)
			if err != nil {
				return nil, err
			}
			if len(diffs) == 0 && le.Version == re.Version {
				continue
			}

			auto := len(diffs) > 0 && AutoResolvable(diffs)
			severity := models.SeverityLow
			if !auto {
				severity = models.SeverityMedium
				scalarItems++
			}

			items = append(items, models.ConflictItem{
				EntityType:     t,
				EntityID:       id,
				LocalVersion:   le.Version,
				CloudVersion:   re.Version,
				ConflictReason: diffReason(diffs, le.Version, re.Version),
				AutoResolvable: auto,
				Severity:       severity,
			})
		}
	}

	if scalarItems > divergentItemCap {
		for i := range items {
			if !items[i].AutoResolvable {
				items[i].Severity = models.SeverityHigh
			}
		}
	}
	return items, nil
}

func diffReason(diffs []FieldDiff, localVersion, cloudVersion int64) string {
	if len(diffs) == 0 {
		return fmt.Sprintf("versions diverged (local v%d, cloud v%d) with equal content", localVersion, cloudVersion)
	}
	names := make([]string, len(diffs))
	for i, d := range diffs {
		names[i] = d.Name
	}
	return fmt.Sprintf("fields differ (local v%d, cloud v%d): %v", localVersion, cloudVersion, names)
}

// ResolveFieldLevel merges one conflicting entity pair under the given
// strategy and appends the resolution to history. For user_choice, chosen
// must carry the caller-supplied resolved record. Replaying the same
// resolution yields the same entity.
func (d *Detector) ResolveFieldLevel(ctx context.Context, local, remote *models.LocalEntity, strategy models.Strategy, chosen *models.LocalEntity, detectedAt int64) (*models.LocalEntity, error) {
	if local.EntityType != remote.EntityType || local.ID != remote.ID {
		return nil, fmt.Errorf("resolve: mismatched entities %s/%s vs %s/%s: %w",
			local.EntityType, local.ID, remote.EntityType, remote.ID, common.ErrValidation)
	}

	var resolved *models.LocalEntity
	var note string

	switch strategy {
	case models.StrategyLocalWins:
		resolved = local.Clone()
		note = "kept local copy"
	case models.StrategyCloudWins:
		resolved = remote.Clone()
		resolved.LocalID = local.LocalID
		note = "kept cloud copy"
	case models.StrategyMerge:
		lp, err := local.Payload()
		if err != nil {
			return nil, err
		}
		rp, err := remote.Payload()
		if err != nil {
			return nil, err
		}
		localNewer := local.UpdatedAt > remote.UpdatedAt // ties break to remote
		merged, err := MergePayloads(lp, rp, localNewer)
		if err != nil {
			return nil, err
		}
		raw, err := models.EncodePayload(merged)
		if err != nil {
			return nil, err
		}
		resolved = local.Clone()
		resolved.Data = raw
		resolved.Version = maxInt64(local.Version, remote.Version)
		resolved.UpdatedAt = maxInt64(local.UpdatedAt, remote.UpdatedAt)
		if resolved.CloudID == "" {
			resolved.CloudID = remote.CloudID
		}
		note = "field-level merge"
	case models.StrategyUserChoice:
		if chosen == nil {
			return nil, fmt.Errorf("resolve user_choice without a chosen record: %w", common.ErrValidation)
		}
		resolved = chosen.Clone()
		note = "user supplied resolution"
	default:
		return nil, fmt.Errorf("resolve: unknown strategy %q: %w", strategy, common.ErrValidation)
	}

	err := d.history.Append(ctx, &models.ConflictResolution{
		EntityType: local.EntityType,
		EntityID:   local.ID,
		DetectedAt: detectedAt,
		Strategy:   strategy,
		Note:       note,
	})
	if err != nil {
		return nil, err
	}

	d.log.Info(ctx, "conflict resolved",
		"entityType", local.EntityType, "id", local.ID, "strategy", strategy)
	return resolved, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
