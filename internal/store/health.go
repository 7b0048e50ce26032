package store

import (
	"context"
	"fmt"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// StorageInfo reports capacity figures for the local database. Used for
// capacity-aware cleanup, not correctness.
type StorageInfo struct {
	RecordCounts map[models.EntityType]int `json:"recordCounts"`
	TotalRecords int                       `json:"totalRecords"`
	PageCount    int64                     `json:"pageCount"`
	PageSize     int64                     `json:"pageSize"`
	SizeBytes    int64                     `json:"sizeBytes"`
}

// HealthReport is the outcome of a full storage scan.
type HealthReport struct {
	Healthy        bool        `json:"healthy"`
	InvalidRecords int         `json:"invalidRecords"`
	Issues         []string    `json:"issues,omitempty"`
	Info           StorageInfo `json:"info"`
}

// GetStorageInfo returns row counts and database size.
func (s *Store) GetStorageInfo(ctx context.Context) (*StorageInfo, error) {
	counts, err := s.recordsRepo(s.db).CountByType(ctx)
	if err != nil {
		return nil, err
	}

	info := &StorageInfo{RecordCounts: counts}
	for _, n := range counts {
		info.TotalRecords += n
	}

	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&info.PageCount); err != nil {
		return nil, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&info.PageSize); err != nil {
		return nil, fmt.Errorf("page_size: %w", err)
	}
	info.SizeBytes = info.PageCount * info.PageSize

	return info, nil
}

// CheckStorageHealth validates every stored entity and reports the ones
// that fail. Invalid rows are surfaced, never silently dropped; the
// corruption path is decided by the conflict layer.
func (s *Store) CheckStorageHealth(ctx context.Context) (*HealthReport, error) {
	info, err := s.GetStorageInfo(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.recordsRepo(s.db).ListAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{Healthy: true, Info: *info}
	for i := range all {
		if res := ValidateEntity(&all[i]); !res.IsValid {
			report.Healthy = false
			report.InvalidRecords++
			report.Issues = append(report.Issues,
				fmt.Sprintf("%s/%s: %v", all[i].EntityType, all[i].ID, res.Errors))
		}
	}

	if report.InvalidRecords > 0 {
		s.log.Warn(ctx, "storage health check found invalid records", "count", report.InvalidRecords)
	}
	return report, nil
}
