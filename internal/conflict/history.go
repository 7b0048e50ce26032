package conflict

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ilyakasyanov/walletsync/internal/dbx"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/repositories/resolutions"
)

// History is the append-only audit log of conflict resolutions.
type History struct {
	db  *sql.DB
	log logging.Logger
}

func NewHistory(db *sql.DB, log logging.Logger) *History {
	return &History{db: db, log: log.With("component", "conflict-history")}
}

func (h *History) repo(db dbx.DBTX) resolutions.Repository {
	return resolutions.NewSQLiteRepository(db)
}

// Append records one resolution. Missing identity and timestamps are
// filled in; existing values are kept (import path).
func (h *History) Append(ctx context.Context, r *models.ConflictResolution) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ResolvedAt == 0 {
		r.ResolvedAt = models.NowMillis()
	}
	return h.repo(h.db).Insert(ctx, r)
}

// GetConflictHistory lists resolutions, optionally narrowed by entity
// type and id, newest first.
func (h *History) GetConflictHistory(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ConflictResolution, error) {
	return h.repo(h.db).List(ctx, resolutions.Filter{EntityType: entityType, EntityID: entityID})
}

// Stats summarizes the resolution history.
type Stats struct {
	Total               int                       `json:"total"`
	ByStrategy          map[models.Strategy]int   `json:"byStrategy"`
	ByEntityType        map[models.EntityType]int `json:"byEntityType"`
	Recent24h           int                       `json:"recent24h"`
	AvgResolutionMillis int64                     `json:"avgResolutionMillis"`
}

// GetConflictStats computes totals, per-strategy and per-entity-type
// breakdowns, the recent-24h count, and the mean detect-to-resolve
// latency over records that carry a detection timestamp.
func (h *History) GetConflictStats(ctx context.Context) (*Stats, error) {
	all, err := h.repo(h.db).List(ctx, resolutions.Filter{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStrategy:   make(map[models.Strategy]int),
		ByEntityType: make(map[models.EntityType]int),
	}
	dayAgo := models.NowMillis() - 24*time.Hour.Milliseconds()

	var latencySum int64
	var latencyN int64
	for _, r := range all {
		stats.Total++
		stats.ByStrategy[r.Strategy]++
		stats.ByEntityType[r.EntityType]++
		if r.ResolvedAt >= dayAgo {
			stats.Recent24h++
		}
		if r.DetectedAt > 0 && r.ResolvedAt >= r.DetectedAt {
			latencySum += r.ResolvedAt - r.DetectedAt
			latencyN++
		}
	}
	if latencyN > 0 {
		stats.AvgResolutionMillis = latencySum / latencyN
	}
	return stats, nil
}

// ClearHistory wipes the audit log. This is the only way records leave it.
func (h *History) ClearHistory(ctx context.Context) error {
	return h.repo(h.db).Clear(ctx)
}

// ExportHistory returns the full log, newest first.
func (h *History) ExportHistory(ctx context.Context) ([]models.ConflictResolution, error) {
	return h.repo(h.db).List(ctx, resolutions.Filter{})
}

// ImportHistory appends previously exported records in one transaction.
func (h *History) ImportHistory(ctx context.Context, items []models.ConflictResolution) error {
	return dbx.WithTx(ctx, h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := h.repo(tx)
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			if err := repo.Insert(ctx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
