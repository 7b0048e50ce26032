// Package resolutions persists the append-only conflict-resolution history.
package resolutions

import (
	"context"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// Filter narrows history queries. Zero values match everything.
type Filter struct {
	EntityType models.EntityType
	EntityID   string
}

// Repository describes storage for conflict-resolution audit records.
// Rows are appended and read; the only mutation is Clear.
type Repository interface {
	// Insert appends one resolution record.
	Insert(ctx context.Context, r *models.ConflictResolution) error

	// List returns resolutions matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]models.ConflictResolution, error)

	// CountSince returns how many resolutions happened at or after ts.
	CountSince(ctx context.Context, ts int64) (int, error)

	// Clear wipes the whole history. Explicit operation only.
	Clear(ctx context.Context) error
}
