// Package records persists LocalEntity rows, one durable collection per
// entity type, all addressable by (entityType, id).
package records

import (
	"context"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// Repository describes CRUD and query operations for local entities.
// Implementations are backed by the local SQLite database.
type Repository interface {
	// Upsert inserts a new entity or replaces an existing one by
	// (entityType, id), including all sync bookkeeping columns.
	Upsert(ctx context.Context, e *models.LocalEntity) error

	// GetByID returns one entity or common.ErrNotFound.
	GetByID(ctx context.Context, t models.EntityType, id string) (*models.LocalEntity, error)

	// ListByType returns every entity of one collection.
	ListByType(ctx context.Context, t models.EntityType) ([]models.LocalEntity, error)

	// ListAll returns every entity across all collections.
	ListAll(ctx context.Context) ([]models.LocalEntity, error)

	// ListByStatus returns entities in the given sync status.
	ListByStatus(ctx context.Context, s models.SyncStatus) ([]models.LocalEntity, error)

	// DeleteByID removes the row. Deletion is propagated remotely by the
	// queued delete operation, not by a stored flag.
	DeleteByID(ctx context.Context, t models.EntityType, id string) error

	// Clear wipes every collection. Used by transactional import.
	Clear(ctx context.Context) error

	// CountByType returns per-collection row counts.
	CountByType(ctx context.Context) (map[models.EntityType]int, error)
}
