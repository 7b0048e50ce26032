// Package syncstate persists the singleton sync-state record.
package syncstate

import (
	"context"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// Repository reads and writes the one sync_state row. The row always
// exists (seeded by the schema migration).
type Repository interface {
	Get(ctx context.Context) (*models.SyncState, error)
	Save(ctx context.Context, s *models.SyncState) error
}
