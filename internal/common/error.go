// Package common defines shared constants and sentinel errors used across
// the walletsync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Store-level errors.
	ErrValidation       = errors.New("validation failed")
	ErrCorrupted        = errors.New("corrupted local data")
	ErrVersionConflict  = errors.New("version conflict")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Queue-level errors.
	ErrQueueFull         = errors.New("operation queue full")
	ErrOperationSyncing  = errors.New("operation is syncing")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnknownOperation  = errors.New("unknown operation type")

	// Sync driver errors.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrUnavailable    = errors.New("server unavailable")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTokenExpired   = errors.New("token expired")
)
