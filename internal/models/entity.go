// Package models defines the data shapes shared by the walletsync engine:
// local entities and their typed payloads, queued operations, conflict
// verdicts, and sync state.
package models

import (
	"encoding/json"
	"time"
)

// EntityType identifies a local collection.
type EntityType string

const (
	EntityExpense        EntityType = "expense"
	EntityIncome         EntityType = "income"
	EntityCategory       EntityType = "category"
	EntityForTag         EntityType = "for_tag"
	EntityCard           EntityType = "card"
	EntityIncomeCategory EntityType = "income_category"
)

// EntityTypes lists every known collection, in a stable order used for
// hashing and export.
var EntityTypes = []EntityType{
	EntityExpense,
	EntityIncome,
	EntityCategory,
	EntityForTag,
	EntityCard,
	EntityIncomeCategory,
}

// Known reports whether t names one of the supported collections.
func (t EntityType) Known() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SyncStatus tracks where an entity sits in the sync lifecycle.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
)

var statusTransitions = map[SyncStatus][]SyncStatus{
	StatusPending:  {StatusSyncing},
	StatusSyncing:  {StatusSynced, StatusFailed, StatusConflict},
	StatusFailed:   {StatusSyncing},
	StatusConflict: {StatusSynced},
	StatusSynced:   {StatusPending},
}

// CanTransition reports whether moving from s to next is a legal step in
// the sync state machine. Self-transitions are allowed (idempotent writes).
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// LocalEntity is the base shape of every locally stored record. Data holds
// the entity-specific payload, keyed by EntityType (see payload.go).
type LocalEntity struct {
	ID           string          `json:"id"`
	LocalID      string          `json:"localId"`
	CloudID      string          `json:"cloudId,omitempty"`
	EntityType   EntityType      `json:"entityType"`
	Version      int64           `json:"version"`
	SyncStatus   SyncStatus      `json:"syncStatus"`
	CreatedAt    int64           `json:"createdAt"`
	UpdatedAt    int64           `json:"updatedAt"`
	LastSyncedAt int64           `json:"lastSyncedAt,omitempty"`
	Data         json.RawMessage `json:"data"`

	// Dirty marks a local edit that arrived while the entity was syncing.
	// The pending transition is deferred until the in-flight push settles.
	// Never exported or transmitted.
	Dirty bool `json:"-"`
}

// Payload decodes the entity's Data into its typed payload.
func (e *LocalEntity) Payload() (Payload, error) {
	return DecodePayload(e.EntityType, e.Data)
}

// Clone returns a deep copy of the entity.
func (e *LocalEntity) Clone() *LocalEntity {
	dup := *e
	dup.Data = append(json.RawMessage(nil), e.Data...)
	return &dup
}

// NowMillis is the engine-wide clock: epoch milliseconds in UTC.
func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
