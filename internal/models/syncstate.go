package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SyncState is the single bookkeeping record owned by the local replica
// store. It is updated only at the end of a sync cycle, successful or not.
type SyncState struct {
	LastSync            int64  `json:"lastSync"`
	DataHash            string `json:"dataHash"`
	DeviceID            string `json:"deviceId"`
	PendingOperations   int    `json:"pendingOperations"`
	ConflictResolutions int    `json:"conflictResolutions"`
}

// ExportBundle is the full-dataset snapshot format consumed by
// backup/restore and cross-device bootstrap.
type ExportBundle struct {
	Version    int                                   `json:"version"`
	ExportedAt int64                                 `json:"exportedAt"`
	DeviceID   string                                `json:"deviceId"`
	UserID     string                                `json:"userId,omitempty"`
	Data       map[EntityType]map[string]LocalEntity `json:"data"`
	SyncState  SyncState                             `json:"syncState"`
	Metadata   map[string]string                     `json:"metadata,omitempty"`
	Checksum   string                                `json:"checksum"`
}

// ComputeChecksum digests everything in the bundle except the checksum
// field itself.
func (b *ExportBundle) ComputeChecksum() (string, error) {
	shadow := *b
	shadow.Checksum = ""
	raw, err := json.Marshal(shadow)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot views the bundle's data as a Snapshot.
func (b *ExportBundle) Snapshot() *Snapshot {
	s := NewSnapshot()
	s.TakenAt = b.ExportedAt
	for _, byID := range b.Data {
		for _, e := range byID {
			s.Put(e)
		}
	}
	return s
}
