package models

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is a point-in-time view of one full dataset, local or cloud.
// Entities are keyed by collection, then by id.
type Snapshot struct {
	Entities map[EntityType]map[string]LocalEntity `json:"entities"`
	TakenAt  int64                                 `json:"takenAt"`

	// SchemaVersion is the stored-data format version the snapshot's
	// owner speaks. Zero means unknown. A hard mismatch between replicas
	// is the one conflict class graded critical.
	SchemaVersion int `json:"schemaVersion,omitempty"`
}

// NewSnapshot returns an empty snapshot stamped with the current time.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Entities: make(map[EntityType]map[string]LocalEntity),
		TakenAt:  NowMillis(),
	}
}

// Put inserts or replaces an entity in the snapshot.
func (s *Snapshot) Put(e LocalEntity) {
	byID, ok := s.Entities[e.EntityType]
	if !ok {
		byID = make(map[string]LocalEntity)
		s.Entities[e.EntityType] = byID
	}
	byID[e.ID] = e
}

// RecordCount is the total number of entities across all collections.
func (s *Snapshot) RecordCount() int {
	n := 0
	for _, byID := range s.Entities {
		n += len(byID)
	}
	return n
}

// Hash digests the dataset content. Only content that both replicas agree
// on participates: id, version and payload. Local-only bookkeeping
// (syncStatus, localId, lastSyncedAt) is excluded so that a converged
// local and cloud snapshot hash identically.
func (s *Snapshot) Hash() string {
	d := xxhash.New()
	for _, t := range EntityTypes {
		byID := s.Entities[t]
		if len(byID) == 0 {
			continue
		}
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		_, _ = d.WriteString(string(t))
		for _, id := range ids {
			e := byID[id]
			_, _ = fmt.Fprintf(d, "|%s:%d:", e.ID, e.Version)
			_, _ = d.Write(e.Data)
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
