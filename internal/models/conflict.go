package models

// ConflictType classifies how local and cloud datasets diverged.
type ConflictType string

const (
	ConflictMissingCloud   ConflictType = "missing_cloud"
	ConflictCorruptedLocal ConflictType = "corrupted_local"
	ConflictDivergentData  ConflictType = "divergent_data"
	ConflictSchemaMismatch ConflictType = "schema_mismatch"
)

// RecommendedAction is what the detector suggests doing about a divergence.
type RecommendedAction string

const (
	ActionUploadLocal   RecommendedAction = "upload_local"
	ActionDownloadCloud RecommendedAction = "download_cloud"
	ActionManualMerge   RecommendedAction = "manual_merge"
)

// Severity grades a conflict verdict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Strategy names how a conflict was (or should be) resolved.
type Strategy string

const (
	StrategyLocalWins  Strategy = "local_wins"
	StrategyCloudWins  Strategy = "cloud_wins"
	StrategyMerge      Strategy = "merge"
	StrategyUserChoice Strategy = "user_choice"
)

// ConflictItem describes one entity that differs between local and cloud.
type ConflictItem struct {
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	LocalVersion   int64      `json:"localVersion"`
	CloudVersion   int64      `json:"cloudVersion"`
	ConflictReason string     `json:"conflictReason"`
	AutoResolvable bool       `json:"autoResolvable"`
	Severity       Severity   `json:"severity"`
}

// DataStats summarizes the snapshots a verdict was computed from.
type DataStats struct {
	LocalRecords int   `json:"localRecords"`
	CloudRecords int   `json:"cloudRecords"`
	LastSync     int64 `json:"lastSync"`
}

// ConflictDetectionResult is the detector's verdict over two snapshots.
type ConflictDetectionResult struct {
	HasConflicts      bool              `json:"hasConflicts"`
	ConflictType      ConflictType      `json:"conflictType,omitempty"`
	ConflictItems     []ConflictItem    `json:"conflictItems,omitempty"`
	RecommendedAction RecommendedAction `json:"recommendedAction,omitempty"`
	DataStats         DataStats         `json:"dataStats"`
}

// ConflictResolution is one append-only audit record of a resolved
// conflict. Never mutated; deleted only by an explicit clear-history call.
type ConflictResolution struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DetectedAt int64      `json:"detectedAt,omitempty"`
	ResolvedAt int64      `json:"resolvedAt"`
	Strategy   Strategy   `json:"strategy"`
	Note       string     `json:"note,omitempty"`
}
