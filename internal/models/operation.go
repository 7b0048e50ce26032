package models

import "encoding/json"

// OperationType names the mutation a queued operation replays remotely.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// OperationStatus tracks a queued operation's lifecycle. An operation is
// never removed without first reaching completed or terminal failed.
type OperationStatus string

const (
	OpStatusPending   OperationStatus = "pending"
	OpStatusSyncing   OperationStatus = "syncing"
	OpStatusFailed    OperationStatus = "failed"
	OpStatusCompleted OperationStatus = "completed"
)

// Priority orders queued operations. Higher priorities drain first;
// within a band, FIFO by insertion order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank maps a priority to its sort weight. Unknown values sort lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

// PriorityFromRank is the inverse of Rank.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 2:
		return PriorityHigh
	case 1:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// PendingOperation is one queued mutation awaiting transmission. Data is a
// snapshot of the entity payload at enqueue time and is immutable; only
// Status, RetryCount, LastAttemptAt and LastError change afterwards, and
// only the sync driver changes them.
type PendingOperation struct {
	ID            string          `json:"id"`
	Type          OperationType   `json:"type"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	RetryCount    int             `json:"retryCount"`
	MaxRetries    int             `json:"maxRetries"`
	Status        OperationStatus `json:"status"`
	Priority      Priority        `json:"priority"`
	LastAttemptAt int64           `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// RetryBackoffSeconds returns the exponential delay before the next retry
// attempt: 2^retryCount seconds.
func (op *PendingOperation) RetryBackoffSeconds() int64 {
	return int64(1) << op.RetryCount
}

// RetriesExhausted reports whether the operation has reached its retry
// budget and must transition to terminal failed.
func (op *PendingOperation) RetriesExhausted() bool {
	return op.RetryCount >= op.MaxRetries
}
