package models

import "time"

// Job represents a unit of work in the job queue.
type Job struct {
	ID          string            `json:"id"`
	JobType     string            `json:"job_type"`
	Subject     string            `json:"subject"` // connection or account id the job acts on
	Payload     map[string]string `json:"payload,omitempty"`
	Priority    int               `json:"priority"`
	Status      string            `json:"status"` // "pending", "running", "completed", "failed", "cancelled"
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Error       string            `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	DurationMS  int64             `json:"duration_ms"`
}

// Job type constants
const (
	JobTypeSyncConnection      = "sync_connection"
	JobTypeRecalculateBalances = "recalculate_balances"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Default priorities (higher = processed first)
const (
	PrioritySyncConnection      = 10
	PriorityManualSync          = 15 // user-requested syncs jump the queue
	PriorityRecalculateBalances = 5
)

// DefaultPriority returns the default priority for a job type.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypeSyncConnection:
		return PrioritySyncConnection
	case JobTypeRecalculateBalances:
		return PriorityRecalculateBalances
	default:
		return 0
	}
}

// JobSubject picks the subject a payload is keyed on for dedup.
func JobSubject(jobType string, payload map[string]string) string {
	switch jobType {
	case JobTypeSyncConnection:
		return payload["connection_id"]
	case JobTypeRecalculateBalances:
		return payload["account_id"]
	default:
		return payload["id"]
	}
}
