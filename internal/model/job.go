package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queue entry.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job is a durable task envelope on a named lane. At most one worker holds an
// active (non-expired) lease on an entry; entries that keep failing after
// MaxAttempts move to dead_letter and are excluded from normal dequeue.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       int             `json:"priority"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BreakerRecord is the durable snapshot of one named downstream dependency's
// circuit breaker, written on every state transition for observability.
type BreakerRecord struct {
	Service              string     `json:"service"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	FailureThreshold     int        `json:"failure_threshold"`
	SuccessThreshold     int        `json:"success_threshold"`
	ResetTimeoutSecs     int        `json:"reset_timeout_secs"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
