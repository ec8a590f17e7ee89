package model

import (
	"encoding/json"
	"time"
)

// ItemStatus is the lifecycle state of one unit of work within a phase.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
)

// Terminal reports whether the item status admits no further transitions.
// A failed item is only terminal once its attempt ceiling is reached; the
// tracker enforces that, so here failed counts as terminal for aggregation.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemSkipped
}

// Item is the durable per-item progress record. The item identifier is a
// composite key specific to the phase's unit of work (keyword:region:type
// triple, domain, URL, ...), unique within (execution, phase). Items are
// never deleted; they form the audit trail that makes resume exact.
type Item struct {
	ExecutionID   string          `json:"execution_id"`
	Phase         PhaseName       `json:"phase"`
	ItemID        string          `json:"item_id"`
	Status        ItemStatus      `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorCategory string          `json:"error_category,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Progress holds aggregate item counts for one (execution, phase).
type Progress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// TerminalCount returns the number of items in a terminal state.
func (p Progress) TerminalCount() int {
	return p.Completed + p.Failed + p.Skipped
}

// AllTerminal reports whether every enumerated item reached a terminal state.
func (p Progress) AllTerminal() bool {
	return p.Total > 0 && p.TerminalCount() == p.Total
}

// SuccessRatio returns completed / (completed + failed), or 0 when no item
// has finished yet. Skipped items are excluded from the ratio.
func (p Progress) SuccessRatio() float64 {
	finished := p.Completed + p.Failed
	if finished == 0 {
		return 0
	}
	return float64(p.Completed) / float64(finished)
}

// Checkpoint is a lightweight phase-scoped progress snapshot, kept separate
// from item rows so status reporting never scans the item table.
type Checkpoint struct {
	ExecutionID string    `json:"execution_id"`
	Phase       PhaseName `json:"phase"`
	Processed   int       `json:"processed"`
	Total       int       `json:"total"`
	UpdatedAt   time.Time `json:"updated_at"`
}
