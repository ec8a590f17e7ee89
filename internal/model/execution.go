// Package model defines the persistent records of the pipeline orchestration
// engine: executions, phase states, work items, queue entries, circuit
// breaker snapshots, and checkpoints.
package model

import "time"

// ExecutionStatus is the overall lifecycle state of a pipeline execution.
type ExecutionStatus string

const (
	ExecutionPending            ExecutionStatus = "pending"
	ExecutionRunning            ExecutionStatus = "running"
	ExecutionCompleted          ExecutionStatus = "completed"
	ExecutionFailed             ExecutionStatus = "failed"
	ExecutionPartiallyCompleted ExecutionStatus = "partially_completed"
	ExecutionCancelled          ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution record is immutable.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionPartiallyCompleted, ExecutionCancelled:
		return true
	}
	return false
}

// TriggerMode records how an execution was started.
type TriggerMode string

const (
	TriggerManual    TriggerMode = "manual"
	TriggerScheduled TriggerMode = "scheduled"
)

// PhaseCounters holds per-phase result counters kept on the execution record
// for cheap status reporting.
type PhaseCounters struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
}

// ExecError is one entry in an execution's bounded representative-error list.
// Every error carries phase attribution so failures are never opaque.
type ExecError struct {
	Phase    PhaseName `json:"phase"`
	ItemID   string    `json:"item_id,omitempty"`
	Category string    `json:"category,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// MaxExecErrors bounds the representative-error list per execution.
const MaxExecErrors = 50

// Execution is the aggregate root for one pipeline run. It is created at
// trigger time, mutated only by the orchestrator, and immutable once its
// status is terminal.
type Execution struct {
	ID          string                      `json:"id"`
	TriggerMode TriggerMode                 `json:"trigger_mode"`
	Status      ExecutionStatus             `json:"status"`
	Phases      []PhaseName                 `json:"phases"`
	Counters    map[PhaseName]PhaseCounters `json:"counters,omitempty"`
	Errors      []ExecError                 `json:"errors,omitempty"`
	ErrorsTotal int                         `json:"errors_total"`
	Recoveries  int                         `json:"recoveries"`
	StartedAt   time.Time                   `json:"started_at"`
	EndedAt     *time.Time                  `json:"ended_at,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// PhaseState is the durable status of one (execution, phase) pair.
type PhaseState struct {
	ExecutionID string      `json:"execution_id"`
	Name        PhaseName   `json:"name"`
	Status      PhaseStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}
