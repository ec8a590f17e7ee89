// Package store provides durable persistence for executions, phase states,
// work items, queue entries, circuit breaker snapshots, and checkpoints,
// backed by PostgreSQL for deployments and SQLite for single-node use.
package store

import (
	"context"
	"time"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Status model.ExecutionStatus `json:"status,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline engine. All
// orchestration state lives behind this interface; after a process restart
// the engine reconstructs everything it needs from here.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, trigger model.TriggerMode, phases []model.PhaseName) (*model.Execution, error)
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status model.ExecutionStatus, endedAt *time.Time) error
	AppendExecutionError(ctx context.Context, id string, execErr model.ExecError) error
	SetPhaseCounters(ctx context.Context, id string, phase model.PhaseName, counters model.PhaseCounters) error
	IncrementRecoveries(ctx context.Context, id string) (int, error)

	// Phase states
	UpsertPhase(ctx context.Context, phase model.PhaseState) error
	GetPhase(ctx context.Context, executionID string, name model.PhaseName) (*model.PhaseState, error)
	ListPhases(ctx context.Context, executionID string) ([]model.PhaseState, error)

	// Items
	EnsureItems(ctx context.Context, items []model.Item) (int, error)
	RecordItem(ctx context.Context, item model.Item) error
	ListItems(ctx context.Context, executionID string, phase model.PhaseName, statuses ...model.ItemStatus) ([]model.Item, error)
	PhaseProgress(ctx context.Context, executionID string, phase model.PhaseName) (model.Progress, error)
	CompletedCount(ctx context.Context, executionID string, phase model.PhaseName) (int, error)
	RequeueInFlightItems(ctx context.Context, executionID string, phase model.PhaseName) (int, error)
	LastItemWrite(ctx context.Context, executionID string) (*time.Time, error)

	// Job queue
	EnqueueJob(ctx context.Context, job model.Job) error
	LeaseJob(ctx context.Context, queue, owner string, lease time.Duration) (*model.Job, error)
	CompleteJob(ctx context.Context, id, owner string) error
	FailJob(ctx context.Context, id, owner, lastErr string, retryDelay time.Duration) (*model.Job, error)
	QueueStats(ctx context.Context, queue string) (map[model.JobStatus]int, error)
	ListDeadLetters(ctx context.Context, queue string, limit int) ([]model.Job, error)
	PurgeQueue(ctx context.Context, queue string) (int, error)

	// Circuit breakers
	SaveBreaker(ctx context.Context, rec model.BreakerRecord) error
	ListBreakers(ctx context.Context) ([]model.BreakerRecord, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	ListCheckpoints(ctx context.Context, executionID string) ([]model.Checkpoint, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
