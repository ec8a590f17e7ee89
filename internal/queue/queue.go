// Package queue provides the lease-based durable job queue the phase workers
// pull from. Each phase gets its own lane; dead-lettered entries stay visible
// for inspection but never re-enter normal dispatch.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// Options tunes queue behavior.
type Options struct {
	// LeaseDuration is how long a claimed entry stays invisible to other
	// workers. Default: 2m.
	LeaseDuration time.Duration

	// MaxAttempts is the delivery ceiling before dead-lettering. Default: 3.
	MaxAttempts int

	// RetryDelay is how long a failed entry waits before becoming leasable
	// again. Default: 5s.
	RetryDelay time.Duration
}

// Queue is a durable at-least-once work queue on top of the store.
type Queue struct {
	store store.Store
	opts  Options
}

// New creates a Queue with the given options.
func New(s store.Store, opts Options) *Queue {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Queue{store: s, opts: opts}
}

// Lane names the queue for one phase of one execution, so purging a finished
// phase never touches another's entries.
func Lane(executionID string, phase model.PhaseName) string {
	return fmt.Sprintf("%s:%s", executionID, phase)
}

// ItemPayload is the envelope carried by per-item jobs.
type ItemPayload struct {
	ExecutionID string          `json:"execution_id"`
	Phase       model.PhaseName `json:"phase"`
	ItemID      string          `json:"item_id"`
	Attempt     int             `json:"attempt,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// EnqueueItem adds a job for one work item. The job ID is derived from the
// item key, so re-enqueueing after a crash is a no-op rather than a duplicate.
func (q *Queue) EnqueueItem(ctx context.Context, p ItemPayload, priority int) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "queue: marshal payload")
	}

	job := model.Job{
		ID:          fmt.Sprintf("%s:%s:%s", p.ExecutionID, p.Phase, p.ItemID),
		Queue:       Lane(p.ExecutionID, p.Phase),
		Type:        string(p.Phase),
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: q.opts.MaxAttempts,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return eris.Wrapf(err, "queue: enqueue %s", job.ID)
	}
	return nil
}

// Lease claims the next eligible entry for owner, or returns nil when the
// lane is drained. Expired leases from crashed workers are reclaimed here.
func (q *Queue) Lease(ctx context.Context, lane, owner string) (*model.Job, error) {
	job, err := q.store.LeaseJob(ctx, lane, owner, q.opts.LeaseDuration)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: lease from %s", lane)
	}
	return job, nil
}

// Complete acknowledges a processed entry. Only the lease owner may complete.
func (q *Queue) Complete(ctx context.Context, jobID, owner string) error {
	return q.store.CompleteJob(ctx, jobID, owner)
}

// Fail records a failed delivery. The entry returns to pending after the
// retry delay, or moves to dead_letter once the attempt ceiling is reached.
func (q *Queue) Fail(ctx context.Context, jobID, owner string, cause error) (*model.Job, error) {
	job, err := q.store.FailJob(ctx, jobID, owner, cause.Error(), q.opts.RetryDelay)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobDeadLetter {
		zap.L().Warn("job dead-lettered",
			zap.String("job_id", jobID),
			zap.String("queue", job.Queue),
			zap.Int("attempts", job.Attempts),
			zap.String("last_error", job.LastError),
		)
	}
	return job, nil
}

// Stats returns per-status entry counts for a lane.
func (q *Queue) Stats(ctx context.Context, lane string) (map[model.JobStatus]int, error) {
	return q.store.QueueStats(ctx, lane)
}

// DeadLetters lists dead-lettered entries for a lane.
func (q *Queue) DeadLetters(ctx context.Context, lane string, limit int) ([]model.Job, error) {
	return q.store.ListDeadLetters(ctx, lane, limit)
}

// Purge removes every entry in a lane. Called after a phase reaches a
// terminal state; the item table remains the durable record.
func (q *Queue) Purge(ctx context.Context, lane string) (int, error) {
	return q.store.PurgeQueue(ctx, lane)
}

// DecodePayload unmarshals a job's item envelope.
func DecodePayload(job *model.Job) (ItemPayload, error) {
	var p ItemPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, eris.Wrapf(err, "queue: decode payload for %s", job.ID)
	}
	return p, nil
}
