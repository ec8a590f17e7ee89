// Package state owns per-item progress within a phase. Every transition goes
// through the durable store, so resume and status reporting never depend on
// process memory.
package state

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/resilience"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// Tracker records item lifecycles for one execution's phases. It is the sole
// owner of remaining-work enumeration: resume asks the tracker what is left,
// never the queue.
type Tracker struct {
	store store.Store
}

// NewTracker creates a Tracker over the given store.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// EnsureItems registers the phase's unit-of-work list, inserting only items
// not already present. Calling it again with the same list is a no-op, which
// is what makes phase re-entry after a crash exact.
func (t *Tracker) EnsureItems(ctx context.Context, executionID string, phase model.PhaseName, items []model.Item) (int, error) {
	for i := range items {
		items[i].ExecutionID = executionID
		items[i].Phase = phase
	}
	n, err := t.store.EnsureItems(ctx, items)
	if err != nil {
		return 0, eris.Wrapf(err, "state: ensure items for %s", phase)
	}
	if n > 0 {
		zap.L().Info("registered phase items",
			zap.String("execution_id", executionID),
			zap.String("phase", string(phase)),
			zap.Int("new", n),
			zap.Int("total", len(items)),
		)
	}
	return n, nil
}

// Pending returns the items still awaiting work, including those bounced back
// from interrupted attempts.
func (t *Tracker) Pending(ctx context.Context, executionID string, phase model.PhaseName) ([]model.Item, error) {
	return t.store.ListItems(ctx, executionID, phase, model.ItemPending)
}

// MarkQueued transitions an item to queued once its job is durably enqueued.
func (t *Tracker) MarkQueued(ctx context.Context, executionID string, phase model.PhaseName, itemID string) error {
	return t.store.RecordItem(ctx, model.Item{
		ExecutionID: executionID,
		Phase:       phase,
		ItemID:      itemID,
		Status:      model.ItemQueued,
	})
}

// Start marks an item processing for the given attempt.
func (t *Tracker) Start(ctx context.Context, executionID string, phase model.PhaseName, itemID string, attempt int) error {
	now := time.Now().UTC()
	return t.store.RecordItem(ctx, model.Item{
		ExecutionID:   executionID,
		Phase:         phase,
		ItemID:        itemID,
		Status:        model.ItemProcessing,
		Attempts:      attempt,
		LastAttemptAt: &now,
	})
}

// Succeed marks an item completed. Completed is terminal; a duplicate
// delivery afterwards changes nothing.
func (t *Tracker) Succeed(ctx context.Context, executionID string, phase model.PhaseName, itemID string, attempt int) error {
	now := time.Now().UTC()
	return t.store.RecordItem(ctx, model.Item{
		ExecutionID:   executionID,
		Phase:         phase,
		ItemID:        itemID,
		Status:        model.ItemCompleted,
		Attempts:      attempt,
		LastAttemptAt: &now,
	})
}

// Fail records a failed attempt. Recoverable failures below the attempt
// ceiling return the item to pending for another try; everything else is a
// terminal failure. Returns true when the failure was terminal.
func (t *Tracker) Fail(ctx context.Context, executionID string, phase model.PhaseName, itemID string, attempt, maxAttempts int, cause error) (bool, error) {
	category := resilience.Classify(cause)
	terminal := !category.Retryable() || attempt >= maxAttempts

	status := model.ItemPending
	if terminal {
		status = model.ItemFailed
	}

	now := time.Now().UTC()
	err := t.store.RecordItem(ctx, model.Item{
		ExecutionID:   executionID,
		Phase:         phase,
		ItemID:        itemID,
		Status:        status,
		Attempts:      attempt,
		LastAttemptAt: &now,
		LastError:     cause.Error(),
		ErrorCategory: string(category),
	})
	if err != nil {
		return terminal, eris.Wrapf(err, "state: record failure for %s/%s", phase, itemID)
	}
	return terminal, nil
}

// Skip marks an item skipped, e.g. when its phase is cancelled mid-flight.
func (t *Tracker) Skip(ctx context.Context, executionID string, phase model.PhaseName, itemID, reason string) error {
	return t.store.RecordItem(ctx, model.Item{
		ExecutionID: executionID,
		Phase:       phase,
		ItemID:      itemID,
		Status:      model.ItemSkipped,
		LastError:   reason,
	})
}

// Progress returns the phase's aggregate item counts.
func (t *Tracker) Progress(ctx context.Context, executionID string, phase model.PhaseName) (model.Progress, error) {
	return t.store.PhaseProgress(ctx, executionID, phase)
}

// CompletedCount satisfies the data-availability gate Querier.
func (t *Tracker) CompletedCount(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	return t.store.CompletedCount(ctx, executionID, phase)
}

// Reclaim returns queued and processing items to pending. Called on phase
// re-entry so work interrupted by a crash is re-dispatched.
func (t *Tracker) Reclaim(ctx context.Context, executionID string, phase model.PhaseName) (int, error) {
	n, err := t.store.RequeueInFlightItems(ctx, executionID, phase)
	if err != nil {
		return 0, eris.Wrapf(err, "state: reclaim in-flight items for %s", phase)
	}
	if n > 0 {
		zap.L().Warn("reclaimed in-flight items",
			zap.String("execution_id", executionID),
			zap.String("phase", string(phase)),
			zap.Int("count", n),
		)
	}
	return n, nil
}

// Checkpoint persists a lightweight progress snapshot for status reporting.
func (t *Tracker) Checkpoint(ctx context.Context, executionID string, phase model.PhaseName, processed, total int) error {
	return t.store.SaveCheckpoint(ctx, model.Checkpoint{
		ExecutionID: executionID,
		Phase:       phase,
		Processed:   processed,
		Total:       total,
		UpdatedAt:   time.Now().UTC(),
	})
}

// LastWrite returns the time of the most recent item transition for the
// execution, which the watchdog uses to detect stalls.
func (t *Tracker) LastWrite(ctx context.Context, executionID string) (*time.Time, error) {
	return t.store.LastItemWrite(ctx, executionID)
}
