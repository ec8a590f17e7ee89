// Package orchestrator drives a pipeline execution through its phase graph:
// dependency-ordered scheduling, per-item dispatch through the durable queue,
// flexible completion, and execution finalization.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/gate"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/queue"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/resilience"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/state"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// idlePoll is how often a drained worker re-checks for late retry entries.
const idlePoll = 100 * time.Millisecond

// Orchestrator runs executions. It is safe to run multiple executions
// concurrently through one Orchestrator; all shared state lives in the store
// and the per-service breakers.
type Orchestrator struct {
	cfg      *config.Config
	store    store.Store
	tracker  *state.Tracker
	runners  *runner.Registry
	breakers *resilience.ServiceBreakers
	sink     notify.Sink
	limiters map[string]*rate.Limiter
}

// New creates an Orchestrator.
func New(cfg *config.Config, st store.Store, reg *runner.Registry, breakers *resilience.ServiceBreakers, sink notify.Sink) *Orchestrator {
	limiters := make(map[string]*rate.Limiter, len(cfg.Rate))
	for service, lane := range cfg.Rate {
		limiters[service] = rate.NewLimiter(rate.Limit(lane.PerSecond), lane.Burst)
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		tracker:  state.NewTracker(st),
		runners:  reg,
		breakers: breakers,
		sink:     sink,
		limiters: limiters,
	}
}

// Run drives one execution to a terminal status. The returned error is an
// infrastructure failure (store unreachable, runner missing); pipeline-level
// failures end up in the execution record instead.
func (o *Orchestrator) Run(ctx context.Context, exec *model.Execution) error {
	log := zap.L().With(zap.String("execution_id", exec.ID))

	// Bookkeeping reads and writes survive cancellation so a cancelled
	// execution still records exact per-item and per-phase state.
	bookCtx := context.WithoutCancel(ctx)

	if exec.Status == model.ExecutionPending {
		if err := o.store.UpdateExecutionStatus(bookCtx, exec.ID, model.ExecutionRunning, nil); err != nil {
			return eris.Wrap(err, "orchestrator: mark execution running")
		}
	}
	o.sink.Notify(bookCtx, notify.Event{
		Type:        notify.EventExecutionStarted,
		ExecutionID: exec.ID,
		Status:      string(model.ExecutionRunning),
		Timestamp:   time.Now().UTC(),
	})
	log.Info("execution started",
		zap.String("trigger", string(exec.TriggerMode)),
		zap.Int("phases", len(exec.Phases)),
	)

	if err := o.skipDisabledPhases(bookCtx, exec); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return o.finalizeCancelled(exec)
		}

		statuses, err := o.phaseStatuses(bookCtx, exec)
		if err != nil {
			return err
		}

		wave, blocked, waiting := o.schedule(bookCtx, exec, statuses)
		for _, b := range blocked {
			if err := o.blockPhase(bookCtx, exec.ID, b.phase, b.reason); err != nil {
				return err
			}
		}

		if len(wave) == 0 {
			if waiting == 0 {
				break
			}
			if len(blocked) == 0 {
				// Waiting phases but nothing runnable or newly blocked
				// means the graph cannot make progress.
				return eris.Errorf("orchestrator: %d phases waiting with nothing runnable", waiting)
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range wave {
			g.Go(func() error {
				return o.runPhase(gctx, bookCtx, exec, p)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return o.finalizeCancelled(exec)
		}

		if stop, err := o.failFastOnCritical(bookCtx, exec); err != nil {
			return err
		} else if stop {
			break
		}
	}

	if ctx.Err() != nil {
		return o.finalizeCancelled(exec)
	}
	return o.finalize(bookCtx, exec)
}

type blockedPhase struct {
	phase  model.PhaseName
	reason string
}

// schedule partitions the execution's pending phases into a runnable wave,
// newly blocked phases, and a count of phases still waiting on upstreams.
func (o *Orchestrator) schedule(ctx context.Context, exec *model.Execution, statuses map[model.PhaseName]model.PhaseStatus) ([]model.PhaseName, []blockedPhase, int) {
	var wave []model.PhaseName
	var blocked []blockedPhase
	waiting := 0

	selected := make(map[model.PhaseName]bool, len(exec.Phases))
	for _, p := range exec.Phases {
		selected[p] = true
	}

	for _, p := range exec.Phases {
		if statuses[p] != model.PhasePending {
			continue
		}
		switch decision, reason := Ready(p, statuses); decision {
		case Blocked:
			blocked = append(blocked, blockedPhase{phase: p, reason: reason})
		case Wait:
			waiting++
		case Start:
			// Gates whose source phase is not part of this execution do not
			// apply, mirroring how unselected dependencies are satisfied.
			var checks []gate.Check
			for _, c := range DataGates(p) {
				if selected[c.Source] {
					checks = append(checks, c)
				}
			}
			ok, gateReason, err := gate.All(ctx, o.tracker, exec.ID, checks)
			if err != nil {
				zap.L().Error("data gate check failed",
					zap.String("execution_id", exec.ID),
					zap.String("phase", string(p)),
					zap.Error(err),
				)
				waiting++
				continue
			}
			if !ok {
				blocked = append(blocked, blockedPhase{phase: p, reason: gateReason})
				continue
			}
			wave = append(wave, p)
		}
	}
	return wave, blocked, waiting
}

func (o *Orchestrator) phaseStatuses(ctx context.Context, exec *model.Execution) (map[model.PhaseName]model.PhaseStatus, error) {
	states, err := o.store.ListPhases(ctx, exec.ID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list phases")
	}
	statuses := make(map[model.PhaseName]model.PhaseStatus, len(states))
	selected := make(map[model.PhaseName]bool, len(exec.Phases))
	for _, p := range exec.Phases {
		selected[p] = true
	}
	for _, st := range states {
		if selected[st.Name] {
			statuses[st.Name] = st.Status
		}
	}
	return statuses, nil
}

func (o *Orchestrator) skipDisabledPhases(ctx context.Context, exec *model.Execution) error {
	for _, p := range exec.Phases {
		if o.cfg.Phase(p).Enabled {
			continue
		}
		st, err := o.store.GetPhase(ctx, exec.ID, p)
		if err != nil {
			return eris.Wrap(err, "orchestrator: get phase")
		}
		if st.Status != model.PhasePending {
			continue
		}
		now := time.Now().UTC()
		st.Status = model.PhaseSkipped
		st.LastError = "disabled by configuration"
		st.CompletedAt = &now
		if err := o.store.UpsertPhase(ctx, *st); err != nil {
			return eris.Wrap(err, "orchestrator: skip disabled phase")
		}
	}
	return nil
}

func (o *Orchestrator) blockPhase(ctx context.Context, executionID string, p model.PhaseName, reason string) error {
	st, err := o.store.GetPhase(ctx, executionID, p)
	if err != nil {
		return eris.Wrap(err, "orchestrator: get phase")
	}
	now := time.Now().UTC()
	st.Status = model.PhaseBlocked
	st.LastError = reason
	st.CompletedAt = &now
	if err := o.store.UpsertPhase(ctx, *st); err != nil {
		return eris.Wrap(err, "orchestrator: block phase")
	}
	zap.L().Warn("phase blocked",
		zap.String("execution_id", executionID),
		zap.String("phase", string(p)),
		zap.String("reason", reason),
	)
	o.sink.Notify(ctx, notify.Event{
		Type:        notify.EventPhaseBlocked,
		ExecutionID: executionID,
		Phase:       p,
		Status:      string(model.PhaseBlocked),
		Detail:      reason,
		Timestamp:   now,
	})
	return nil
}

// runPhase executes one phase end to end: enumerate, enqueue, dispatch with a
// bounded worker pool, then settle against the completion policy. phaseCtx is
// bounded by the phase timeout; bookCtx survives it for bookkeeping writes.
func (o *Orchestrator) runPhase(ctx, bookCtx context.Context, exec *model.Execution, p model.PhaseName) error {
	pc := o.cfg.Phase(p)
	log := zap.L().With(zap.String("execution_id", exec.ID), zap.String("phase", string(p)))

	st, err := o.store.GetPhase(bookCtx, exec.ID, p)
	if err != nil {
		return eris.Wrap(err, "orchestrator: get phase")
	}
	now := time.Now().UTC()
	st.Status = model.PhaseRunning
	st.Attempts++
	st.StartedAt = &now
	st.LastError = ""
	if err := o.store.UpsertPhase(bookCtx, *st); err != nil {
		return eris.Wrap(err, "orchestrator: mark phase running")
	}
	o.sink.Notify(bookCtx, notify.Event{
		Type:        notify.EventPhaseStarted,
		ExecutionID: exec.ID,
		Phase:       p,
		Status:      string(model.PhaseRunning),
		Timestamp:   now,
	})
	log.Info("phase started", zap.Int("attempt", st.Attempts))

	run, err := o.runners.Get(p)
	if err != nil {
		return err
	}

	// Re-entry after a crash: anything left queued or processing goes back
	// to pending before we enumerate.
	if _, err := o.tracker.Reclaim(bookCtx, exec.ID, p); err != nil {
		return err
	}

	items, err := run.Enumerate(ctx, exec.ID)
	if err != nil {
		return o.settlePhase(bookCtx, exec, p, st, Verdict{
			Done: true, Success: false,
			Reason: "enumerate: " + err.Error(),
		}, model.Progress{}, nil)
	}
	if _, err := o.tracker.EnsureItems(bookCtx, exec.ID, p, items); err != nil {
		return err
	}

	q := queue.New(o.store, queue.Options{
		LeaseDuration: o.cfg.Queue.LeaseDuration(),
		MaxAttempts:   pc.MaxItemAttempts,
		RetryDelay:    o.cfg.Queue.RetryDelay(),
	})
	lane := queue.Lane(exec.ID, p)

	pending, err := o.tracker.Pending(bookCtx, exec.ID, p)
	if err != nil {
		return err
	}
	for _, it := range pending {
		err := q.EnqueueItem(bookCtx, queue.ItemPayload{
			ExecutionID: exec.ID,
			Phase:       p,
			ItemID:      it.ItemID,
			Data:        it.Payload,
		}, 0)
		if err != nil {
			return err
		}
		if err := o.tracker.MarkQueued(bookCtx, exec.ID, p, it.ItemID); err != nil {
			return err
		}
	}

	service := run.Service()
	caller := resilience.NewCaller(service, o.breakers.Get(service), o.limiters[service], resilience.RetryConfig{
		MaxAttempts:    o.cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(o.cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(o.cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:     o.cfg.Retry.Multiplier,
		JitterFraction: o.cfg.Retry.JitterFraction,
	})

	policy := Policy{
		SuccessThreshold: pc.SuccessThreshold,
		MinSuccesses:     pc.MinSuccesses,
		Budget:           pc.Timeout(),
	}

	started := time.Now()
	phaseCtx, cancel := context.WithTimeout(ctx, pc.Timeout())
	defer cancel()

	g, wctx := errgroup.WithContext(phaseCtx)
	for i := 0; i < pc.Concurrency; i++ {
		owner := workerOwner(i)
		g.Go(func() error {
			return o.worker(wctx, bookCtx, exec, p, pc.MaxItemAttempts, q, lane, owner, run, caller, policy, started, cancel)
		})
	}
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	prog, err := o.tracker.Progress(bookCtx, exec.ID, p)
	if err != nil {
		return err
	}
	verdict := policy.Evaluate(prog, time.Since(started))
	if !verdict.Done {
		// Only reachable when the parent context was cancelled mid-phase.
		verdict = Verdict{Done: true, Success: false, Reason: "cancelled"}
	}
	return o.settlePhase(bookCtx, exec, p, st, verdict, prog, q)
}

// worker drains the phase lane until the work is quiescent or the phase
// context ends. The completion policy is consulted only when nothing is
// leasable: items that are actively progressing are never preempted by an
// early threshold pass, so a resumed execution reprocesses exactly the items
// that never reached a terminal state.
func (o *Orchestrator) worker(
	ctx, bookCtx context.Context,
	exec *model.Execution,
	p model.PhaseName,
	maxAttempts int,
	q *queue.Queue,
	lane, owner string,
	run runner.Runner,
	caller *resilience.Caller,
	policy Policy,
	started time.Time,
	stop context.CancelFunc,
) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := q.Lease(ctx, lane, owner)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if job == nil {
			prog, err := o.tracker.Progress(ctx, exec.ID, p)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if prog.Pending+prog.Queued+prog.Processing == 0 {
				return nil
			}
			// Nothing leasable but work is still outstanding: only now may
			// the threshold end the phase early, because whatever remains is
			// a straggler (stuck in flight or waiting out a retry delay).
			if policy.Evaluate(prog, time.Since(started)).Done {
				stop()
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePoll):
			}
			continue
		}

		if err := o.processJob(ctx, bookCtx, exec, p, maxAttempts, q, owner, job, run, caller); err != nil {
			return err
		}

		prog, err := o.tracker.Progress(bookCtx, exec.ID, p)
		if err != nil {
			return err
		}
		if err := o.tracker.Checkpoint(bookCtx, exec.ID, p, prog.TerminalCount(), prog.Total); err != nil {
			zap.L().Warn("checkpoint write failed",
				zap.String("execution_id", exec.ID),
				zap.String("phase", string(p)),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) processJob(
	ctx, bookCtx context.Context,
	exec *model.Execution,
	p model.PhaseName,
	maxAttempts int,
	q *queue.Queue,
	owner string,
	job *model.Job,
	run runner.Runner,
	caller *resilience.Caller,
) error {
	payload, err := queue.DecodePayload(job)
	if err != nil {
		// A malformed payload cannot make progress. Fail the item it was
		// carrying, record the defect on the execution, and retire the entry.
		itemID := job.ID
		if i := strings.LastIndex(itemID, ":"); i >= 0 {
			itemID = itemID[i+1:]
		}
		cause := resilience.NonRecoverable(eris.Wrap(err, "malformed job payload"), 0)
		zap.L().Error("dropping malformed job payload",
			zap.String("job_id", job.ID),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		if _, failErr := o.tracker.Fail(bookCtx, exec.ID, p, itemID, job.Attempts, maxAttempts, cause); failErr != nil {
			zap.L().Warn("failed to record malformed item", zap.Error(failErr))
		}
		if appendErr := o.store.AppendExecutionError(bookCtx, exec.ID, model.ExecError{
			Phase:    p,
			ItemID:   itemID,
			Category: string(resilience.CategoryNonRecoverable),
			Message:  cause.Error(),
			At:       time.Now().UTC(),
		}); appendErr != nil {
			zap.L().Warn("failed to append execution error", zap.Error(appendErr))
		}
		return q.Complete(bookCtx, job.ID, owner)
	}

	attempt := job.Attempts
	if err := o.tracker.Start(bookCtx, exec.ID, p, payload.ItemID, attempt); err != nil {
		return err
	}

	item := model.Item{
		ExecutionID: exec.ID,
		Phase:       p,
		ItemID:      payload.ItemID,
		Attempts:    attempt,
		Payload:     payload.Data,
	}
	callErr := caller.Call(ctx, string(p), func(cctx context.Context) error {
		return run.Execute(cctx, exec.ID, item)
	})

	if callErr == nil || resilience.Classify(callErr) == resilience.CategoryDegraded {
		if callErr != nil {
			zap.L().Warn("item completed degraded",
				zap.String("execution_id", exec.ID),
				zap.String("phase", string(p)),
				zap.String("item_id", payload.ItemID),
				zap.Error(callErr),
			)
		}
		if err := o.tracker.Succeed(bookCtx, exec.ID, p, payload.ItemID, attempt); err != nil {
			return err
		}
		return q.Complete(bookCtx, job.ID, owner)
	}

	terminal, err := o.tracker.Fail(bookCtx, exec.ID, p, payload.ItemID, attempt, maxAttempts, callErr)
	if err != nil {
		return err
	}
	if terminal {
		appendErr := o.store.AppendExecutionError(bookCtx, exec.ID, model.ExecError{
			Phase:    p,
			ItemID:   payload.ItemID,
			Category: string(resilience.Classify(callErr)),
			Message:  callErr.Error(),
			At:       time.Now().UTC(),
		})
		if appendErr != nil {
			zap.L().Warn("failed to append execution error", zap.Error(appendErr))
		}
		// The item row holds the terminal failure; the queue entry is done.
		return q.Complete(bookCtx, job.ID, owner)
	}
	_, failErr := q.Fail(bookCtx, job.ID, owner, callErr)
	return failErr
}

// settlePhase writes the phase outcome: terminal status, counters, leftover
// item skips, and lane cleanup.
func (o *Orchestrator) settlePhase(ctx context.Context, exec *model.Execution, p model.PhaseName, st *model.PhaseState, verdict Verdict, prog model.Progress, q *queue.Queue) error {
	now := time.Now().UTC()

	if verdict.Success {
		// Items still outstanding when the threshold was cleared are
		// skipped, not abandoned; the audit trail says why.
		leftovers, err := o.store.ListItems(ctx, exec.ID, p, model.ItemPending, model.ItemQueued, model.ItemProcessing)
		if err != nil {
			return eris.Wrap(err, "orchestrator: list leftover items")
		}
		for _, it := range leftovers {
			if err := o.tracker.Skip(ctx, exec.ID, p, it.ItemID, "phase completed early: "+verdict.Reason); err != nil {
				return err
			}
		}
		prog.Skipped += len(leftovers)
		prog.Pending, prog.Queued, prog.Processing = 0, 0, 0
	}

	counters := model.PhaseCounters{Processed: prog.TerminalCount(), Succeeded: prog.Completed}
	if err := o.store.SetPhaseCounters(ctx, exec.ID, p, counters); err != nil {
		return eris.Wrap(err, "orchestrator: set phase counters")
	}

	st.Status = model.PhaseFailed
	if verdict.Success {
		st.Status = model.PhaseCompleted
	}
	st.LastError = ""
	if !verdict.Success {
		st.LastError = verdict.Reason
	}
	st.CompletedAt = &now
	if err := o.store.UpsertPhase(ctx, *st); err != nil {
		return eris.Wrap(err, "orchestrator: settle phase")
	}

	if q != nil {
		if _, err := q.Purge(ctx, queue.Lane(exec.ID, p)); err != nil {
			zap.L().Warn("lane purge failed", zap.String("phase", string(p)), zap.Error(err))
		}
	}

	o.sink.Notify(ctx, notify.Event{
		Type:        notify.EventPhaseFinished,
		ExecutionID: exec.ID,
		Phase:       p,
		Status:      string(st.Status),
		Detail:      verdict.Reason,
		Timestamp:   now,
	})
	zap.L().Info("phase finished",
		zap.String("execution_id", exec.ID),
		zap.String("phase", string(p)),
		zap.String("status", string(st.Status)),
		zap.String("reason", verdict.Reason),
		zap.Int("processed", counters.Processed),
		zap.Int("succeeded", counters.Succeeded),
	)
	return nil
}

// failFastOnCritical skips every still-pending phase once a critical phase
// has failed. Returns true when the execution should stop scheduling.
func (o *Orchestrator) failFastOnCritical(ctx context.Context, exec *model.Execution) (bool, error) {
	statuses, err := o.phaseStatuses(ctx, exec)
	if err != nil {
		return false, err
	}

	var criticalFailed model.PhaseName
	for _, p := range exec.Phases {
		if (statuses[p] == model.PhaseFailed || statuses[p] == model.PhaseBlocked) && o.cfg.Phase(p).Critical {
			criticalFailed = p
			break
		}
	}
	if criticalFailed == "" {
		return false, nil
	}

	reason := fmt.Sprintf("critical phase %s did not complete", criticalFailed)
	for _, p := range exec.Phases {
		if statuses[p] != model.PhasePending {
			continue
		}
		st, err := o.store.GetPhase(ctx, exec.ID, p)
		if err != nil {
			return false, eris.Wrap(err, "orchestrator: get phase")
		}
		now := time.Now().UTC()
		st.Status = model.PhaseSkipped
		st.LastError = reason
		st.CompletedAt = &now
		if err := o.store.UpsertPhase(ctx, *st); err != nil {
			return false, eris.Wrap(err, "orchestrator: skip phase after critical failure")
		}
	}
	return true, nil
}

// finalize derives the execution's terminal status from its phase statuses.
func (o *Orchestrator) finalize(ctx context.Context, exec *model.Execution) error {
	statuses, err := o.phaseStatuses(ctx, exec)
	if err != nil {
		return err
	}

	completed, failed := 0, 0
	criticalFailed := false
	for _, p := range exec.Phases {
		switch statuses[p] {
		case model.PhaseCompleted:
			completed++
		case model.PhaseFailed, model.PhaseBlocked:
			failed++
			if o.cfg.Phase(p).Critical {
				criticalFailed = true
			}
		}
	}

	final := model.ExecutionCompleted
	switch {
	case criticalFailed:
		final = model.ExecutionFailed
	case failed > 0 && completed > 0:
		final = model.ExecutionPartiallyCompleted
	case failed > 0:
		final = model.ExecutionFailed
	}

	now := time.Now().UTC()
	if err := o.store.UpdateExecutionStatus(ctx, exec.ID, final, &now); err != nil {
		return eris.Wrap(err, "orchestrator: finalize execution")
	}
	o.sink.Notify(ctx, notify.Event{
		Type:        notify.EventExecutionFinished,
		ExecutionID: exec.ID,
		Status:      string(final),
		Timestamp:   now,
	})
	zap.L().Info("execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(final)),
		zap.Int("phases_completed", completed),
		zap.Int("phases_failed", failed),
	)
	return nil
}

// finalizeCancelled marks the remaining pending and running phases skipped
// and the execution cancelled. It uses a fresh context because the caller's
// is already dead.
func (o *Orchestrator) finalizeCancelled(exec *model.Execution) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	states, err := o.store.ListPhases(ctx, exec.ID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list phases for cancel")
	}
	now := time.Now().UTC()
	for _, st := range states {
		if st.Status != model.PhasePending && st.Status != model.PhaseRunning {
			continue
		}
		st.Status = model.PhaseSkipped
		st.LastError = "execution cancelled"
		st.CompletedAt = &now
		if err := o.store.UpsertPhase(ctx, st); err != nil {
			return eris.Wrap(err, "orchestrator: skip phase on cancel")
		}
	}
	if err := o.store.UpdateExecutionStatus(ctx, exec.ID, model.ExecutionCancelled, &now); err != nil {
		return eris.Wrap(err, "orchestrator: mark execution cancelled")
	}
	o.sink.Notify(ctx, notify.Event{
		Type:        notify.EventExecutionFinished,
		ExecutionID: exec.ID,
		Status:      string(model.ExecutionCancelled),
		Timestamp:   now,
	})
	zap.L().Info("execution cancelled", zap.String("execution_id", exec.ID))
	return nil
}

func workerOwner(i int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s-%d", host, uuid.NewString()[:8], i)
}
