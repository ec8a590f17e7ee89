// Package monitor is the background watchdog for running executions. It
// detects executions that stopped making progress or overran a phase budget
// and applies a bounded recovery policy: reclaim in-flight work a limited
// number of times, then fail the execution rather than recover it forever.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/state"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// Monitor periodically inspects running executions for stalls and for
// running phases that overran their wall-clock budget. The phase-budget check
// covers the case where the orchestrating process died mid-phase and its
// in-process timeout enforcement died with it.
type Monitor struct {
	cfg     *config.Config
	store   store.Store
	tracker *state.Tracker
	sink    notify.Sink

	nowFunc func() time.Time
}

// New creates a Monitor.
func New(cfg *config.Config, st store.Store, sink notify.Sink) *Monitor {
	return &Monitor{
		cfg:     cfg,
		store:   st,
		tracker: state.NewTracker(st),
		sink:    sink,
		nowFunc: time.Now,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.Monitor.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitor"))
	log.Info("starting pipeline watchdog",
		zap.Duration("interval", interval),
		zap.Duration("stuck_window", m.cfg.Monitor.StuckWindow()),
		zap.Int("max_recoveries", m.cfg.Monitor.MaxRecoveries),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline watchdog stopped")
			return
		case <-ticker.C:
			if err := m.CheckOnce(ctx); err != nil {
				log.Error("watchdog check failed", zap.Error(err))
			}
		}
	}
}

// CheckOnce inspects every running execution exactly once.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	running, err := m.store.ListExecutions(ctx, store.ExecutionFilter{Status: model.ExecutionRunning})
	if err != nil {
		return eris.Wrap(err, "monitor: list running executions")
	}

	for _, exec := range running {
		if err := m.checkExecution(ctx, &exec); err != nil {
			zap.L().Error("watchdog: execution check failed",
				zap.String("execution_id", exec.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Monitor) checkExecution(ctx context.Context, exec *model.Execution) error {
	last, err := m.tracker.LastWrite(ctx, exec.ID)
	if err != nil {
		return err
	}
	// An execution with no item writes yet is measured from its start time,
	// so one that dies before enumerating anything still gets caught.
	reference := exec.StartedAt
	if last != nil {
		reference = *last
	}

	var cause string
	if idle := m.nowFunc().UTC().Sub(reference); idle >= m.cfg.Monitor.StuckWindow() {
		cause = fmt.Sprintf("no progress for %s", idle.Round(time.Second))
	} else {
		cause, err = m.overdueRunningPhase(ctx, exec)
		if err != nil {
			return err
		}
	}
	if cause == "" {
		return nil
	}

	zap.L().Warn("execution stalled",
		zap.String("execution_id", exec.ID),
		zap.String("cause", cause),
		zap.Int("recoveries", exec.Recoveries),
	)

	recoveries, err := m.store.IncrementRecoveries(ctx, exec.ID)
	if err != nil {
		return err
	}
	if recoveries > m.cfg.Monitor.MaxRecoveries {
		return m.failStuckExecution(ctx, exec, cause)
	}
	return m.recover(ctx, exec, cause, recoveries)
}

// overdueRunningPhase reports a running phase that has exceeded its
// configured wall-clock budget, which only happens when the process driving
// the phase is no longer enforcing its timeout.
func (m *Monitor) overdueRunningPhase(ctx context.Context, exec *model.Execution) (string, error) {
	phases, err := m.store.ListPhases(ctx, exec.ID)
	if err != nil {
		return "", eris.Wrap(err, "monitor: list phases")
	}

	now := m.nowFunc().UTC()
	for _, ph := range phases {
		if ph.Status != model.PhaseRunning || ph.StartedAt == nil {
			continue
		}
		budget := m.cfg.Phase(ph.Name).Timeout()
		if budget <= 0 {
			continue
		}
		if elapsed := now.Sub(*ph.StartedAt); elapsed > budget {
			return fmt.Sprintf("phase %s running for %s, budget %s",
				ph.Name, elapsed.Round(time.Second), budget), nil
		}
	}
	return "", nil
}

// recover returns the stalled execution's in-flight items to pending so a
// worker can pick them up again.
func (m *Monitor) recover(ctx context.Context, exec *model.Execution, cause string, recoveries int) error {
	phases, err := m.store.ListPhases(ctx, exec.ID)
	if err != nil {
		return eris.Wrap(err, "monitor: list phases")
	}

	reclaimed := 0
	for _, ph := range phases {
		if ph.Status != model.PhaseRunning {
			continue
		}
		n, err := m.tracker.Reclaim(ctx, exec.ID, ph.Name)
		if err != nil {
			return err
		}
		reclaimed += n

		m.sink.Notify(ctx, notify.Event{
			Type:        notify.EventPhaseStuck,
			ExecutionID: exec.ID,
			Phase:       ph.Name,
			Status:      string(ph.Status),
			Detail:      fmt.Sprintf("%s, recovery %d of %d", cause, recoveries, m.cfg.Monitor.MaxRecoveries),
			Timestamp:   m.nowFunc().UTC(),
		})
	}

	zap.L().Info("stalled execution recovered",
		zap.String("execution_id", exec.ID),
		zap.Int("recovery", recoveries),
		zap.Int("items_reclaimed", reclaimed),
	)
	return nil
}

// failStuckExecution gives up on an execution that kept stalling after the
// recovery budget was spent.
func (m *Monitor) failStuckExecution(ctx context.Context, exec *model.Execution, cause string) error {
	reason := fmt.Sprintf("stuck: %s after %d recoveries", cause, m.cfg.Monitor.MaxRecoveries)

	phases, err := m.store.ListPhases(ctx, exec.ID)
	if err != nil {
		return eris.Wrap(err, "monitor: list phases")
	}
	now := m.nowFunc().UTC()
	for _, ph := range phases {
		if ph.Status != model.PhaseRunning && ph.Status != model.PhasePending {
			continue
		}
		ph.Status = model.PhaseFailed
		ph.LastError = reason
		ph.CompletedAt = &now
		if err := m.store.UpsertPhase(ctx, ph); err != nil {
			return eris.Wrap(err, "monitor: fail stuck phase")
		}
	}

	if err := m.store.AppendExecutionError(ctx, exec.ID, model.ExecError{
		Category: "non_recoverable",
		Message:  reason,
		At:       now,
	}); err != nil {
		zap.L().Warn("failed to record stuck error", zap.Error(err))
	}
	if err := m.store.UpdateExecutionStatus(ctx, exec.ID, model.ExecutionFailed, &now); err != nil {
		return eris.Wrap(err, "monitor: fail stuck execution")
	}

	m.sink.Notify(ctx, notify.Event{
		Type:        notify.EventExecutionFinished,
		ExecutionID: exec.ID,
		Status:      string(model.ExecutionFailed),
		Detail:      reason,
		Timestamp:   now,
	})
	zap.L().Error("execution failed by watchdog",
		zap.String("execution_id", exec.ID),
		zap.String("reason", reason),
	)
	return nil
}
