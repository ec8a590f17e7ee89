// Package engine is the public face of the pipeline orchestration service:
// it owns the store, the per-service circuit breakers, and the notification
// sink, and exposes start, status, cancel, and resume over them.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/orchestrator"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/resilience"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/state"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// Engine runs and tracks pipeline executions.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	breakers *resilience.ServiceBreakers
	sink     notify.Sink
	orch     *orchestrator.Orchestrator
	tracker  *state.Tracker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine. Breaker state transitions are persisted through the
// store so status reporting shows them across processes.
func New(cfg *config.Config, st store.Store, reg *runner.Registry) *Engine {
	sink := notify.ForConfig(cfg.Notify.WebhookURL)

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSecs) * time.Second,
		OnSnapshot: func(rec model.BreakerRecord) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.SaveBreaker(ctx, rec); err != nil {
				zap.L().Warn("failed to persist breaker state",
					zap.String("service", rec.Service),
					zap.Error(err),
				)
			}
		},
	})

	return &Engine{
		cfg:      cfg,
		store:    st,
		breakers: breakers,
		sink:     sink,
		orch:     orchestrator.New(cfg, st, reg, breakers, sink),
		tracker:  state.NewTracker(st),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start creates an execution and runs it in the background. An empty phase
// selection means the full pipeline.
func (e *Engine) Start(ctx context.Context, trigger model.TriggerMode, phases []model.PhaseName) (*model.Execution, error) {
	if len(phases) == 0 {
		phases = model.AllPhases()
	}
	if err := orchestrator.ValidatePhases(phases); err != nil {
		return nil, err
	}

	exec, err := e.store.CreateExecution(ctx, trigger, phases)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create execution")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.cancels, exec.ID)
			e.mu.Unlock()
			cancel()
		}()
		if err := e.orch.Run(runCtx, exec); err != nil {
			zap.L().Error("execution run failed",
				zap.String("execution_id", exec.ID),
				zap.Error(err),
			)
		}
	}()

	return exec, nil
}

// Run creates an execution and drives it to completion synchronously.
func (e *Engine) Run(ctx context.Context, trigger model.TriggerMode, phases []model.PhaseName) (*model.Execution, error) {
	if len(phases) == 0 {
		phases = model.AllPhases()
	}
	if err := orchestrator.ValidatePhases(phases); err != nil {
		return nil, err
	}

	exec, err := e.store.CreateExecution(ctx, trigger, phases)
	if err != nil {
		return nil, eris.Wrap(err, "engine: create execution")
	}
	if err := e.orch.Run(ctx, exec); err != nil {
		return nil, err
	}
	return e.store.GetExecution(ctx, exec.ID)
}

// Resume picks up a non-terminal execution, typically after a process crash.
// Running phases are returned to pending; completed work is never redone.
func (e *Engine) Resume(ctx context.Context, executionID string) (*model.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, eris.Errorf("engine: execution %s is %s and cannot be resumed", executionID, exec.Status)
	}

	phases, err := e.store.ListPhases(ctx, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list phases")
	}
	for _, ph := range phases {
		if ph.Status != model.PhaseRunning {
			continue
		}
		ph.Status = model.PhasePending
		if err := e.store.UpsertPhase(ctx, ph); err != nil {
			return nil, eris.Wrap(err, "engine: reset interrupted phase")
		}
	}

	zap.L().Info("resuming execution",
		zap.String("execution_id", executionID),
		zap.String("status", string(exec.Status)),
	)

	if err := e.orch.Run(ctx, exec); err != nil {
		return nil, err
	}
	return e.store.GetExecution(ctx, executionID)
}

// Cancel stops an execution. When it is running inside this process the
// in-flight work is interrupted; otherwise the record is finalized directly
// so that a crashed execution can still be put to rest.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	cancel, local := e.cancels[executionID]
	e.mu.Unlock()
	if local {
		cancel()
		zap.L().Info("execution cancel requested", zap.String("execution_id", executionID))
		return nil
	}

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return eris.Errorf("engine: execution %s is already %s", executionID, exec.Status)
	}

	phases, err := e.store.ListPhases(ctx, executionID)
	if err != nil {
		return eris.Wrap(err, "engine: list phases")
	}
	now := time.Now().UTC()
	for _, ph := range phases {
		if ph.Status != model.PhasePending && ph.Status != model.PhaseRunning {
			continue
		}
		ph.Status = model.PhaseSkipped
		ph.LastError = "execution cancelled"
		ph.CompletedAt = &now
		if err := e.store.UpsertPhase(ctx, ph); err != nil {
			return eris.Wrap(err, "engine: skip phase on cancel")
		}
	}
	if err := e.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionCancelled, &now); err != nil {
		return eris.Wrap(err, "engine: mark execution cancelled")
	}
	e.sink.Notify(ctx, notify.Event{
		Type:        notify.EventExecutionFinished,
		ExecutionID: executionID,
		Status:      string(model.ExecutionCancelled),
		Timestamp:   now,
	})
	return nil
}

// Report is the full status view of one execution.
type Report struct {
	Execution   *model.Execution                   `json:"execution"`
	Phases      []model.PhaseState                 `json:"phases"`
	Progress    map[model.PhaseName]model.Progress `json:"progress"`
	Checkpoints []model.Checkpoint                 `json:"checkpoints,omitempty"`
	Breakers    []model.BreakerRecord              `json:"breakers,omitempty"`
}

// Status assembles the report for one execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*Report, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	phases, err := e.store.ListPhases(ctx, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list phases")
	}

	progress := make(map[model.PhaseName]model.Progress, len(phases))
	for _, ph := range phases {
		prog, err := e.tracker.Progress(ctx, executionID, ph.Name)
		if err != nil {
			return nil, err
		}
		progress[ph.Name] = prog
	}

	checkpoints, err := e.store.ListCheckpoints(ctx, executionID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list checkpoints")
	}
	breakers, err := e.store.ListBreakers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list breakers")
	}

	return &Report{
		Execution:   exec,
		Phases:      phases,
		Progress:    progress,
		Checkpoints: checkpoints,
		Breakers:    breakers,
	}, nil
}

// List returns executions matching the filter.
func (e *Engine) List(ctx context.Context, filter store.ExecutionFilter) ([]model.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

// Wait blocks until every background execution started by this Engine has
// finished. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}
