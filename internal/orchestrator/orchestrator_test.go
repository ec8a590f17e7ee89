package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/queue"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/resilience"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/runner"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

// funcRunner adapts closures to the runner contract.
type funcRunner struct {
	service   string
	enumerate func(ctx context.Context, executionID string) ([]model.Item, error)
	execute   func(ctx context.Context, executionID string, item model.Item) error
}

func (f *funcRunner) Service() string { return f.service }

func (f *funcRunner) Enumerate(ctx context.Context, executionID string) ([]model.Item, error) {
	return f.enumerate(ctx, executionID)
}

func (f *funcRunner) Execute(ctx context.Context, executionID string, item model.Item) error {
	return f.execute(ctx, executionID, item)
}

func fixedItems(ids ...string) func(context.Context, string) ([]model.Item, error) {
	return func(context.Context, string) ([]model.Item, error) {
		out := make([]model.Item, len(ids))
		for i, id := range ids {
			out[i] = model.Item{ItemID: id}
		}
		return out, nil
	}
}

func testConfig() *config.Config {
	phases := make(map[string]config.PhaseConfig, len(model.AllPhases()))
	for _, p := range model.AllPhases() {
		phases[string(p)] = config.PhaseConfig{
			Enabled:          true,
			TimeoutSecs:      10,
			Concurrency:      2,
			SuccessThreshold: 0.8,
			MinSuccesses:     1,
			MaxItemAttempts:  2,
		}
	}
	return &config.Config{
		Queue: config.QueueConfig{LeaseDurationSecs: 60, MaxAttempts: 3, RetryDelaySecs: 1},
		Retry: config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 5, Multiplier: 2, JitterFraction: 0},
		Phases: phases,
	}
}

func setPhase(cfg *config.Config, p model.PhaseName, mutate func(*config.PhaseConfig)) {
	pc := cfg.Phases[string(p)]
	mutate(&pc)
	cfg.Phases[string(p)] = pc
}

func newHarness(t *testing.T, cfg *config.Config, phases []model.PhaseName) (*Orchestrator, store.Store, *model.Execution) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "orch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	exec, err := s.CreateExecution(context.Background(), model.TriggerManual, phases)
	require.NoError(t, err)

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		ResetTimeout:     time.Second,
	})
	reg := runner.NewRegistry()
	o := New(cfg, s, reg, breakers, notify.LogSink{})
	return o, s, exec
}

func phaseStatus(t *testing.T, s store.Store, execID string, p model.PhaseName) model.PhaseState {
	t.Helper()
	st, err := s.GetPhase(context.Background(), execID, p)
	require.NoError(t, err)
	return *st
}

func TestRun_AllPhasesSucceed(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseKeywordMetrics, model.PhaseSERPCollection})

	o.runners.Register(model.PhaseKeywordMetrics, &funcRunner{
		service:   "metrics_api",
		enumerate: fixedItems("kw-1", "kw-2"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})
	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1:us:organic", "kw-1:us:news"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, model.PhaseCompleted, phaseStatus(t, s, exec.ID, model.PhaseKeywordMetrics).Status)
	assert.Equal(t, model.PhaseCompleted, phaseStatus(t, s, exec.ID, model.PhaseSERPCollection).Status)
	assert.Equal(t, model.PhaseCounters{Processed: 2, Succeeded: 2}, got.Counters[model.PhaseSERPCollection])
}

func TestRun_FlexibleCompletionToleratesFailures(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentScraping})

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = "url-" + string(rune('a'+i))
	}
	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems(ids...),
		execute: func(_ context.Context, _ string, item model.Item) error {
			if item.ItemID == "url-a" || item.ItemID == "url-b" {
				return resilience.NonRecoverable(errors.New("404 not found"), 404)
			}
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	// 8/10 meets the 0.8 threshold.
	assert.Equal(t, model.ExecutionCompleted, got.Status)
	assert.Equal(t, model.PhaseCompleted, phaseStatus(t, s, exec.ID, model.PhaseContentScraping).Status)
	assert.Equal(t, model.PhaseCounters{Processed: 10, Succeeded: 8}, got.Counters[model.PhaseContentScraping])
	assert.Equal(t, 2, got.ErrorsTotal)
	for _, e := range got.Errors {
		assert.Equal(t, model.PhaseContentScraping, e.Phase)
		assert.Equal(t, "non_recoverable", e.Category)
	}
}

func TestRun_BelowThresholdFailsPhase(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentScraping})

	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems("u1", "u2", "u3", "u4"),
		execute: func(_ context.Context, _ string, item model.Item) error {
			if item.ItemID != "u1" {
				return resilience.NonRecoverable(errors.New("blocked by robots"), 403)
			}
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, got.Status)
	st := phaseStatus(t, s, exec.ID, model.PhaseContentScraping)
	assert.Equal(t, model.PhaseFailed, st.Status)
	assert.Contains(t, st.LastError, "below threshold")
}

func TestRun_MetThresholdDoesNotPreemptInFlightItems(t *testing.T) {
	cfg := testConfig()
	// A low bar that a handful of early successes would clear. Items that are
	// still progressing must be processed anyway; only stragglers at
	// quiescence may be cut off.
	setPhase(cfg, model.PhaseContentScraping, func(pc *config.PhaseConfig) {
		pc.SuccessThreshold = 0.5
		pc.MinSuccesses = 1
	})
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentScraping})

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = "url-" + string(rune('a'+i))
	}
	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems(ids...),
		execute: func(ctx context.Context, _ string, _ model.Item) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
				return nil
			}
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)

	prog, err := s.PhaseProgress(context.Background(), exec.ID, model.PhaseContentScraping)
	require.NoError(t, err)
	assert.Equal(t, 10, prog.Completed)
	assert.Equal(t, 0, prog.Skipped)
}

func TestRun_MalformedJobPayloadFailsItem(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentScraping})
	ctx := context.Background()

	// Seed the lane with an undecodable payload under the same ID the
	// dispatcher would derive, so its own enqueue is the idempotent no-op.
	require.NoError(t, s.EnqueueJob(ctx, model.Job{
		ID:          exec.ID + ":" + string(model.PhaseContentScraping) + ":u2",
		Queue:       queue.Lane(exec.ID, model.PhaseContentScraping),
		Type:        string(model.PhaseContentScraping),
		Payload:     []byte("{"),
		MaxAttempts: 3,
	}))

	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems("u1", "u2"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})

	require.NoError(t, o.Run(ctx, exec))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, got.Status)
	assert.Equal(t, 1, got.ErrorsTotal)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, "u2", got.Errors[0].ItemID)
	assert.Equal(t, "non_recoverable", got.Errors[0].Category)
	assert.Contains(t, got.Errors[0].Message, "malformed job payload")

	failed, err := s.ListItems(ctx, exec.ID, model.PhaseContentScraping, model.ItemFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "u2", failed[0].ItemID)
}

func TestRun_ZeroScrapedPagesBlocksAnalysis(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentScraping, model.PhaseContentAnalysis})

	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems(),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})
	o.runners.Register(model.PhaseContentAnalysis, &funcRunner{
		service:   "analysis_api",
		enumerate: fixedItems("should-never-run"),
		execute: func(context.Context, string, model.Item) error {
			t.Error("content analysis must not execute with zero scraped pages")
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	st := phaseStatus(t, s, exec.ID, model.PhaseContentAnalysis)
	assert.Equal(t, model.PhaseBlocked, st.Status)
	assert.Contains(t, st.LastError, "produced 0 items")
}

func TestRun_ZeroSerpResultsBlocksEnrichment(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseSERPCollection, model.PhaseCompanyEnrichment})

	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems(),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})
	o.runners.Register(model.PhaseCompanyEnrichment, &funcRunner{
		service:   "enrichment_api",
		enumerate: fixedItems("should-never-run"),
		execute: func(context.Context, string, model.Item) error {
			t.Error("company enrichment must not execute with zero serp rows")
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPartiallyCompleted, got.Status)

	st := phaseStatus(t, s, exec.ID, model.PhaseCompanyEnrichment)
	assert.Equal(t, model.PhaseBlocked, st.Status)
	assert.Contains(t, st.LastError, "produced 0 items")
}

func TestRun_CriticalPhaseFailureFailsExecution(t *testing.T) {
	cfg := testConfig()
	setPhase(cfg, model.PhaseSERPCollection, func(pc *config.PhaseConfig) { pc.Critical = true })
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseSERPCollection, model.PhaseContentScraping})

	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1", "kw-2"),
		execute: func(context.Context, string, model.Item) error {
			return resilience.NonRecoverable(errors.New("quota exhausted"), 403)
		},
	})
	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems("u1"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, got.Status)
	assert.Equal(t, model.PhaseFailed, phaseStatus(t, s, exec.ID, model.PhaseSERPCollection).Status)

	st := phaseStatus(t, s, exec.ID, model.PhaseContentScraping)
	assert.Equal(t, model.PhaseSkipped, st.Status)
	assert.Contains(t, st.LastError, "critical phase")
}

func TestRun_HardDependencyFailureBlocksDownstream(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{
		model.PhaseKeywordMetrics, model.PhaseSERPCollection, model.PhaseContentScraping,
	})

	o.runners.Register(model.PhaseKeywordMetrics, &funcRunner{
		service:   "metrics_api",
		enumerate: fixedItems("kw-1"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})
	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1:us:organic"),
		execute: func(context.Context, string, model.Item) error {
			return resilience.NonRecoverable(errors.New("invalid api key"), 401)
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPartiallyCompleted, got.Status)
	assert.Equal(t, model.PhaseCompleted, phaseStatus(t, s, exec.ID, model.PhaseKeywordMetrics).Status)
	assert.Equal(t, model.PhaseFailed, phaseStatus(t, s, exec.ID, model.PhaseSERPCollection).Status)
	assert.Equal(t, model.PhaseBlocked, phaseStatus(t, s, exec.ID, model.PhaseContentScraping).Status)
}

func TestRun_RecoverableFailureRetriesItem(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.RetryDelaySecs = 1
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseSERPCollection})

	var calls atomic.Int32
	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1:us:organic"),
		execute: func(context.Context, string, model.Item) error {
			if calls.Add(1) == 1 {
				return resilience.Recoverable(errors.New("503 upstream"), 503)
			}
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	items, err := s.ListItems(context.Background(), exec.ID, model.PhaseSERPCollection, model.ItemCompleted)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestRun_EarlyExitSkipsStragglers(t *testing.T) {
	cfg := testConfig()
	setPhase(cfg, model.PhaseContentAnalysis, func(pc *config.PhaseConfig) {
		pc.SuccessThreshold = 0.5
		pc.MinSuccesses = 2
	})
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseContentAnalysis})

	o.runners.Register(model.PhaseContentAnalysis, &funcRunner{
		service:   "analysis_api",
		enumerate: fixedItems("d1", "d2", "d3", "d4", "d5"),
		execute: func(ctx context.Context, _ string, item model.Item) error {
			if item.ItemID == "d5" {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		},
	})

	require.NoError(t, o.Run(context.Background(), exec))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)

	prog, err := s.PhaseProgress(context.Background(), exec.ID, model.PhaseContentAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 4, prog.Completed)
	assert.GreaterOrEqual(t, prog.Skipped+prog.Failed, 1)
	assert.True(t, prog.AllTerminal())
}

func TestRun_DisabledPhaseSkipped(t *testing.T) {
	cfg := testConfig()
	setPhase(cfg, model.PhaseVideoEnrichment, func(pc *config.PhaseConfig) { pc.Enabled = false })
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseSERPCollection, model.PhaseVideoEnrichment})

	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1:us:organic"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})

	require.NoError(t, o.Run(context.Background(), exec))

	st := phaseStatus(t, s, exec.ID, model.PhaseVideoEnrichment)
	assert.Equal(t, model.PhaseSkipped, st.Status)
	assert.Contains(t, st.LastError, "disabled")

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)
}

func TestRun_CancellationSkipsRemainingPhases(t *testing.T) {
	cfg := testConfig()
	o, s, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseSERPCollection, model.PhaseContentScraping})

	started := make(chan struct{})
	var once atomic.Bool
	o.runners.Register(model.PhaseSERPCollection, &funcRunner{
		service:   "serp_api",
		enumerate: fixedItems("kw-1:us:organic"),
		execute: func(ctx context.Context, _ string, _ model.Item) error {
			if once.CompareAndSwap(false, true) {
				close(started)
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	o.runners.Register(model.PhaseContentScraping, &funcRunner{
		service:   "scraper",
		enumerate: fixedItems("u1"),
		execute:   func(context.Context, string, model.Item) error { return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, exec) }()

	<-started
	cancel()
	require.NoError(t, <-done)

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCancelled, got.Status)
	assert.NotNil(t, got.EndedAt)

	scrape := phaseStatus(t, s, exec.ID, model.PhaseContentScraping)
	assert.Equal(t, model.PhaseSkipped, scrape.Status)
	assert.True(t, strings.Contains(scrape.LastError, "cancelled"))
}

func TestRun_MissingRunnerIsInfrastructureError(t *testing.T) {
	cfg := testConfig()
	o, _, exec := newHarness(t, cfg, []model.PhaseName{model.PhaseKeywordMetrics})

	err := o.Run(context.Background(), exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runner registered")
}
