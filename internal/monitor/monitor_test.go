package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/notify"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

func newTestMonitor(t *testing.T) (*Monitor, store.Store, *model.Execution) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	exec, err := s.CreateExecution(context.Background(), model.TriggerScheduled, model.AllPhases())
	require.NoError(t, err)
	require.NoError(t, s.UpdateExecutionStatus(context.Background(), exec.ID, model.ExecutionRunning, nil))

	phases := make(map[string]config.PhaseConfig, len(model.AllPhases()))
	for _, p := range model.AllPhases() {
		phases[string(p)] = config.PhaseConfig{
			Enabled:          true,
			TimeoutSecs:      7200,
			Concurrency:      2,
			SuccessThreshold: 0.8,
			MinSuccesses:     1,
			MaxItemAttempts:  2,
		}
	}
	m := New(&config.Config{
		Monitor: config.MonitorConfig{
			CheckIntervalSecs: 1,
			StuckWindowSecs:   600,
			MaxRecoveries:     2,
		},
		Phases: phases,
	}, s, notify.LogSink{})
	return m, s, exec
}

func markPhaseRunning(t *testing.T, s store.Store, execID string, p model.PhaseName) {
	t.Helper()
	st, err := s.GetPhase(context.Background(), execID, p)
	require.NoError(t, err)
	now := time.Now().UTC()
	st.Status = model.PhaseRunning
	st.StartedAt = &now
	require.NoError(t, s.UpsertPhase(context.Background(), *st))
}

func TestCheckOnce_HealthyExecutionUntouched(t *testing.T) {
	m, s, exec := newTestMonitor(t)
	markPhaseRunning(t, s, exec.ID, model.PhaseSERPCollection)

	require.NoError(t, m.CheckOnce(context.Background()))

	got, err := s.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, got.Status)
	assert.Equal(t, 0, got.Recoveries)
}

func TestCheckOnce_StalledExecutionRecovers(t *testing.T) {
	m, s, exec := newTestMonitor(t)
	ctx := context.Background()
	markPhaseRunning(t, s, exec.ID, model.PhaseSERPCollection)

	_, err := s.EnsureItems(ctx, []model.Item{
		{ExecutionID: exec.ID, Phase: model.PhaseSERPCollection, ItemID: "kw-1"},
		{ExecutionID: exec.ID, Phase: model.PhaseSERPCollection, ItemID: "kw-2"},
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, model.Item{
		ExecutionID: exec.ID, Phase: model.PhaseSERPCollection,
		ItemID: "kw-1", Status: model.ItemProcessing, Attempts: 1,
	}))

	// Pretend the stuck window has long passed.
	m.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, m.CheckOnce(ctx))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, got.Status)
	assert.Equal(t, 1, got.Recoveries)

	// The in-flight item went back to pending.
	pending, err := s.ListItems(ctx, exec.ID, model.PhaseSERPCollection, model.ItemPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCheckOnce_PhaseBudgetOverrunTriggersRecovery(t *testing.T) {
	m, s, exec := newTestMonitor(t)
	ctx := context.Background()

	// The phase started three hours ago against a two-hour budget, but a
	// recent item write keeps the execution inside the stuck window. Only the
	// per-phase budget check can catch this.
	st, err := s.GetPhase(ctx, exec.ID, model.PhaseContentScraping)
	require.NoError(t, err)
	startedAt := time.Now().UTC().Add(-3 * time.Hour)
	st.Status = model.PhaseRunning
	st.StartedAt = &startedAt
	require.NoError(t, s.UpsertPhase(ctx, *st))

	_, err = s.EnsureItems(ctx, []model.Item{
		{ExecutionID: exec.ID, Phase: model.PhaseContentScraping, ItemID: "u1"},
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, model.Item{
		ExecutionID: exec.ID, Phase: model.PhaseContentScraping,
		ItemID: "u1", Status: model.ItemProcessing, Attempts: 1,
	}))

	require.NoError(t, m.CheckOnce(ctx))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, got.Status)
	assert.Equal(t, 1, got.Recoveries)

	pending, err := s.ListItems(ctx, exec.ID, model.PhaseContentScraping, model.ItemPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCheckOnce_RecoveryBudgetExhaustedFailsExecution(t *testing.T) {
	m, s, exec := newTestMonitor(t)
	ctx := context.Background()
	markPhaseRunning(t, s, exec.ID, model.PhaseSERPCollection)

	m.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }

	// Recoveries 1 and 2 reclaim; the third check gives up.
	require.NoError(t, m.CheckOnce(ctx))
	require.NoError(t, m.CheckOnce(ctx))
	require.NoError(t, m.CheckOnce(ctx))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, 3, got.Recoveries)
	require.NotEmpty(t, got.Errors)
	assert.Contains(t, got.Errors[0].Message, "stuck")

	st, err := s.GetPhase(ctx, exec.ID, model.PhaseSERPCollection)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFailed, st.Status)
	assert.Contains(t, st.LastError, "stuck")
}

func TestCheckOnce_IgnoresTerminalExecutions(t *testing.T) {
	m, s, exec := newTestMonitor(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.UpdateExecutionStatus(ctx, exec.ID, model.ExecutionCompleted, &now))

	m.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, m.CheckOnce(ctx))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, got.Status)
	assert.Equal(t, 0, got.Recoveries)
}
