package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

func TestResolvePlan_Defaults(t *testing.T) {
	phases, trig, overrides, err := resolvePlan("", "", "")
	require.NoError(t, err)
	assert.Empty(t, phases)
	assert.Equal(t, model.TriggerManual, trig)
	assert.Empty(t, overrides)
}

func TestResolvePlan_PhasesFlag(t *testing.T) {
	phases, trig, _, err := resolvePlan("keyword_metrics, serp_collection", "", "scheduled")
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseName{model.PhaseKeywordMetrics, model.PhaseSERPCollection}, phases)
	assert.Equal(t, model.TriggerScheduled, trig)
}

func TestResolvePlan_PlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"phases:\n  - content_scraping\n  - content_analysis\ntrigger: scheduled\n",
	), 0o644))

	phases, trig, _, err := resolvePlan("", path, "")
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseName{model.PhaseContentScraping, model.PhaseContentAnalysis}, phases)
	assert.Equal(t, model.TriggerScheduled, trig)
}

func TestResolvePlan_PlanFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"phases:\n  - content_scraping\noverrides:\n  content_scraping:\n    concurrency: 8\n    success_threshold: 0.5\n",
	), 0o644))

	_, _, overrides, err := resolvePlan("", path, "")
	require.NoError(t, err)
	require.Contains(t, overrides, "content_scraping")
	ov := overrides["content_scraping"]
	require.NotNil(t, ov.Concurrency)
	assert.Equal(t, 8, *ov.Concurrency)
	require.NotNil(t, ov.SuccessThreshold)
	assert.Equal(t, 0.5, *ov.SuccessThreshold)
	assert.Nil(t, ov.TimeoutSecs)
	assert.Nil(t, ov.Critical)
}

func TestResolvePlan_FlagOverridesPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases:\n  - content_scraping\n"), 0o644))

	phases, _, _, err := resolvePlan("dsi_calculation", path, "")
	require.NoError(t, err)
	assert.Equal(t, []model.PhaseName{model.PhaseDSICalculation}, phases)
}

func TestResolvePlan_BadTrigger(t *testing.T) {
	_, _, _, err := resolvePlan("", "", "cron")
	require.Error(t, err)
}

func TestResolvePlan_MissingPlanFile(t *testing.T) {
	_, _, _, err := resolvePlan("", "/nonexistent/plan.yaml", "")
	require.Error(t, err)
}

func TestApplyPhaseOverrides(t *testing.T) {
	cfg := testServerConfig()
	cfg.Monitor = config.MonitorConfig{CheckIntervalSecs: 1, StuckWindowSecs: 600, MaxRecoveries: 2}
	base := cfg.Phases[string(model.PhaseContentScraping)]

	conc := 8
	crit := true
	err := applyPhaseOverrides(cfg, map[string]phaseOverride{
		string(model.PhaseContentScraping): {Concurrency: &conc, Critical: &crit},
	})
	require.NoError(t, err)

	got := cfg.Phases[string(model.PhaseContentScraping)]
	assert.Equal(t, 8, got.Concurrency)
	assert.True(t, got.Critical)
	// Knobs the plan left unset keep their configured values.
	assert.Equal(t, base.TimeoutSecs, got.TimeoutSecs)
	assert.Equal(t, base.SuccessThreshold, got.SuccessThreshold)
}

func TestApplyPhaseOverrides_UnknownPhase(t *testing.T) {
	conc := 2
	err := applyPhaseOverrides(testServerConfig(), map[string]phaseOverride{
		"scraping": {Concurrency: &conc},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestApplyPhaseOverrides_RejectsInvalidValues(t *testing.T) {
	threshold := 1.5
	err := applyPhaseOverrides(testServerConfig(), map[string]phaseOverride{
		string(model.PhaseContentScraping): {SuccessThreshold: &threshold},
	})
	require.Error(t, err)
}

func TestApplyPhaseOverrides_EmptyIsNoop(t *testing.T) {
	var cfg *config.Config
	require.NoError(t, applyPhaseOverrides(cfg, nil))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abcdef"))
	assert.Equal(t, "short", truncateID("short"))
}
