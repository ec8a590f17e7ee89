package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 120, cfg.Queue.LeaseDurationSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Monitor.MaxRecoveries)

	// Every phase carries defaults.
	for _, p := range model.AllPhases() {
		pc := cfg.Phase(p)
		assert.True(t, pc.Enabled, "phase %s", p)
		assert.Equal(t, 1800, pc.TimeoutSecs)
		assert.InDelta(t, 0.8, pc.SuccessThreshold, 1e-9)
		assert.Equal(t, 3, pc.MaxItemAttempts)
	}

	// Phase-specific overrides.
	assert.True(t, cfg.Phase(model.PhaseSERPCollection).Critical)
	assert.False(t, cfg.Phase(model.PhaseContentScraping).Critical)
	assert.Equal(t, 15, cfg.Phase(model.PhaseCompanyEnrichment).Concurrency)
	assert.Equal(t, 10, cfg.Phase(model.PhaseContentScraping).Concurrency)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CYLVY_LOG_LEVEL", "debug")
	t.Setenv("CYLVY_STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func validTestConfig() *Config {
	phases := make(map[string]PhaseConfig)
	for _, p := range model.AllPhases() {
		phases[string(p)] = PhaseConfig{
			Enabled:          true,
			TimeoutSecs:      60,
			Concurrency:      5,
			SuccessThreshold: 0.8,
			MinSuccesses:     1,
			MaxItemAttempts:  3,
		}
	}
	return &Config{
		Queue:   QueueConfig{LeaseDurationSecs: 120, MaxAttempts: 3, RetryDelaySecs: 5},
		Monitor: MonitorConfig{CheckIntervalSecs: 60, StuckWindowSecs: 600, MaxRecoveries: 2},
		Phases:  phases,
	}
}

func TestValidate_RejectsUnknownPhase(t *testing.T) {
	cfg := validTestConfig()
	cfg.Phases["serp"] = PhaseConfig{TimeoutSecs: 60, Concurrency: 1, SuccessThreshold: 0.5, MaxItemAttempts: 1}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown phase "serp"`)
}

func TestValidate_RejectsBadPhaseSettings(t *testing.T) {
	for name, mutate := range map[string]func(*PhaseConfig){
		"zero timeout":       func(pc *PhaseConfig) { pc.TimeoutSecs = 0 },
		"zero concurrency":   func(pc *PhaseConfig) { pc.Concurrency = 0 },
		"threshold above 1":  func(pc *PhaseConfig) { pc.SuccessThreshold = 1.5 },
		"zero threshold":     func(pc *PhaseConfig) { pc.SuccessThreshold = 0 },
		"zero item attempts": func(pc *PhaseConfig) { pc.MaxItemAttempts = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := validTestConfig()
			pc := cfg.Phases[string(model.PhaseSERPCollection)]
			mutate(&pc)
			cfg.Phases[string(model.PhaseSERPCollection)] = pc
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_QueueAndMonitor(t *testing.T) {
	cfg := validTestConfig()
	cfg.Queue.LeaseDurationSecs = 0
	assert.Error(t, cfg.Validate())

	cfg = validTestConfig()
	cfg.Monitor.CheckIntervalSecs = 0
	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	q := QueueConfig{LeaseDurationSecs: 120, RetryDelaySecs: 5}
	assert.Equal(t, "2m0s", q.LeaseDuration().String())
	assert.Equal(t, "5s", q.RetryDelay().String())

	m := MonitorConfig{StuckWindowSecs: 600}
	assert.Equal(t, "10m0s", m.StuckWindow().String())

	pc := PhaseConfig{TimeoutSecs: 1800}
	assert.Equal(t, "30m0s", pc.Timeout().String())
}
