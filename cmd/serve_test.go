package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/config"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/engine"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/store"
)

func testServerConfig() *config.Config {
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
		Queue:   config.QueueConfig{LeaseDurationSecs: 60, MaxAttempts: 3, RetryDelaySecs: 1},
		Retry:   config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 5, Multiplier: 2},
		Breaker: config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, ResetTimeoutSecs: 30},
		Phases:  phases,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	eng := engine.New(testServerConfig(), s, simulationRunners(2))
	t.Cleanup(eng.Wait)

	srv := httptest.NewServer(apiRouter(eng))
	t.Cleanup(srv.Close)
	return srv, eng
}

func TestServe_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_StartAndPollExecution(t *testing.T) {
	srv, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"phases":["keyword_metrics","serp_collection"],"trigger":"manual"}`)
	resp, err := http.Post(srv.URL+"/executions", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var exec model.Execution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exec))
	require.NotEmpty(t, exec.ID)

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/executions/" + exec.ID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var report engine.Report
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			return false
		}
		return report.Execution.Status == model.ExecutionCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

func TestServe_StartRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/executions", "application/json",
		bytes.NewBufferString(`{"phases":["nope"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/executions", "application/json",
		bytes.NewBufferString(`{"trigger":"cron"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestServe_ListExecutions(t *testing.T) {
	srv, eng := newTestServer(t)

	_, err := eng.Run(context.Background(), model.TriggerManual, []model.PhaseName{model.PhaseKeywordMetrics})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/executions?status=completed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execs []model.Execution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execs))
	assert.Len(t, execs, 1)
}

func TestServe_CancelTerminalExecutionConflicts(t *testing.T) {
	srv, eng := newTestServer(t)

	exec, err := eng.Run(context.Background(), model.TriggerManual, []model.PhaseName{model.PhaseKeywordMetrics})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/executions/"+exec.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServe_UnknownExecutionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/executions/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
