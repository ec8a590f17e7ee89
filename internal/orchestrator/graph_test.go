package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

func TestGraph_EveryPhaseHasEdges(t *testing.T) {
	for _, p := range model.AllPhases() {
		_, ok := phaseGraph[p]
		assert.True(t, ok, "phase %s missing from graph", p)
	}
}

func TestReady_NoDependencies(t *testing.T) {
	d, _ := Ready(model.PhaseKeywordMetrics, map[model.PhaseName]model.PhaseStatus{
		model.PhaseKeywordMetrics: model.PhasePending,
	})
	assert.Equal(t, Start, d)
}

func TestReady_WaitsForHardDependency(t *testing.T) {
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseSERPCollection:  model.PhaseRunning,
		model.PhaseContentScraping: model.PhasePending,
	}
	d, _ := Ready(model.PhaseContentScraping, statuses)
	assert.Equal(t, Wait, d)

	statuses[model.PhaseSERPCollection] = model.PhaseCompleted
	d, _ = Ready(model.PhaseContentScraping, statuses)
	assert.Equal(t, Start, d)
}

func TestReady_HardDependencyFailureBlocks(t *testing.T) {
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseSERPCollection:  model.PhaseFailed,
		model.PhaseContentScraping: model.PhasePending,
	}
	d, reason := Ready(model.PhaseContentScraping, statuses)
	assert.Equal(t, Blocked, d)
	assert.Contains(t, reason, string(model.PhaseSERPCollection))
}

func TestReady_SoftDependencyFailureDoesNotBlock(t *testing.T) {
	// keyword_metrics is a soft dependency of serp_collection.
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseKeywordMetrics: model.PhaseFailed,
		model.PhaseSERPCollection: model.PhasePending,
	}
	d, _ := Ready(model.PhaseSERPCollection, statuses)
	assert.Equal(t, Start, d)
}

func TestReady_SoftDependencyStillOrders(t *testing.T) {
	// A soft dependency delays start until the upstream is terminal.
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseKeywordMetrics: model.PhaseRunning,
		model.PhaseSERPCollection: model.PhasePending,
	}
	d, _ := Ready(model.PhaseSERPCollection, statuses)
	assert.Equal(t, Wait, d)
}

func TestReady_UnselectedDependencyIsSatisfied(t *testing.T) {
	// Partial run without serp_collection: content_scraping may start.
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseContentScraping: model.PhasePending,
	}
	d, _ := Ready(model.PhaseContentScraping, statuses)
	assert.Equal(t, Start, d)
}

func TestReady_SkippedCountsAsSatisfied(t *testing.T) {
	statuses := map[model.PhaseName]model.PhaseStatus{
		model.PhaseSERPCollection:  model.PhaseSkipped,
		model.PhaseContentScraping: model.PhasePending,
	}
	d, _ := Ready(model.PhaseContentScraping, statuses)
	assert.Equal(t, Start, d)
}

func TestDataGates_DownstreamPhasesRequireUpstreamRows(t *testing.T) {
	want := map[model.PhaseName]model.PhaseName{
		model.PhaseCompanyEnrichment: model.PhaseSERPCollection,
		model.PhaseVideoEnrichment:   model.PhaseSERPCollection,
		model.PhaseContentScraping:   model.PhaseSERPCollection,
		model.PhaseContentAnalysis:   model.PhaseContentScraping,
		model.PhaseDSICalculation:    model.PhaseContentAnalysis,
	}
	for phase, source := range want {
		checks := DataGates(phase)
		require.Len(t, checks, 1, "phase %s", phase)
		assert.Equal(t, source, checks[0].Source, "phase %s", phase)
		assert.Equal(t, 1, checks[0].Min, "phase %s", phase)
	}

	assert.Empty(t, DataGates(model.PhaseKeywordMetrics))
	assert.Empty(t, DataGates(model.PhaseHistoricalSnapshot))
}

func TestValidatePhases(t *testing.T) {
	assert.Error(t, ValidatePhases(nil))
	assert.Error(t, ValidatePhases([]model.PhaseName{"serp"}))
	assert.NoError(t, ValidatePhases([]model.PhaseName{model.PhaseSERPCollection}))
}
