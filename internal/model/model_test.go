package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllPhases_ClosedEnumeration(t *testing.T) {
	phases := AllPhases()
	assert.Len(t, phases, 9)
	assert.Equal(t, PhaseKeywordMetrics, phases[0])
	assert.Equal(t, PhaseLandscapeCalculation, phases[8])

	for _, p := range phases {
		assert.True(t, ValidPhase(p))
	}
	assert.False(t, ValidPhase("serp"))
	assert.False(t, ValidPhase(""))
}

func TestStatusTerminality(t *testing.T) {
	assert.False(t, PhasePending.Terminal())
	assert.False(t, PhaseRunning.Terminal())
	assert.True(t, PhaseCompleted.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.True(t, PhaseSkipped.Terminal())
	assert.True(t, PhaseBlocked.Terminal())

	assert.False(t, ExecutionRunning.Terminal())
	assert.True(t, ExecutionPartiallyCompleted.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())

	assert.False(t, ItemProcessing.Terminal())
	assert.True(t, ItemSkipped.Terminal())
}

func TestProgress_SuccessRatioExcludesSkipped(t *testing.T) {
	p := Progress{Total: 20, Completed: 8, Failed: 2, Skipped: 10}
	assert.InDelta(t, 0.8, p.SuccessRatio(), 1e-9)
	assert.Equal(t, 20, p.TerminalCount())
	assert.True(t, p.AllTerminal())
}

func TestProgress_EmptyRatio(t *testing.T) {
	p := Progress{Total: 5, Pending: 5}
	assert.Zero(t, p.SuccessRatio())
	assert.False(t, p.AllTerminal())

	// A zero-item phase is never "all terminal"; completion policy decides.
	assert.False(t, Progress{}.AllTerminal())
}
