package orchestrator

import (
	"github.com/rotisserie/eris"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/gate"
	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Dependency is one edge in the phase graph. A hard dependency blocks the
// dependent phase when the upstream fails; a soft dependency only delays it
// until the upstream is terminal, whatever the outcome.
type Dependency struct {
	On   model.PhaseName
	Soft bool
}

// phaseGraph is the static dependency structure of the nine pipeline phases.
// It never changes per execution; executions only choose which phases run.
var phaseGraph = map[model.PhaseName][]Dependency{
	model.PhaseKeywordMetrics: {},
	model.PhaseSERPCollection: {
		{On: model.PhaseKeywordMetrics, Soft: true},
	},
	model.PhaseCompanyEnrichment: {
		{On: model.PhaseSERPCollection},
	},
	model.PhaseVideoEnrichment: {
		{On: model.PhaseSERPCollection, Soft: true},
	},
	model.PhaseContentScraping: {
		{On: model.PhaseSERPCollection},
	},
	model.PhaseContentAnalysis: {
		{On: model.PhaseContentScraping},
		{On: model.PhaseCompanyEnrichment},
	},
	model.PhaseDSICalculation: {
		{On: model.PhaseContentAnalysis},
		{On: model.PhaseCompanyEnrichment},
	},
	model.PhaseHistoricalSnapshot: {
		{On: model.PhaseDSICalculation},
	},
	model.PhaseLandscapeCalculation: {
		{On: model.PhaseDSICalculation, Soft: true},
	},
}

// dataGates lists phases that require actual upstream output, not merely
// upstream completion. Enrichment, scraping, and the scoring phases must not
// burn provider quota when their upstream completed with zero results.
var dataGates = map[model.PhaseName][]gate.Check{
	model.PhaseCompanyEnrichment: {
		{Source: model.PhaseSERPCollection, Min: 1},
	},
	model.PhaseVideoEnrichment: {
		{Source: model.PhaseSERPCollection, Min: 1},
	},
	model.PhaseContentScraping: {
		{Source: model.PhaseSERPCollection, Min: 1},
	},
	model.PhaseContentAnalysis: {
		{Source: model.PhaseContentScraping, Min: 1},
	},
	model.PhaseDSICalculation: {
		{Source: model.PhaseContentAnalysis, Min: 1},
	},
}

// Dependencies returns the phase's dependency edges.
func Dependencies(p model.PhaseName) []Dependency {
	return phaseGraph[p]
}

// DataGates returns the phase's data-availability checks.
func DataGates(p model.PhaseName) []gate.Check {
	return dataGates[p]
}

// Ready decides whether a phase can start given the current statuses of the
// phases selected for this execution. It returns one of:
//
//	start:   all dependencies satisfied
//	wait:    some dependency is not terminal yet
//	blocked: a hard dependency failed or was blocked; reason explains which
//
// Dependencies on phases not selected for the execution are treated as
// satisfied, matching partial-pipeline runs.
func Ready(p model.PhaseName, statuses map[model.PhaseName]model.PhaseStatus) (Decision, string) {
	for _, dep := range Dependencies(p) {
		st, selected := statuses[dep.On]
		if !selected {
			continue
		}
		switch st {
		case model.PhaseCompleted, model.PhaseSkipped:
			continue
		case model.PhaseFailed, model.PhaseBlocked:
			if dep.Soft {
				continue
			}
			return Blocked, string(dep.On) + " did not complete"
		default:
			return Wait, ""
		}
	}
	return Start, ""
}

// Decision is the scheduling outcome for one phase.
type Decision int

const (
	Start Decision = iota
	Wait
	Blocked
)

// ValidatePhases checks a requested phase selection. Empty selections and
// unknown names are rejected; duplicates are collapsed by the caller.
func ValidatePhases(phases []model.PhaseName) error {
	if len(phases) == 0 {
		return eris.New("orchestrator: no phases selected")
	}
	for _, p := range phases {
		if !model.ValidPhase(p) {
			return eris.Errorf("orchestrator: unknown phase %q", p)
		}
	}
	return nil
}
