package model

// PhaseName identifies one of the nine pipeline phases. The set is closed:
// configuration referring to any other name is rejected at startup.
type PhaseName string

const (
	PhaseKeywordMetrics       PhaseName = "keyword_metrics"
	PhaseSERPCollection       PhaseName = "serp_collection"
	PhaseCompanyEnrichment    PhaseName = "company_enrichment"
	PhaseVideoEnrichment      PhaseName = "video_enrichment"
	PhaseContentScraping      PhaseName = "content_scraping"
	PhaseContentAnalysis      PhaseName = "content_analysis"
	PhaseDSICalculation       PhaseName = "dsi_calculation"
	PhaseHistoricalSnapshot   PhaseName = "historical_snapshot"
	PhaseLandscapeCalculation PhaseName = "landscape_calculation"
)

// AllPhases returns the nine phases in topological order.
func AllPhases() []PhaseName {
	return []PhaseName{
		PhaseKeywordMetrics,
		PhaseSERPCollection,
		PhaseCompanyEnrichment,
		PhaseVideoEnrichment,
		PhaseContentScraping,
		PhaseContentAnalysis,
		PhaseDSICalculation,
		PhaseHistoricalSnapshot,
		PhaseLandscapeCalculation,
	}
}

// ValidPhase reports whether name is one of the nine known phases.
func ValidPhase(name PhaseName) bool {
	for _, p := range AllPhases() {
		if p == name {
			return true
		}
	}
	return false
}

// PhaseStatus is the lifecycle state of one (execution, phase) pair.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
	PhaseBlocked   PhaseStatus = "blocked"
)

// Terminal reports whether the status admits no further transitions.
func (s PhaseStatus) Terminal() bool {
	switch s {
	case PhaseCompleted, PhaseFailed, PhaseSkipped, PhaseBlocked:
		return true
	}
	return false
}
