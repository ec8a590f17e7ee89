package orchestrator

import (
	"fmt"
	"time"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Policy is the flexible completion rule for one phase. A phase may finish
// before every item is terminal: once the success ratio clears the threshold
// with enough absolute successes, or once the wall-clock budget runs out with
// at least one success, the phase is declared done.
type Policy struct {
	SuccessThreshold float64
	MinSuccesses     int
	Budget           time.Duration
}

// Verdict is the result of evaluating a Policy against phase progress.
type Verdict struct {
	Done    bool
	Success bool
	Reason  string
}

// Evaluate applies the policy. Skipped items never count against the ratio.
func (p Policy) Evaluate(prog model.Progress, elapsed time.Duration) Verdict {
	// A phase with nothing to do is trivially successful.
	if prog.Total == 0 {
		return Verdict{Done: true, Success: true, Reason: "no items enumerated"}
	}

	ratio := prog.SuccessRatio()
	thresholdMet := ratio >= p.SuccessThreshold && prog.Completed >= p.MinSuccesses

	if prog.AllTerminal() {
		if thresholdMet {
			return Verdict{Done: true, Success: true,
				Reason: fmt.Sprintf("all items terminal, success ratio %.2f", ratio)}
		}
		return Verdict{Done: true, Success: false,
			Reason: fmt.Sprintf("success ratio %.2f below threshold %.2f (completed %d, failed %d)",
				ratio, p.SuccessThreshold, prog.Completed, prog.Failed)}
	}

	if thresholdMet {
		return Verdict{Done: true, Success: true,
			Reason: fmt.Sprintf("success ratio %.2f cleared threshold with %d items outstanding",
				ratio, prog.Total-prog.TerminalCount())}
	}

	if p.Budget > 0 && elapsed >= p.Budget {
		if prog.Completed >= 1 {
			return Verdict{Done: true, Success: true,
				Reason: fmt.Sprintf("budget exhausted after %s with %d successes", elapsed.Round(time.Second), prog.Completed)}
		}
		return Verdict{Done: true, Success: false,
			Reason: fmt.Sprintf("budget exhausted after %s with no successes", elapsed.Round(time.Second))}
	}

	return Verdict{}
}
