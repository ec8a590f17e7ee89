// Package gate implements data-availability checks that hold a phase back
// until its upstream phases have actually produced rows, not merely reported
// completion.
package gate

import (
	"context"
	"fmt"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Querier reports how much data a completed phase produced for an execution.
// The state tracker satisfies it.
type Querier interface {
	CompletedCount(ctx context.Context, executionID string, phase model.PhaseName) (int, error)
}

// Check is one data prerequisite: the Source phase must have at least Min
// completed items before the dependent phase may start.
type Check struct {
	Source model.PhaseName
	Min    int
}

// Evaluate runs the check. When it fails, reason explains what was missing so
// the blocked phase carries an actionable message.
func (c Check) Evaluate(ctx context.Context, q Querier, executionID string) (bool, string, error) {
	count, err := q.CompletedCount(ctx, executionID, c.Source)
	if err != nil {
		return false, "", err
	}
	if count < c.Min {
		return false, fmt.Sprintf("%s produced %d items, need at least %d", c.Source, count, c.Min), nil
	}
	return true, "", nil
}

// All evaluates every check in order and fails on the first unmet one.
func All(ctx context.Context, q Querier, executionID string, checks []Check) (bool, string, error) {
	for _, c := range checks {
		ok, reason, err := c.Evaluate(ctx, q, executionID)
		if err != nil || !ok {
			return ok, reason, err
		}
	}
	return true, "", nil
}
