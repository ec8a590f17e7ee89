// Package runner defines the per-phase work contract. The orchestrator is
// generic over it: a runner enumerates a phase's unit-of-work list and
// processes one item at a time, and never touches execution state itself.
package runner

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Runner implements one pipeline phase.
type Runner interface {
	// Service names the downstream dependency the phase calls, used to pick
	// the circuit breaker and rate lane. Phases without an external
	// dependency return a name of their own; they get a breaker that never
	// sees failures from anyone else.
	Service() string

	// Enumerate returns the phase's full unit-of-work list for an execution.
	// It must be deterministic for a given execution so that re-entry after
	// a crash reconstructs the same list.
	Enumerate(ctx context.Context, executionID string) ([]model.Item, error)

	// Execute processes a single item. Errors are classified by the caller;
	// return them unwrapped or wrapped with category constructors from the
	// resilience package.
	Execute(ctx context.Context, executionID string, item model.Item) error
}

// Registry maps phase names to their runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[model.PhaseName]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[model.PhaseName]Runner)}
}

// Register binds a runner to a phase. Registering a phase twice replaces the
// previous runner.
func (r *Registry) Register(phase model.PhaseName, run Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[phase] = run
}

// Get returns the runner for a phase.
func (r *Registry) Get(phase model.PhaseName) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runners[phase]
	if !ok {
		return nil, eris.Errorf("runner: no runner registered for phase %s", phase)
	}
	return run, nil
}

// Phases returns the registered phase names.
func (r *Registry) Phases() []model.PhaseName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PhaseName, 0, len(r.runners))
	for p := range r.runners {
		out = append(out, p)
	}
	return out
}
