package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// Static is a canned runner used by the dev worker command and tests. It
// serves a fixed item list and resolves each item through an optional outcome
// function.
type Static struct {
	ServiceName string
	Items       []model.Item

	// Outcome, when set, decides each item's result. A nil return means
	// success. When unset every item succeeds.
	Outcome func(item model.Item) error

	mu       sync.Mutex
	executed []string
}

// NewStatic creates a Static runner serving count synthetic items named
// item-0001 and so on.
func NewStatic(service string, count int) *Static {
	items := make([]model.Item, count)
	for i := range items {
		items[i] = model.Item{ItemID: fmt.Sprintf("item-%04d", i+1)}
	}
	return &Static{ServiceName: service, Items: items}
}

func (s *Static) Service() string { return s.ServiceName }

func (s *Static) Enumerate(_ context.Context, _ string) ([]model.Item, error) {
	out := make([]model.Item, len(s.Items))
	copy(out, s.Items)
	return out, nil
}

func (s *Static) Execute(_ context.Context, _ string, item model.Item) error {
	s.mu.Lock()
	s.executed = append(s.executed, item.ItemID)
	s.mu.Unlock()
	if s.Outcome != nil {
		return s.Outcome(item)
	}
	return nil
}

// Executed returns the item IDs processed so far, in call order.
func (s *Static) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.executed))
	copy(out, s.executed)
	return out
}
