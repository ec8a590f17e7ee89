package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures; requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required before closing the circuit. Default: 1.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before transitioning
	// to half-open. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip optionally overrides the default check. If nil, every error
	// except degraded partial successes counts toward the failure threshold.
	ShouldTrip func(err error) bool

	// OnSnapshot, if non-nil, receives a durable record after every state
	// transition. Invoked on its own goroutine; must tolerate being called
	// out of order.
	OnSnapshot func(rec model.BreakerRecord)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for a single named
// downstream service.
type CircuitBreaker struct {
	service string
	cfg     CircuitBreakerConfig

	mu    sync.Mutex
	state CircuitState

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenProbes       int
	lastFailureTime      time.Time
	lastSuccessTime      time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named service.
func NewCircuitBreaker(service string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		service: service,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the circuit is open and the reset timeout has not elapsed; once it has,
// the circuit moves to half-open. Half-open admits a single trial at a time:
// concurrent callers are rejected until the in-flight probe reports a verdict.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
			cb.transition(CircuitHalfOpen)
			cb.halfOpenProbes = 1
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenProbes > 0 {
			return ErrCircuitOpen
		}
		cb.halfOpenProbes = 1
		return nil
	default:
		return nil
	}
}

// RecordSuccess notes a successful call, closing a half-open circuit once
// the success threshold is met.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastSuccessTime = cb.nowFunc()
	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenProbes = 0
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses = 0
			cb.transition(CircuitClosed)
		}
	case CircuitClosed:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure notes a failed call, opening the circuit at the failure
// threshold. Any half-open failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.halfOpenProbes = 0
		cb.transition(CircuitOpen)
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen without
// invoking fn when the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) record(err error) {
	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool {
			return e != nil && Classify(e) != CategoryDegraded
		}
	}
	if err == nil || !shouldTrip(err) {
		cb.RecordSuccess()
		return
	}
	cb.RecordFailure()
}

// State returns the current circuit state, accounting for an open circuit
// whose reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed. Useful for manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenProbes = 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Snapshot returns a durable record of the breaker for observability.
func (cb *CircuitBreaker) Snapshot() model.BreakerRecord {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

func (cb *CircuitBreaker) snapshotLocked() model.BreakerRecord {
	rec := model.BreakerRecord{
		Service:              cb.service,
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		FailureThreshold:     cb.cfg.FailureThreshold,
		SuccessThreshold:     cb.cfg.SuccessThreshold,
		ResetTimeoutSecs:     int(cb.cfg.ResetTimeout / time.Second),
		UpdatedAt:            cb.nowFunc().UTC(),
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime.UTC()
		rec.LastFailureAt = &t
	}
	if !cb.lastSuccessTime.IsZero() {
		t := cb.lastSuccessTime.UTC()
		rec.LastSuccessAt = &t
	}
	return rec
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	cb.state = to
	if cb.cfg.OnSnapshot != nil {
		rec := cb.snapshotLocked()
		go cb.cfg.OnSnapshot(rec)
	}
}

// ServiceBreakers manages circuit breakers for multiple downstream services.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-service circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for the named service, creating one if needed.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cb = NewCircuitBreaker(service, sb.cfg)
	sb.breakers[service] = cb
	return cb
}

// Snapshots returns durable records for all known breakers.
func (sb *ServiceBreakers) Snapshots() []model.BreakerRecord {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	recs := make([]model.BreakerRecord, 0, len(sb.breakers))
	for _, cb := range sb.breakers {
		recs = append(recs, cb.Snapshot())
	}
	return recs
}
