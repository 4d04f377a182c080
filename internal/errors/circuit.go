package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is refused because the breaker is
// open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position in the closed -> open -> half-open cycle.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen refuses calls until the reset timeout passes.
	StateOpen
	// StateHalfOpen admits a single probe call after the timeout.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast against a model server that keeps erroring,
// instead of stacking retries onto a service that is already down. The
// cross-encoder and LLM tiers each hold one.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures open the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before a probe.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker creates a named breaker. Defaults: five failures open
// it, probes resume after thirty seconds.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the effective state, accounting for an elapsed reset
// timeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState()
}

// effectiveState must be called with the lock (read or write) held.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow reports whether a call would currently be admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState() != StateOpen
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (proceed, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		cb.state = StateHalfOpen
		return true, true
	default:
		return true, false
	}
}

// settle records the outcome of an admitted call. A failed probe reopens
// the circuit immediately regardless of the failure count.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	if probe || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.settle(false, nil)
}

// RecordFailure counts one failure, opening the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.settle(false, errors.New("recorded failure"))
}

// Execute runs fn through the breaker, returning ErrCircuitOpen without
// calling it when the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	proceed, probe := cb.admit()
	if !proceed {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(probe, err)
	return err
}

// CircuitExecuteWithResult runs fn through the breaker and routes to
// fallback both when the circuit is open and when an admitted call fails.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	proceed, probe := cb.admit()
	if !proceed {
		return fallback()
	}

	result, err := fn()
	cb.settle(probe, err)
	if err != nil {
		return fallback()
	}
	return result, nil
}
