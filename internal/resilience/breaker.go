package resilience

import (
	"log"
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows calls through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all calls immediately.
	CircuitOpen

	// CircuitHalfOpen allows a limited number of trial calls.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitConfig configures breaker thresholds and timing.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenRequests is both the trial budget in half-open state and the
	// number of consecutive successes needed to close. Default: 3
	HalfOpenRequests int
}

// DefaultCircuitConfig returns the standard breaker settings.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// CircuitBreaker guards one component with the classic three-state pattern.
// A single failure while half-open reopens the circuit: a component that
// failed during probing waits out the full reset timeout again.
//
// Safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  CircuitConfig

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailure          time.Time
	lastTransition       time.Time
}

// NewCircuitBreaker creates a closed breaker for the named component.
func NewCircuitBreaker(name string, cfg CircuitConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 3
	}
	return &CircuitBreaker{
		name:           name,
		cfg:            cfg,
		state:          CircuitClosed,
		lastTransition: time.Now(),
	}
}

// Allow reports whether a call may proceed. An open circuit whose reset
// timeout has elapsed transitions to half-open and admits the call as the
// first trial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if now.Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
			cb.transition(CircuitHalfOpen, now)
			cb.halfOpenRequests = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenRequests < cb.cfg.HalfOpenRequests {
			cb.halfOpenRequests++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess notes a successful call. Enough consecutive successes in
// half-open state close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0

	case CircuitHalfOpen:
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		if cb.consecutiveSuccesses >= cb.cfg.HalfOpenRequests {
			cb.transition(CircuitClosed, time.Now())
		}
	}
}

// RecordFailure notes a failed call. Reaching the failure threshold opens
// the circuit; any failure while half-open reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastFailure = now

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen, now)
		}

	case CircuitHalfOpen:
		cb.transition(CircuitOpen, now)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitStats is a point-in-time view of one breaker.
type CircuitStats struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastTransition       time.Time `json:"last_transition"`
}

// Stats returns current breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitStats{
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastTransition:       cb.lastTransition,
	}
}

// transition changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState, now time.Time) {
	log.Printf("circuit %s: %s -> %s", cb.name, cb.state, to)
	cb.state = to
	cb.lastTransition = now
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0
	if to == CircuitClosed {
		cb.consecutiveFailures = 0
	}
}
