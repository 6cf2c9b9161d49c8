package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Admission and policy errors. These are decisions, not transient faults:
// callers must not retry them.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrCapabilityDisabled = errors.New("capability disabled at current degradation level")
)

// Config bundles the coordinator's subsystem settings.
type Config struct {
	RateLimiter RateLimiterConfig
	Limits      map[string]Limit
	Circuit     CircuitConfig
	Retry       RetryConfig

	// CriticalComponents force the emergency degradation level when
	// unhealthy. Typically the persistent store and configuration.
	CriticalComponents []string
}

// ExecuteOptions shapes a single guarded execution.
type ExecuteOptions struct {
	// Capability gates the operation against the degradation level.
	// Empty means ungated.
	Capability Capability

	// Retryable, if non-nil, marks which errors are worth retrying.
	Retryable func(error) bool
}

// Coordinator is the single entry point for guarded operations: admission
// control, circuit breaking, capability gating, and bounded retries, with
// outcomes fed back into breaker state and health tracking.
type Coordinator struct {
	limiter     *RateLimiter
	degradation *DegradationManager
	retry       RetryConfig
	circuitCfg  CircuitConfig

	mu       sync.Mutex // guards breakers map
	breakers map[string]*CircuitBreaker
}

// NewCoordinator wires the resilience subsystems together.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		limiter:     NewRateLimiter(cfg.RateLimiter, cfg.Limits),
		degradation: NewDegradationManager(cfg.CriticalComponents...),
		retry:       cfg.Retry,
		circuitCfg:  cfg.Circuit,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// CheckAdmission consults the rate limiter for the named operation.
func (c *Coordinator) CheckAdmission(op string) Decision {
	return c.limiter.Check(op)
}

// RecordCall records an admitted call against the operation's window.
func (c *Coordinator) RecordCall(op string) {
	c.limiter.Record(op)
}

// Breaker returns the circuit breaker for a component, creating it closed
// on first use.
func (c *Coordinator) Breaker(component string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[component]
	if !ok {
		cb = NewCircuitBreaker(component, c.circuitCfg)
		c.breakers[component] = cb
	}
	return cb
}

// Degradation exposes the degradation manager for capability checks.
func (c *Coordinator) Degradation() *DegradationManager {
	return c.degradation
}

// Execute runs fn guarded by component's circuit breaker, the current
// degradation level, and the retry handler. The breaker and health
// tracking see the final outcome, not individual attempts.
func (c *Coordinator) Execute(ctx context.Context, component string, opts ExecuteOptions, fn Operation) (RetryResult, error) {
	cb := c.Breaker(component)
	if !cb.Allow() {
		return RetryResult{}, fmt.Errorf("%s: %w", component, ErrCircuitOpen)
	}
	if opts.Capability != "" && !c.degradation.Allowed(opts.Capability) {
		return RetryResult{}, fmt.Errorf("%s (%s): %w", component, opts.Capability, ErrCapabilityDisabled)
	}

	result, err := Retry(ctx, c.retry, opts.Retryable, fn)
	if err != nil {
		cb.RecordFailure()
		c.degradation.ReportHealth(component, false)
		return result, err
	}

	cb.RecordSuccess()
	c.degradation.ReportHealth(component, true)
	return result, nil
}

// IsAdmissionError reports whether an error is a policy decision from the
// resilience layer rather than an operation failure.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrCapabilityDisabled)
}

// Stats aggregates every subsystem's statistics for diagnostics.
type Stats struct {
	RateLimits  map[string]WindowStats  `json:"rate_limits"`
	Circuits    map[string]CircuitStats `json:"circuits"`
	Degradation DegradationStats        `json:"degradation"`
	History     []Transition            `json:"history"`
}

// Stats returns a snapshot across all subsystems.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	circuits := make(map[string]CircuitStats, len(c.breakers))
	for name, cb := range c.breakers {
		circuits[name] = cb.Stats()
	}
	c.mu.Unlock()

	return Stats{
		RateLimits:  c.limiter.Stats(),
		Circuits:    circuits,
		Degradation: c.degradation.Stats(),
		History:     c.degradation.History(),
	}
}
