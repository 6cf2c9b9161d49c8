package resilience

import (
	"sync"
	"time"
)

// Limit is the per-operation call budget across three horizons.
type Limit struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string        // which limit tripped, empty when allowed
	RetryAfter time.Duration // hint; zero when allowed
}

// RateLimiterConfig controls burst allowance and cooldown behavior.
type RateLimiterConfig struct {
	// BurstMultiplier inflates the per-minute limit to absorb short bursts.
	// Default: 1.5
	BurstMultiplier float64

	// Cooldown is applied after a per-minute burst trip; all calls for the
	// operation are denied until it expires. Default: 60s
	Cooldown time.Duration
}

// DefaultRateLimiterConfig returns the standard limiter settings.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		BurstMultiplier: 1.5,
		Cooldown:        60 * time.Second,
	}
}

// RateLimiter enforces sliding-window admission control per operation.
// Operations without a configured limit are always admitted.
//
// Each operation has its own window and lock; checks on unrelated
// operations never contend.
type RateLimiter struct {
	cfg    RateLimiterConfig
	limits map[string]Limit

	mu      sync.Mutex // guards the windows map only
	windows map[string]*rateWindow
}

type rateWindow struct {
	mu            sync.Mutex
	calls         []time.Time
	cooldownUntil time.Time
	limited       int // count of denied calls
}

// NewRateLimiter creates a limiter for the given per-operation limits.
func NewRateLimiter(cfg RateLimiterConfig, limits map[string]Limit) *RateLimiter {
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = 1.5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	copied := make(map[string]Limit, len(limits))
	for op, l := range limits {
		copied[op] = l
	}
	return &RateLimiter{
		cfg:     cfg,
		limits:  copied,
		windows: make(map[string]*rateWindow),
	}
}

func (rl *RateLimiter) window(op string) *rateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[op]
	if !ok {
		w = &rateWindow{}
		rl.windows[op] = w
	}
	return w
}

// Check decides whether a call to the named operation is admitted.
// It does not record the call — call Record after a successful admission.
func (rl *RateLimiter) Check(op string) Decision {
	limit, ok := rl.limits[op]
	if !ok {
		return Decision{Allowed: true}
	}

	w := rl.window(op)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()

	if now.Before(w.cooldownUntil) {
		w.limited++
		return Decision{
			Reason:     "cooldown",
			RetryAfter: w.cooldownUntil.Sub(now),
		}
	}

	w.prune(now)
	minute := w.countSince(now.Add(-time.Minute))
	hour := w.countSince(now.Add(-time.Hour))
	day := len(w.calls)

	burstLimit := int(float64(limit.PerMinute) * rl.cfg.BurstMultiplier)
	if limit.PerMinute > 0 && minute >= burstLimit {
		w.cooldownUntil = now.Add(rl.cfg.Cooldown)
		w.limited++
		return Decision{Reason: "per-minute", RetryAfter: rl.cfg.Cooldown}
	}
	if limit.PerHour > 0 && hour >= limit.PerHour {
		w.limited++
		return Decision{Reason: "per-hour", RetryAfter: w.retryAfter(now, time.Hour)}
	}
	if limit.PerDay > 0 && day >= limit.PerDay {
		w.limited++
		return Decision{Reason: "per-day", RetryAfter: w.retryAfter(now, 24*time.Hour)}
	}

	return Decision{Allowed: true}
}

// Record appends the current timestamp to the operation's window.
// Call only after Check admitted the operation.
func (rl *RateLimiter) Record(op string) {
	if _, ok := rl.limits[op]; !ok {
		return
	}
	w := rl.window(op)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, time.Now())
}

// prune drops calls older than the longest tracked horizon (24h).
// Must be called with the window lock held.
func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(w.calls) && w.calls[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

func (w *rateWindow) countSince(cutoff time.Time) int {
	count := 0
	for i := len(w.calls) - 1; i >= 0; i-- {
		if w.calls[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// retryAfter estimates when the oldest call inside the horizon ages out.
// Must be called with the window lock held.
func (w *rateWindow) retryAfter(now time.Time, horizon time.Duration) time.Duration {
	cutoff := now.Add(-horizon)
	for _, t := range w.calls {
		if !t.Before(cutoff) {
			return t.Add(horizon).Sub(now)
		}
	}
	return horizon
}

// WindowStats is a point-in-time view of one operation's window.
type WindowStats struct {
	Minute         int           `json:"minute"`
	Hour           int           `json:"hour"`
	Day            int           `json:"day"`
	LimitedCalls   int           `json:"limited_calls"`
	CooldownActive bool          `json:"cooldown_active"`
	CooldownLeft   time.Duration `json:"cooldown_left,omitempty"`
}

// Stats returns current window statistics per configured operation.
func (rl *RateLimiter) Stats() map[string]WindowStats {
	rl.mu.Lock()
	names := make([]string, 0, len(rl.windows))
	for op := range rl.windows {
		names = append(names, op)
	}
	rl.mu.Unlock()

	now := time.Now()
	stats := make(map[string]WindowStats, len(names))
	for _, op := range names {
		w := rl.window(op)
		w.mu.Lock()
		w.prune(now)
		s := WindowStats{
			Minute:       w.countSince(now.Add(-time.Minute)),
			Hour:         w.countSince(now.Add(-time.Hour)),
			Day:          len(w.calls),
			LimitedCalls: w.limited,
		}
		if now.Before(w.cooldownUntil) {
			s.CooldownActive = true
			s.CooldownLeft = w.cooldownUntil.Sub(now)
		}
		w.mu.Unlock()
		stats[op] = s
	}
	return stats
}
