package resilience

import (
	"testing"
	"time"
)

func testLimiter(cooldown time.Duration) *RateLimiter {
	return NewRateLimiter(
		RateLimiterConfig{BurstMultiplier: 1.5, Cooldown: cooldown},
		map[string]Limit{
			"op": {PerMinute: 4, PerHour: 100, PerDay: 1000},
		},
	)
}

func TestRateLimiterBurst(t *testing.T) {
	rl := testLimiter(time.Minute)

	// perMinute 4 × burst 1.5 = 6 admissions before the trip.
	for i := 1; i <= 6; i++ {
		d := rl.Check("op")
		if !d.Allowed {
			t.Fatalf("call %d denied: %s", i, d.Reason)
		}
		rl.Record("op")
	}

	d := rl.Check("op")
	if d.Allowed {
		t.Fatal("7th call allowed, want denial")
	}
	if d.Reason != "per-minute" {
		t.Errorf("reason = %q, want per-minute", d.Reason)
	}
	if d.RetryAfter <= 0 {
		t.Error("expected a retry-after hint")
	}
}

func TestRateLimiterCooldown(t *testing.T) {
	rl := testLimiter(50 * time.Millisecond)

	for i := 0; i < 6; i++ {
		rl.Check("op")
		rl.Record("op")
	}
	if d := rl.Check("op"); d.Allowed {
		t.Fatal("expected burst denial")
	}

	// Cooldown denies everything, even though calls are not recorded.
	if d := rl.Check("op"); d.Allowed {
		t.Fatal("expected cooldown denial")
	}

	time.Sleep(60 * time.Millisecond)

	// Cooldown expired; the minute window is still full, so denial
	// continues, but now on window grounds.
	d := rl.Check("op")
	if d.Allowed {
		t.Fatal("minute window should still deny")
	}

	stats := rl.Stats()
	if stats["op"].LimitedCalls == 0 {
		t.Error("limited counter not incremented")
	}
}

func TestRateLimiterUnknownOperation(t *testing.T) {
	rl := testLimiter(time.Minute)

	for i := 0; i < 100; i++ {
		if d := rl.Check("unconfigured"); !d.Allowed {
			t.Fatal("unknown operations must always be allowed")
		}
		rl.Record("unconfigured")
	}
}

func TestRateLimiterIndependentOperations(t *testing.T) {
	rl := NewRateLimiter(
		RateLimiterConfig{BurstMultiplier: 1.5, Cooldown: time.Minute},
		map[string]Limit{
			"a": {PerMinute: 2, PerHour: 100, PerDay: 1000},
			"b": {PerMinute: 100, PerHour: 1000, PerDay: 10000},
		},
	)

	for i := 0; i < 3; i++ {
		rl.Check("a")
		rl.Record("a")
	}
	if d := rl.Check("a"); d.Allowed {
		t.Fatal("op a should be limited")
	}
	if d := rl.Check("b"); !d.Allowed {
		t.Fatal("op b must not be affected by op a's limit")
	}
}
