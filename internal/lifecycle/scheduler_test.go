package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/resilience"
	"github.com/lazypower/recall/internal/store"
)

func testCoordinator() *resilience.Coordinator {
	return resilience.NewCoordinator(resilience.Config{
		RateLimiter:        resilience.DefaultRateLimiterConfig(),
		Circuit:            resilience.DefaultCircuitConfig(),
		Retry:              resilience.DefaultRetryConfig(),
		CriticalComponents: []string{"store"},
	})
}

func TestSchedulerTicks(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db)

	s := NewScheduler(m, nil, 20*time.Millisecond, 20*time.Millisecond)
	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	stats := s.Stats()
	if stats.PromotionRuns == 0 {
		t.Error("no promotion passes ran")
	}
	if stats.DecayRuns == 0 {
		t.Error("no decay passes ran")
	}
	if stats.Running {
		t.Error("stats report running after Stop")
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	db := testDB(t)
	s := NewScheduler(testManager(t, db), nil, time.Hour, time.Hour)

	s.Start()
	s.Start() // no-op
	s.Stop()
	s.Stop() // no-op
}

func TestManualTriggers(t *testing.T) {
	db := testDB(t)
	seed(t, db, store.TierWorking, 25, 0.5)
	s := NewScheduler(testManager(t, db), testCoordinator(), time.Hour, time.Hour)

	report, err := s.TriggerPromotion(context.Background())
	if err != nil {
		t.Fatalf("TriggerPromotion: %v", err)
	}
	if report.Moved != 1 {
		t.Errorf("moved = %d, want 1", report.Moved)
	}

	decay, err := s.TriggerDecay(context.Background())
	if err != nil {
		t.Fatalf("TriggerDecay: %v", err)
	}
	if decay.Examined == 0 {
		t.Error("decay pass examined nothing")
	}

	stats := s.Stats()
	if stats.PromotionRuns != 1 || stats.DecayRuns != 1 {
		t.Errorf("run counters = %+v", stats)
	}
}

func TestTriggerBlockedWhenDegraded(t *testing.T) {
	db := testDB(t)
	seed(t, db, store.TierWorking, 25, 0.5)

	res := testCoordinator()
	res.Degradation().ReportHealth("store", false) // emergency: maintenance off

	s := NewScheduler(testManager(t, db), res, time.Hour, time.Hour)

	_, err := s.TriggerPromotion(context.Background())
	if !errors.Is(err, resilience.ErrCapabilityDisabled) {
		t.Fatalf("err = %v, want ErrCapabilityDisabled", err)
	}

	// Nothing moved while gated.
	working, _, _, _ := db.TierCounts()
	if working != 1 {
		t.Errorf("working count = %d, want untouched 1", working)
	}
}
