package lifecycle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/resilience"
)

// Scheduler drives the lifecycle manager on two independent cadences:
// tier promotion and decay recompute. Runs pass through the resilience
// coordinator under the maintenance capability, so a degraded system
// quietly skips its housekeeping.
type Scheduler struct {
	manager *Manager
	res     *resilience.Coordinator

	promotionInterval time.Duration
	decayInterval     time.Duration

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	promotionRuns int
	decayRuns     int
	lastPromotion time.Time
	lastDecay     time.Time
}

// NewScheduler creates a stopped scheduler. A nil coordinator means
// maintenance runs ungated.
func NewScheduler(manager *Manager, res *resilience.Coordinator, promotionInterval, decayInterval time.Duration) *Scheduler {
	return &Scheduler{
		manager:           manager,
		res:               res,
		promotionInterval: promotionInterval,
		decayInterval:     decayInterval,
	}
}

// Start launches both timers. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)
	go s.loop(s.promotionInterval, s.runPromotion)
	go s.loop(s.decayInterval, s.runDecay)

	log.Printf("scheduler: started (promotion every %s, decay every %s)",
		s.promotionInterval, s.decayInterval)
}

// Stop halts both timers and waits for any in-flight pass to reach its
// next cooperative checkpoint.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) loop(interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				run(ctx)
			}()
			select {
			case <-done:
				cancel()
			case <-stopCh:
				cancel()
				<-done
				return
			}
		}
	}
}

func (s *Scheduler) runPromotion(ctx context.Context) {
	report, err := s.TriggerPromotion(ctx)
	if err != nil {
		log.Printf("scheduler: promotion pass: %v", err)
		return
	}
	if report.Moved > 0 || report.Deleted > 0 || report.Failed > 0 {
		log.Printf("scheduler: promotion pass moved %d, deleted %d, failed %d",
			report.Moved, report.Deleted, report.Failed)
	}
}

func (s *Scheduler) runDecay(ctx context.Context) {
	report, err := s.TriggerDecay(ctx)
	if err != nil {
		log.Printf("scheduler: decay pass: %v", err)
		return
	}
	if report.Updated > 0 || report.Failed > 0 {
		log.Printf("scheduler: decay pass updated %d of %d, failed %d",
			report.Updated, report.Examined, report.Failed)
	}
}

// TriggerPromotion runs one promotion pass immediately.
func (s *Scheduler) TriggerPromotion(ctx context.Context) (*Report, error) {
	var report *Report
	err := s.guarded(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.manager.Apply(ctx, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.promotionRuns++
	s.lastPromotion = time.Now()
	s.mu.Unlock()
	return report, nil
}

// TriggerDecay runs one decay recompute pass immediately.
func (s *Scheduler) TriggerDecay(ctx context.Context) (*DecayReport, error) {
	var report *DecayReport
	err := s.guarded(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.manager.RecomputeDecay(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.decayRuns++
	s.lastDecay = time.Now()
	s.mu.Unlock()
	return report, nil
}

func (s *Scheduler) guarded(ctx context.Context, fn func(context.Context) error) error {
	if s.res == nil {
		return fn(ctx)
	}
	_, err := s.res.Execute(ctx, "lifecycle", resilience.ExecuteOptions{
		Capability: resilience.CapMaintenance,
		// A maintenance pass is already per-record fault tolerant;
		// rerunning a whole pass on error buys nothing.
		Retryable: func(error) bool { return false },
	}, fn)
	return err
}

// SchedulerStats reports timer activity for diagnostics.
type SchedulerStats struct {
	Running       bool      `json:"running"`
	PromotionRuns int       `json:"promotion_runs"`
	DecayRuns     int       `json:"decay_runs"`
	LastPromotion time.Time `json:"last_promotion,omitempty"`
	LastDecay     time.Time `json:"last_decay,omitempty"`
}

// Stats returns the scheduler's run counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Running:       s.running,
		PromotionRuns: s.promotionRuns,
		DecayRuns:     s.decayRuns,
		LastPromotion: s.lastPromotion,
		LastDecay:     s.lastDecay,
	}
}
