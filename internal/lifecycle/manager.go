package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

// Move reasons reported by Analyze.
const (
	ReasonAge      = "age"
	ReasonQuality  = "quality"
	ReasonCapacity = "capacity"
)

// Move is one planned tier transition.
type Move struct {
	RowID    int64   `json:"-"`
	MemoryID string  `json:"memory_id"`
	FromTier string  `json:"from_tier"`
	ToTier   string  `json:"to_tier"`
	Reason   string  `json:"reason"`
	Quality  float64 `json:"quality"`
	AgeDays  float64 `json:"age_days"`
}

// TierCounts is an active-record census across the three tiers.
type TierCounts struct {
	Working   int `json:"working"`
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
}

// Report describes a lifecycle pass: what would move (Analyze) or what
// did move (Apply).
type Report struct {
	DryRun bool `json:"dry_run"`

	Before TierCounts `json:"before"`
	After  TierCounts `json:"after"`

	WorkingPromote   []Move `json:"working_promote,omitempty"`
	ShortTermPromote []Move `json:"short_term_promote,omitempty"`
	ShortTermDelete  []Move `json:"short_term_delete,omitempty"`

	Moved     int      `json:"moved"`
	Deleted   int      `json:"deleted"`
	Compacted int      `json:"compacted"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Manager scores records and shepherds them between tiers. One Apply
// runs at a time; decay writes and tier moves on the same record are
// serialized through a shared per-record lock set.
type Manager struct {
	db    *store.DB
	cfg   config.TierConfig
	locks *recordLocks

	applyMu sync.Mutex

	now func() time.Time // swapped in tests
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(db *store.DB, cfg config.TierConfig) *Manager {
	return &Manager{
		db:    db,
		cfg:   cfg,
		locks: newRecordLocks(),
		now:   time.Now,
	}
}

// Analyze computes the full promotion/eviction plan without touching
// the store.
func (m *Manager) Analyze(ctx context.Context) (*Report, error) {
	started := m.now()
	report := &Report{DryRun: true}

	w, s, l, err := m.db.TierCounts()
	if err != nil {
		return nil, fmt.Errorf("lifecycle analyze: %w", err)
	}
	report.Before = TierCounts{Working: w, ShortTerm: s, LongTerm: l}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := m.planWorking(report); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.planShortTerm(report); err != nil {
		return nil, err
	}

	report.After = projectCounts(report)
	report.Duration = m.now().Sub(started)
	return report, nil
}

// planWorking selects working-tier records for promotion: first every
// record past max age, then the oldest of the remainder until the tier
// fits its item budget. A record eligible both ways is reported once,
// under the age rule.
func (m *Manager) planWorking(report *Report) error {
	records, err := m.db.ListTier(store.TierWorking)
	if err != nil {
		return fmt.Errorf("plan working tier: %w", err)
	}

	now := m.now()
	maxAge := float64(m.cfg.WorkingMaxAgeHours) / 24
	selected := make(map[int64]bool)

	for i := range records {
		r := &records[i]
		if r.AgeDays(now) > maxAge {
			report.WorkingPromote = append(report.WorkingPromote, planMove(r, store.TierShortTerm, ReasonAge, now))
			selected[r.RowID] = true
		}
	}

	// ListTier returns oldest first, so a forward scan picks the
	// capacity victims in creation order.
	remaining := len(records) - len(selected)
	if m.cfg.WorkingMaxItems > 0 && remaining > m.cfg.WorkingMaxItems {
		excess := remaining - m.cfg.WorkingMaxItems
		for i := range records {
			if excess == 0 {
				break
			}
			r := &records[i]
			if selected[r.RowID] {
				continue
			}
			report.WorkingPromote = append(report.WorkingPromote, planMove(r, store.TierShortTerm, ReasonCapacity, now))
			selected[r.RowID] = true
			excess--
		}
	}
	return nil
}

// planShortTerm splits aged short-term records into promotions (proven
// useful), deletions (proven useless), and a grace band in between that
// stays put. Capacity overflow then promotes the best of what's left.
func (m *Manager) planShortTerm(report *Report) error {
	records, err := m.db.ListTier(store.TierShortTerm)
	if err != nil {
		return fmt.Errorf("plan short-term tier: %w", err)
	}

	now := m.now()
	maxAge := float64(m.cfg.ShortTermMaxAgeDays)
	selected := make(map[int64]bool)

	for i := range records {
		r := &records[i]
		if r.AgeDays(now) <= maxAge {
			continue
		}
		switch {
		case r.UsageSuccess >= m.cfg.PromoteThreshold:
			report.ShortTermPromote = append(report.ShortTermPromote, planMove(r, store.TierLongTerm, ReasonQuality, now))
			selected[r.RowID] = true
		case r.UsageSuccess < m.cfg.DeleteThreshold:
			report.ShortTermDelete = append(report.ShortTermDelete, planMove(r, "", ReasonQuality, now))
			selected[r.RowID] = true
		}
		// Between the thresholds: the grace band, left alone.
	}

	remaining := len(records) - len(selected)
	if m.cfg.ShortTermMaxItems > 0 && remaining > m.cfg.ShortTermMaxItems {
		excess := remaining - m.cfg.ShortTermMaxItems

		// Capacity promotion picks by quality, not age.
		var candidates []*store.MemoryRecord
		for i := range records {
			if !selected[records[i].RowID] {
				candidates = append(candidates, &records[i])
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return QualityScore(candidates[i]) > QualityScore(candidates[j])
		})
		for _, r := range candidates[:excess] {
			report.ShortTermPromote = append(report.ShortTermPromote, planMove(r, store.TierLongTerm, ReasonCapacity, now))
		}
	}
	return nil
}

func planMove(r *store.MemoryRecord, toTier, reason string, now time.Time) Move {
	return Move{
		RowID:    r.RowID,
		MemoryID: r.MemoryID,
		FromTier: r.Tier,
		ToTier:   toTier,
		Reason:   reason,
		Quality:  QualityScore(r),
		AgeDays:  r.AgeDays(now),
	}
}

// projectCounts predicts post-apply tier counts from the plan.
func projectCounts(report *Report) TierCounts {
	after := report.Before
	after.Working -= len(report.WorkingPromote)
	after.ShortTerm += len(report.WorkingPromote) - len(report.ShortTermPromote) - len(report.ShortTermDelete)
	after.LongTerm += len(report.ShortTermPromote)
	return after
}

// Apply executes the current plan: working promotions first, then
// short-term promotions, then deletions, then compaction of the touched
// tiers. Each record is independently fault-tolerant; one failed move is
// logged into the report and the batch continues. With dryRun the plan
// is returned untouched.
func (m *Manager) Apply(ctx context.Context, dryRun bool) (*Report, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	started := m.now()
	report, err := m.Analyze(ctx)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return report, nil
	}
	report.DryRun = false

	m.applyMoves(ctx, report, report.WorkingPromote)
	m.applyMoves(ctx, report, report.ShortTermPromote)

	for _, d := range report.ShortTermDelete {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		unlock := m.locks.lock(d.RowID)
		err := m.db.SoftDelete(d.RowID)
		unlock()
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("delete %s: %v", d.MemoryID, err))
			log.Printf("lifecycle: delete %s: %v", d.MemoryID, err)
			continue
		}
		report.Deleted++
	}

	// Moves and deletes soft-delete rows in their source tiers; reclaim
	// the space now.
	for _, tier := range []string{store.TierWorking, store.TierShortTerm} {
		n, err := m.db.CompactTier(tier)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("compact %s: %v", tier, err))
			log.Printf("lifecycle: compact %s: %v", tier, err)
			continue
		}
		report.Compacted += n
	}

	w, s, l, err := m.db.TierCounts()
	if err != nil {
		return report, fmt.Errorf("lifecycle apply: recount: %w", err)
	}
	report.After = TierCounts{Working: w, ShortTerm: s, LongTerm: l}
	report.Duration = m.now().Sub(started)

	log.Printf("lifecycle: moved %d, deleted %d, compacted %d, failed %d",
		report.Moved, report.Deleted, report.Compacted, report.Failed)
	return report, nil
}

func (m *Manager) applyMoves(ctx context.Context, report *Report, moves []Move) {
	for _, mv := range moves {
		if err := ctx.Err(); err != nil {
			return
		}
		unlock := m.locks.lock(mv.RowID)
		_, err := m.db.MoveRecord(mv.RowID, mv.ToTier)
		unlock()
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("move %s to %s: %v", mv.MemoryID, mv.ToTier, err))
			log.Printf("lifecycle: move %s to %s: %v", mv.MemoryID, mv.ToTier, err)
			continue
		}
		report.Moved++
	}
}

// recordLocks hands out one mutex per record row id so a decay write and
// a tier move on the same record can't interleave. Different records
// proceed concurrently.
type recordLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *recordLocks) lock(rowID int64) (unlock func()) {
	l.mu.Lock()
	rec, ok := l.locks[rowID]
	if !ok {
		rec = &sync.Mutex{}
		l.locks[rowID] = rec
	}
	l.mu.Unlock()

	rec.Lock()
	return rec.Unlock
}
