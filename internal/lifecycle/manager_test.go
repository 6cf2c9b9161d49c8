package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testManager(t *testing.T, db *store.DB) *Manager {
	t.Helper()
	return NewManager(db, config.Default().Tiers)
}

// seed creates an active record in the given tier, backdated by ageHours.
func seed(t *testing.T, db *store.DB, tier string, ageHours float64, usageSuccess float64) *store.MemoryRecord {
	t.Helper()
	r := &store.MemoryRecord{
		Content:      "seeded memory",
		Tier:         tier,
		UsageSuccess: usageSuccess,
	}
	if err := db.CreateRecord(r); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	createdAt := time.Now().Add(-time.Duration(ageHours * float64(time.Hour))).UnixMilli()
	if _, err := db.Exec(`UPDATE memories SET created_at = ? WHERE id = ?`, createdAt, r.RowID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	r.CreatedAt = createdAt
	return r
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name   string
		record store.MemoryRecord
		want   float64
	}{
		{
			name:   "all maxed",
			record: store.MemoryRecord{Confidence: 1, UsageCount: 10, UsageSuccess: 1, DecayScore: 1},
			want:   1.0,
		},
		{
			name:   "all zero",
			record: store.MemoryRecord{},
			want:   0.0,
		},
		{
			name:   "midpoint",
			record: store.MemoryRecord{Confidence: 0.5, UsageCount: 5, UsageSuccess: 0.5, DecayScore: 0.5},
			want:   0.25*0.5 + 0.20*0.5 + 0.35*0.5 + 0.20*0.5,
		},
		{
			name:   "usage saturates at 10",
			record: store.MemoryRecord{UsageCount: 1000},
			want:   0.20,
		},
		{
			name:   "out of range inputs clamped",
			record: store.MemoryRecord{Confidence: 3.5, UsageCount: -4, UsageSuccess: 2, DecayScore: -1},
			want:   0.25 + 0.35,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityScore(&tt.record)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("QualityScore = %f, want %f", got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("QualityScore = %f outside [0,1]", got)
			}
		})
	}
}

func TestAnalyzeWorkingAge(t *testing.T) {
	db := testDB(t)
	old := seed(t, db, store.TierWorking, 25, 0.5)
	seed(t, db, store.TierWorking, 1, 0.5)

	report, err := testManager(t, db).Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.WorkingPromote) != 1 {
		t.Fatalf("working promotions = %d, want 1", len(report.WorkingPromote))
	}
	mv := report.WorkingPromote[0]
	if mv.MemoryID != old.MemoryID {
		t.Errorf("selected %s, want the 25h-old record", mv.MemoryID)
	}
	if mv.Reason != ReasonAge {
		t.Errorf("reason = %q, want age", mv.Reason)
	}
	if mv.ToTier != store.TierShortTerm {
		t.Errorf("destination = %q, want short_term", mv.ToTier)
	}
	if report.DryRun != true {
		t.Error("Analyze must report as a dry run")
	}
}

func TestAnalyzeWorkingCapacity(t *testing.T) {
	db := testDB(t)

	cfg := config.Default().Tiers
	cfg.WorkingMaxItems = 2
	m := NewManager(db, cfg)

	oldest := seed(t, db, store.TierWorking, 12, 0.5)
	seed(t, db, store.TierWorking, 6, 0.5)
	seed(t, db, store.TierWorking, 1, 0.5)

	report, err := m.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.WorkingPromote) != 1 {
		t.Fatalf("working promotions = %d, want 1 capacity move", len(report.WorkingPromote))
	}
	mv := report.WorkingPromote[0]
	if mv.MemoryID != oldest.MemoryID {
		t.Error("capacity rule should pick the oldest record")
	}
	if mv.Reason != ReasonCapacity {
		t.Errorf("reason = %q, want capacity", mv.Reason)
	}
}

func TestAnalyzeAgeRuleWinsTie(t *testing.T) {
	db := testDB(t)

	cfg := config.Default().Tiers
	cfg.WorkingMaxItems = 1
	m := NewManager(db, cfg)

	// Over both the age limit and the item limit: reported once, as age.
	aged := seed(t, db, store.TierWorking, 30, 0.5)
	seed(t, db, store.TierWorking, 1, 0.5)

	report, err := m.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.WorkingPromote) != 1 {
		t.Fatalf("working promotions = %d, want 1 (no duplicate selection)", len(report.WorkingPromote))
	}
	if report.WorkingPromote[0].MemoryID != aged.MemoryID || report.WorkingPromote[0].Reason != ReasonAge {
		t.Errorf("move = %+v, want the aged record under the age rule", report.WorkingPromote[0])
	}
}

func TestAnalyzeShortTermRules(t *testing.T) {
	db := testDB(t)

	const tenDays = 10 * 24
	proven := seed(t, db, store.TierShortTerm, tenDays, 0.65)
	useless := seed(t, db, store.TierShortTerm, tenDays, 0.2)
	midband := seed(t, db, store.TierShortTerm, tenDays, 0.45)
	young := seed(t, db, store.TierShortTerm, 24, 0.9)

	report, err := testManager(t, db).Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(report.ShortTermPromote) != 1 || report.ShortTermPromote[0].MemoryID != proven.MemoryID {
		t.Errorf("promotions = %+v, want only the 0.65 record", report.ShortTermPromote)
	}
	if report.ShortTermPromote[0].Reason != ReasonQuality {
		t.Errorf("promotion reason = %q, want quality", report.ShortTermPromote[0].Reason)
	}
	if report.ShortTermPromote[0].ToTier != store.TierLongTerm {
		t.Errorf("destination = %q, want long_term", report.ShortTermPromote[0].ToTier)
	}

	if len(report.ShortTermDelete) != 1 || report.ShortTermDelete[0].MemoryID != useless.MemoryID {
		t.Errorf("deletions = %+v, want only the 0.2 record", report.ShortTermDelete)
	}

	// The grace band and young records stay put.
	for _, mv := range append(report.ShortTermPromote, report.ShortTermDelete...) {
		if mv.MemoryID == midband.MemoryID || mv.MemoryID == young.MemoryID {
			t.Errorf("record %s selected, want untouched", mv.MemoryID)
		}
	}
}

func TestAnalyzeShortTermCapacityByQuality(t *testing.T) {
	db := testDB(t)

	cfg := config.Default().Tiers
	cfg.ShortTermMaxItems = 2
	m := NewManager(db, cfg)

	// All young (no age rule). Capacity picks the highest quality, not
	// the oldest.
	best := seed(t, db, store.TierShortTerm, 48, 0.9)
	seed(t, db, store.TierShortTerm, 24, 0.4)
	seed(t, db, store.TierShortTerm, 12, 0.4)

	report, err := m.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.ShortTermPromote) != 1 {
		t.Fatalf("promotions = %d, want 1 capacity move", len(report.ShortTermPromote))
	}
	mv := report.ShortTermPromote[0]
	if mv.MemoryID != best.MemoryID {
		t.Error("capacity promotion should pick the highest-quality record")
	}
	if mv.Reason != ReasonCapacity {
		t.Errorf("reason = %q, want capacity", mv.Reason)
	}
}

func TestApplyMovesRecords(t *testing.T) {
	db := testDB(t)
	aged := seed(t, db, store.TierWorking, 25, 0.5)
	doomed := seed(t, db, store.TierShortTerm, 10*24, 0.1)
	m := testManager(t, db)

	report, err := m.Apply(context.Background(), false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Moved != 1 || report.Deleted != 1 {
		t.Errorf("moved %d, deleted %d; want 1 and 1", report.Moved, report.Deleted)
	}
	if report.Failed != 0 {
		t.Errorf("failed = %d: %v", report.Failed, report.Errors)
	}

	got, _ := db.GetRecord(aged.MemoryID)
	if got == nil || got.Tier != store.TierShortTerm {
		t.Error("aged record not promoted to short_term")
	}
	if gone, _ := db.GetRecord(doomed.MemoryID); gone != nil {
		t.Error("low-quality record still live after apply")
	}
	if report.After.Working != 0 || report.After.ShortTerm != 1 {
		t.Errorf("after counts = %+v", report.After)
	}

	// Compaction removed the soft-deleted source rows.
	if report.Compacted == 0 {
		t.Error("expected compaction of soft-deleted rows")
	}
}

func TestApplyIdempotent(t *testing.T) {
	db := testDB(t)
	seed(t, db, store.TierWorking, 25, 0.5)
	m := testManager(t, db)

	first, err := m.Apply(context.Background(), false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if first.Moved != 1 {
		t.Fatalf("first apply moved %d, want 1", first.Moved)
	}

	second, err := m.Apply(context.Background(), false)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if second.Moved != 0 || second.Deleted != 0 {
		t.Errorf("second apply moved %d, deleted %d; want no further churn", second.Moved, second.Deleted)
	}
}

func TestApplyDryRun(t *testing.T) {
	db := testDB(t)
	r := seed(t, db, store.TierWorking, 25, 0.5)
	m := testManager(t, db)

	report, err := m.Apply(context.Background(), true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !report.DryRun {
		t.Error("dry run not flagged")
	}
	if len(report.WorkingPromote) != 1 {
		t.Errorf("plan size = %d, want 1", len(report.WorkingPromote))
	}
	if report.After.Working != 0 || report.After.ShortTerm != 1 {
		t.Errorf("projected counts = %+v", report.After)
	}

	// Nothing actually moved.
	got, _ := db.GetRecord(r.MemoryID)
	if got == nil || got.Tier != store.TierWorking {
		t.Error("dry run wrote to the store")
	}
}

func TestRecomputeDecay(t *testing.T) {
	db := testDB(t)
	aged := seed(t, db, store.TierWorking, 10*24, 0.5) // decay e^(-0.1*10) ≈ 0.368
	fresh := seed(t, db, store.TierWorking, 0, 0.5)    // decay ≈ 1.0, within epsilon of stored 1.0
	m := testManager(t, db)

	report, err := m.RecomputeDecay(context.Background())
	if err != nil {
		t.Fatalf("RecomputeDecay: %v", err)
	}
	if report.Examined != 2 {
		t.Errorf("examined = %d, want 2", report.Examined)
	}
	if report.Updated != 1 {
		t.Errorf("updated = %d, want only the aged record", report.Updated)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want the fresh record (within epsilon)", report.Skipped)
	}

	got, _ := db.GetRecord(aged.MemoryID)
	if got.DecayScore > 0.4 || got.DecayScore < 0.3 {
		t.Errorf("aged decay score = %f, want ≈ 0.368", got.DecayScore)
	}
	got, _ = db.GetRecord(fresh.MemoryID)
	if got.DecayScore != 1.0 {
		t.Errorf("fresh decay score = %f, want unchanged 1.0", got.DecayScore)
	}
}

func TestRecomputeDecayPerTierRates(t *testing.T) {
	db := testDB(t)
	const twentyDays = 20 * 24
	working := seed(t, db, store.TierWorking, twentyDays, 0.5)
	longTerm := seed(t, db, store.TierLongTerm, twentyDays, 0.5)
	m := testManager(t, db)

	if _, err := m.RecomputeDecay(context.Background()); err != nil {
		t.Fatalf("RecomputeDecay: %v", err)
	}

	w, _ := db.GetRecord(working.MemoryID)
	l, _ := db.GetRecord(longTerm.MemoryID)
	if w.DecayScore >= l.DecayScore {
		t.Errorf("working decay %f >= long-term decay %f; working must forget faster", w.DecayScore, l.DecayScore)
	}
}

func TestApplyCancellation(t *testing.T) {
	db := testDB(t)
	seed(t, db, store.TierWorking, 25, 0.5)
	m := testManager(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := m.Apply(ctx, false)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if report != nil && report.Moved > 0 {
		t.Error("moves executed despite pre-cancelled context")
	}
}
