package lifecycle

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lazypower/recall/internal/store"
)

// DecayReport summarizes one decay recompute pass.
type DecayReport struct {
	Examined int           `json:"examined"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"` // within epsilon of the stored score
	Failed   int           `json:"failed"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// lambda returns the per-tier decay rate. Working memories fade fastest,
// long-term ones barely at all.
func (m *Manager) lambda(tier string) float64 {
	switch tier {
	case store.TierWorking:
		return m.cfg.WorkingDecayLambda
	case store.TierShortTerm:
		return m.cfg.ShortTermDecayLambda
	default:
		return m.cfg.LongTermDecayLambda
	}
}

// RecomputeDecay refreshes decay_score = e^(-lambda*ageDays) for every
// active record, persisting only scores that moved more than epsilon.
// Cancellable between records.
func (m *Manager) RecomputeDecay(ctx context.Context) (*DecayReport, error) {
	started := m.now()
	report := &DecayReport{}

	records, err := m.db.ListActive()
	if err != nil {
		return nil, fmt.Errorf("decay recompute: %w", err)
	}

	now := m.now()
	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r := &records[i]
		report.Examined++

		score := math.Exp(-m.lambda(r.Tier) * r.AgeDays(now))
		if math.Abs(score-r.DecayScore) <= m.cfg.DecayEpsilon {
			report.Skipped++
			continue
		}

		unlock := m.locks.lock(r.RowID)
		err := m.db.UpdateDecayScore(r.RowID, score)
		unlock()
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("decay %s: %v", r.MemoryID, err))
			log.Printf("lifecycle: decay %s: %v", r.MemoryID, err)
			continue
		}
		report.Updated++
	}

	report.Duration = m.now().Sub(started)
	return report, nil
}
