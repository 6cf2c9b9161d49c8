package lifecycle

import "github.com/lazypower/recall/internal/store"

// Quality weights. Success rate dominates: a memory that keeps proving
// useful outranks one that was merely extracted with high confidence.
const (
	weightConfidence = 0.25
	weightUsage      = 0.20
	weightSuccess    = 0.35
	weightDecay      = 0.20

	usageSaturation = 10 // usage counts past this stop adding signal
)

// QualityScore computes a record's composite quality in [0,1].
// Out-of-range inputs are clamped at the boundary rather than rejected.
func QualityScore(r *store.MemoryRecord) float64 {
	confidence := clamp01(r.Confidence)
	success := clamp01(r.UsageSuccess)
	decay := clamp01(r.DecayScore)

	usage := float64(r.UsageCount)
	if usage < 0 {
		usage = 0
	}
	if usage > usageSaturation {
		usage = usageSaturation
	}

	score := weightConfidence*confidence +
		weightUsage*usage/usageSaturation +
		weightSuccess*success +
		weightDecay*decay
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
