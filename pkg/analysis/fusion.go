package analysis

import (
	"sort"

	"github.com/PalisadeIntel/palisade/pkg/signal"
)

// Risk tiers, ordered. Boundaries are inclusive on the lower end of each
// band; identical composites always classify identically.
const (
	TierLow      = "low-risk"
	TierMedium   = "medium-risk"
	TierHigh     = "high-risk"
	TierCritical = "critical-risk"
)

const (
	criticalThreshold = 0.75
	highThreshold     = 0.60
	mediumThreshold   = 0.35
)

// Breakdown records how the composite was assembled: the two local scores,
// each present provider's contribution, which providers were unavailable,
// and the weight mass actually used before redistribution.
type Breakdown struct {
	StylometricScore   float64            `json:"stylometric_score"`
	BehavioralScore    float64            `json:"behavioral_score"`
	SignalScores       map[string]float64 `json:"signal_scores,omitempty"`
	SignalConfidence   map[string]float64 `json:"signal_confidence,omitempty"`
	UnavailableSignals []string           `json:"unavailable_signals,omitempty"`
	WeightUsed         float64            `json:"weight_used"`
	Composite          float64            `json:"composite"`
}

// Blend fuses the stylometric probability, the behavioral score, and any
// present provider results into one composite in [0,1]. Every present
// signal contributes score times its nominal weight; if the present
// weights sum below 1.0 the raw sum is rescaled by 1/weightUsed so the
// composite stays comparable however many providers answered. The two
// local signals are always present.
func Blend(stylometric, behavioral float64, signals map[signal.Class]*signal.Result) *Breakdown {
	bd := &Breakdown{
		StylometricScore: clamp01(stylometric),
		BehavioralScore:  clamp01(behavioral),
		SignalScores:     make(map[string]float64),
		SignalConfidence: make(map[string]float64),
	}

	weighted := bd.StylometricScore * signal.NominalWeight(signal.ClassStylometric)
	weightUsed := signal.NominalWeight(signal.ClassStylometric)
	weighted += bd.BehavioralScore * signal.NominalWeight(signal.ClassBehavioral)
	weightUsed += signal.NominalWeight(signal.ClassBehavioral)

	for _, class := range signal.Classes {
		res, ok := signals[class]
		if !ok || res == nil {
			bd.UnavailableSignals = append(bd.UnavailableSignals, string(class))
			continue
		}
		score := clamp01(res.Score)
		bd.SignalScores[string(class)] = score
		bd.SignalConfidence[string(class)] = clamp01(res.Confidence)
		weighted += score * signal.NominalWeight(class)
		weightUsed += signal.NominalWeight(class)
	}
	sort.Strings(bd.UnavailableSignals)

	composite := weighted
	if weightUsed > 0 && weightUsed < 1.0 {
		composite *= 1.0 / weightUsed
	}
	bd.WeightUsed = weightUsed
	bd.Composite = clamp01(composite)
	return bd
}

// Classify maps a composite score to its risk tier. Pure step function,
// no hysteresis.
func Classify(composite float64) string {
	switch {
	case composite >= criticalThreshold:
		return TierCritical
	case composite >= highThreshold:
		return TierHigh
	case composite >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// TierRank returns the ordinal position of a tier, low to critical.
// Unknown tiers rank lowest.
func TierRank(tier string) int {
	switch tier {
	case TierCritical:
		return 3
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}
