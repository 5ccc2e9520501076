// Package signal defines the pluggable external risk provider contract and
// the HTTP-backed providers shipped with the gateway: semantic risk
// assessment, harm safety, and AI-generation detection. Providers are
// best-effort; a nil result means the signal is absent for this intake and
// the fusion blender redistributes its weight.
package signal

import "context"

// Class identifies which scoring layer produced a signal. The stylometric
// and behavioral classes are computed locally; the rest come from
// providers.
type Class string

const (
	ClassStylometric Class = "stylometric"
	ClassBehavioral  Class = "behavioral"
	ClassGeneration  Class = "ai_generation" // AI-generation probability detector
	ClassSemantic    Class = "semantic_risk" // LLM semantic risk assessment
	ClassSafety      Class = "harm_safety"   // Harm/abuse category classifier
)

// Classes lists the provider-backed classes in their fixed reporting
// order. Findings and breakdown entries follow this order so output stays
// deterministic regardless of which provider answers first.
var Classes = []Class{ClassSemantic, ClassSafety, ClassGeneration}

// NominalWeight returns the fixed fusion weight for a signal class. The
// weights sum to 1.0 across all five classes; when a provider is absent
// the blender rescales by the weight actually used.
func NominalWeight(class Class) float64 {
	switch class {
	case ClassStylometric:
		return 0.05
	case ClassBehavioral:
		return 0.10
	case ClassGeneration:
		return 0.20
	case ClassSemantic:
		return 0.40
	case ClassSafety:
		return 0.25
	default:
		return 0
	}
}

// Context carries the intake metadata a provider may fold into its
// assessment. All fields are optional.
type Context struct {
	Platform string
	Region   string
	Source   string
}

// Result is one provider's assessment of a text. Score and Confidence are
// in [0,1]. Absence of a Result is distinct from a zero score and must
// never be collapsed into one.
type Result struct {
	Class      Class          `json:"class"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Label      string         `json:"label,omitempty"`
	Reasons    []string       `json:"reasons,omitempty"`
	LatencyMs  float64        `json:"latency_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AddReason appends a reason to the result.
func (r *Result) AddReason(reason string) {
	r.Reasons = append(r.Reasons, reason)
}

// SetMetadata sets a metadata key-value pair.
func (r *Result) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Provider is a pluggable external scorer. Assess returns (nil, err) on
// transient failure and may return (nil, nil) when the provider cannot
// score the given text; both are treated as "signal absent" by the
// pipeline, never as zero. Implementations must honor ctx cancellation.
type Provider interface {
	Class() Class
	Assess(ctx context.Context, text string, sctx Context) (*Result, error)
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
