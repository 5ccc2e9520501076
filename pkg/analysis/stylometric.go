package analysis

import (
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StylometricModel is a logistic model over normalized features estimating
// machine-generation likelihood from writing style alone. Weights and bias
// can be overridden from a YAML file; unknown feature names in the file are
// rejected so typos don't silently zero a weight.
type StylometricModel struct {
	Weights map[string]float64
	Bias    float64
}

// DefaultStylometricModel returns the built-in weights. Positive weights
// push toward machine-generated, negative toward human-written.
func DefaultStylometricModel() *StylometricModel {
	return &StylometricModel{
		Weights: map[string]float64{
			FeatAvgTokenLength: 0.4,
			FeatMATTR:          -1.2,
			FeatSentenceLenVar: 0.9,
			FeatBurstiness:     1.1,
			FeatEntropy:        -1.5,
			FeatRepetitionRate: 2.0,
			FeatPunctVariety:   0.7,
			FeatReadability:    -0.5,
			FeatVocabRichness:  -0.8,
			FeatUppercaseRatio: 0.5,
		},
		Bias: -0.25,
	}
}

// weightsFile is the on-disk YAML shape for weight overrides.
type weightsFile struct {
	Weights map[string]float64 `yaml:"weights"`
	Bias    *float64           `yaml:"bias"`
}

// LoadStylometricModel returns the default model overlaid with any weights
// found at path. An empty path, a missing file, or a malformed file falls
// back to the defaults with a warning; the model never fails to load.
func LoadStylometricModel(path string) *StylometricModel {
	model := DefaultStylometricModel()
	if path == "" {
		return model
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[WARN] Stylometric weights file %s not readable, using defaults: %v", path, err)
		return model
	}
	var wf weightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		log.Printf("[WARN] Stylometric weights file %s not parseable, using defaults: %v", path, err)
		return model
	}
	if err := model.apply(&wf); err != nil {
		log.Printf("[WARN] Stylometric weights file %s rejected, using defaults: %v", path, err)
		return DefaultStylometricModel()
	}
	log.Printf("[STARTUP] Loaded stylometric weight overrides from %s", path)
	return model
}

func (m *StylometricModel) apply(wf *weightsFile) error {
	for name, w := range wf.Weights {
		if _, ok := m.Weights[name]; !ok {
			return fmt.Errorf("unknown feature %q", name)
		}
		m.Weights[name] = w
	}
	if wf.Bias != nil {
		m.Bias = *wf.Bias
	}
	return nil
}

// Probability runs the logistic model over the normalized feature vector
// and returns a score in (0,1).
func (m *StylometricModel) Probability(fv FeatureVector) float64 {
	normalized := NormalizeFeatures(fv)
	score := m.Bias
	// Sum in sorted key order: map iteration order would otherwise vary the
	// float accumulation order between calls, breaking determinism.
	names := make([]string, 0, len(m.Weights))
	for name := range m.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		score += m.Weights[name] * normalized[name]
	}
	return sigmoid(score)
}

// NormalizeFeatures maps raw feature statistics into [0,1] so the model's
// weights operate on a common scale. Each feature has its own squash:
// ratios already in [0,1] pass through, unbounded statistics are divided
// by a reference ceiling and capped.
func NormalizeFeatures(fv FeatureVector) FeatureVector {
	out := make(FeatureVector, len(fv))
	for name, v := range fv {
		switch name {
		case FeatAvgTokenLength:
			out[name] = capAt(v/8.0, 1.0)
		case FeatSentenceLenVar:
			out[name] = centeredSigmoid(v/50.0, 2.0)
		case FeatFunctionWords:
			out[name] = capAt(v*2.0, 1.0)
		case FeatUppercaseRatio:
			out[name] = capAt(v*3.0, 1.0)
		case FeatRepetitionRate:
			out[name] = capAt(v*5.0, 1.0)
		case FeatEntropy:
			out[name] = capAt(v/5.0, 1.0)
		case FeatReadability:
			out[name] = capAt(v/20.0, 1.0)
		default:
			out[name] = clamp01(v)
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// centeredSigmoid squashes x around 0.5 with the given steepness, so mid
// range values map near 0.5 and extremes saturate smoothly.
func centeredSigmoid(x, scale float64) float64 {
	return 1.0 / (1.0 + math.Exp(-scale*(x-0.5)))
}

func capAt(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
