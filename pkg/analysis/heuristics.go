package analysis

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ============================================================================
// Rule lexicons
// ============================================================================

// urgencyWords flag manufactured time pressure and outrage bait.
var urgencyWords = map[string]struct{}{
	"urgent": {}, "now": {}, "immediately": {}, "alert": {}, "warning": {},
	"critical": {}, "expose": {}, "truth": {}, "share": {}, "viral": {},
	"banned": {}, "censored": {}, "breaking": {}, "emergency": {},
	"must-see": {}, "shocking": {}, "revealed": {}, "hidden": {},
	"kill": {}, "murder": {}, "hit": {},
}

// valenceWords are emotional extremes, both directions.
var valenceWords = map[string]struct{}{
	"amazing": {}, "incredible": {}, "brilliant": {}, "genius": {}, "hero": {},
	"disaster": {}, "catastrophe": {}, "evil": {}, "corrupt": {},
	"traitor": {}, "fake": {},
}

// suspectPlatforms are distribution channels with weak provenance.
var suspectPlatforms = map[string]struct{}{
	"unknown-forum": {}, "darknet": {}, "anonymized-messaging": {},
	"telegram-channel": {},
}

var highRiskTags = map[string]struct{}{
	"election": {}, "extremism": {}, "disinfo-campaign": {}, "riot": {}, "leak": {},
}

var ctaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)click\s+(here|now|link)`),
	regexp.MustCompile(`(?i)sign\s+up`),
	regexp.MustCompile(`(?i)donate\s+(now|today)`),
	regexp.MustCompile(`(?i)forward\s+(this|to)`),
	regexp.MustCompile(`(?i)share\s+(this|now)`),
	regexp.MustCompile(`(?i)join\s+(us|today)`),
	regexp.MustCompile(`(?i)act\s+(now|fast)`),
	regexp.MustCompile(`(?i)read\s+(more|full)`),
}

var keywordPattern = regexp.MustCompile(`\b[a-z]{4,}\b`)

// ============================================================================
// Rule engine
// ============================================================================

// RuleEngine evaluates an intake and its feature vector against a fixed
// sequence of threshold rules. Each rule that fires appends exactly one
// finding; a subset of rules also contribute bounded increments to the
// behavioral risk score.
type RuleEngine struct {
	watchRegions map[string]struct{}
}

// NewRuleEngine builds an engine with the given geo watch-list. A nil or
// empty list disables the geo-risk rule.
func NewRuleEngine(watchRegions []string) *RuleEngine {
	regions := make(map[string]struct{}, len(watchRegions))
	for _, r := range watchRegions {
		regions[strings.ToUpper(strings.TrimSpace(r))] = struct{}{}
	}
	return &RuleEngine{watchRegions: regions}
}

// Evaluate runs all rules in a fixed order (linguistic, structural,
// platform/metadata, link count, then behavioral sub-signals) and returns
// the ordered findings plus the behavioral risk score in [0,1]. Findings
// are purely additive; nothing is ever retracted. Malformed or absent
// metadata never fails a rule.
func (e *RuleEngine) Evaluate(intake *Intake, fv FeatureVector) (findings []string, behavioral float64) {
	text := intake.Text

	// Linguistic rules.
	if fv[FeatRepetitionRate] > 0.12 {
		findings = append(findings, fmt.Sprintf(
			"Elevated trigram repetition (%.2f) suggests templated or machine-assisted drafting.", fv[FeatRepetitionRate]))
	}
	if fv[FeatEntropy] > 0 && fv[FeatEntropy] < 3.0 {
		findings = append(findings, fmt.Sprintf(
			"Low character entropy (%.2f) indicates an unusually uniform character distribution.", fv[FeatEntropy]))
	}
	if fv[FeatMATTR] > 0 && fv[FeatMATTR] < 0.45 {
		findings = append(findings, fmt.Sprintf(
			"Depressed lexical diversity (MATTR %.2f) is common in generated or copy-pasted text.", fv[FeatMATTR]))
	}

	// Structural rules.
	if fv[FeatPunctVariety] < 0.3 {
		findings = append(findings, fmt.Sprintf(
			"Narrow punctuation variety (%.2f) points to mechanical sentence construction.", fv[FeatPunctVariety]))
	}
	if fv[FeatVocabRichness] > 0 && fv[FeatVocabRichness] < 0.7 {
		findings = append(findings, fmt.Sprintf(
			"Concentrated vocabulary (richness %.2f) suggests a small recycled word set.", fv[FeatVocabRichness]))
	}
	if b := fv[FeatBurstiness]; b > 0 && (b < 0.15 || b > 0.85) {
		findings = append(findings, fmt.Sprintf(
			"Sentence-length burstiness (%.2f) is outside the typical human range.", b))
	}

	// Platform and metadata rules.
	platform := strings.ToLower(strings.TrimSpace(intake.Metadata.Platform))
	if _, ok := suspectPlatforms[platform]; ok {
		boost := 0.12
		if platform == "telegram-channel" {
			boost = 0.25
		}
		behavioral += boost
		findings = append(findings, fmt.Sprintf(
			"Distribution platform %q is on the low-provenance watch list (+%.2f behavioral risk).", platform, boost))
	}
	for _, tag := range intake.Tags {
		if _, ok := highRiskTags[strings.ToLower(strings.TrimSpace(tag))]; ok {
			findings = append(findings, fmt.Sprintf(
				"Topic tag %q matches a high-risk narrative category.", tag))
		}
	}

	// Link count rule.
	if links := strings.Count(strings.ToLower(text), "http"); links > 1 {
		findings = append(findings, fmt.Sprintf(
			"Multiple embedded links (%d) resemble amplification or phishing patterns.", links))
	}

	// Behavioral sub-signals.
	region := strings.ToUpper(strings.TrimSpace(intake.Metadata.Region))
	if _, ok := e.watchRegions[region]; ok {
		behavioral += 0.15
		findings = append(findings, fmt.Sprintf(
			"Declared region %s is on the geo-risk watch list.", region))
	}

	if emotional := emotionalScore(text); emotional > 0.06 {
		behavioral += emotional
		findings = append(findings, fmt.Sprintf(
			"Emotional manipulation density %.2f (urgency terms, valence extremes, exclamation pressure).", emotional))
	}

	if hits := countCTAMatches(text); hits > 0 {
		boost := math.Min(float64(hits)*0.1, 0.2)
		behavioral += boost
		findings = append(findings, fmt.Sprintf(
			"%d call-to-action phrases detected (+%.2f behavioral risk).", hits, boost))
	}

	if ratio := fv[FeatUppercaseRatio]; ratio > 0.08 {
		boost := math.Min(ratio*2.5, 0.15)
		behavioral += boost
		findings = append(findings, fmt.Sprintf(
			"Aggressive uppercase formatting (%.0f%% of tokens).", ratio*100))
	}

	if drifted, overlap := coherenceDrift(text); drifted {
		behavioral += 0.1
		findings = append(findings, fmt.Sprintf(
			"Low narrative coherence (mean sentence keyword overlap %.2f) suggests stitched-together content.", overlap))
	}

	// Floor once anything fired, then a length-aware ceiling so short
	// texts cannot reach extreme behavioral scores.
	if behavioral > 0 {
		behavioral = math.Max(behavioral, 0.1)
	}
	ceiling := math.Min(0.9, 0.55+float64(len(text))/900.0)
	behavioral = math.Min(behavioral, ceiling)

	return findings, behavioral
}

// emotionalScore combines urgency hits, valence hits and terminal
// punctuation pressure into a length-normalized score capped at 0.25.
// Each lexicon term counts once however often it repeats; repetition is
// the repetition-rate feature's job.
func emotionalScore(text string) float64 {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{})
	hits := 0.0
	for _, tok := range Tokenize(lower) {
		if _, dup := seen[tok]; dup {
			continue
		}
		_, urgent := urgencyWords[tok]
		_, valent := valenceWords[tok]
		if urgent || valent {
			seen[tok] = struct{}{}
			hits++
		}
	}
	marks := float64(strings.Count(text, "!") + strings.Count(text, "?"))
	lengthNorm := math.Max(float64(len(text))/120.0, 1.0)
	return math.Min((hits+marks/4.0)/lengthNorm, 0.25)
}

// countCTAMatches counts how many distinct call-to-action patterns occur;
// a phrase repeated ten times is still one pattern.
func countCTAMatches(text string) int {
	hits := 0
	for _, p := range ctaPatterns {
		if p.MatchString(text) {
			hits++
		}
	}
	return hits
}

// coherenceDrift measures topic drift for texts with more than three
// sentences: mean pairwise keyword overlap below 0.35 counts as drift.
func coherenceDrift(text string) (bool, float64) {
	var sentences []string
	for _, s := range regexp.MustCompile(`[.!?]+`).Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) <= 3 {
		return false, 0
	}
	keywordSets := make([]map[string]struct{}, len(sentences))
	for i, s := range sentences {
		set := make(map[string]struct{})
		for _, k := range keywordPattern.FindAllString(strings.ToLower(s), -1) {
			set[k] = struct{}{}
		}
		keywordSets[i] = set
	}
	var total float64
	var pairs int
	for i := 0; i < len(keywordSets); i++ {
		for j := i + 1; j < len(keywordSets); j++ {
			total += keywordOverlap(keywordSets[i], keywordSets[j])
			pairs++
		}
	}
	if pairs == 0 {
		return false, 0
	}
	mean := total / float64(pairs)
	return mean < 0.35, mean
}

func keywordOverlap(a, b map[string]struct{}) float64 {
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(denom)
}
