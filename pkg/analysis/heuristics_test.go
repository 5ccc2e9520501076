package analysis

import (
	"strings"
	"testing"
)

func defaultEngine() *RuleEngine {
	return NewRuleEngine([]string{"RU", "IR", "KP", "CN"})
}

func TestEvaluate_UrgencyScenario(t *testing.T) {
	engine := defaultEngine()
	intake := &Intake{
		Text: "URGENT!!! Click here now to expose the TRUTH before it's banned!!!",
		Metadata: SourceMetadata{
			Platform: "telegram-channel",
			Region:   "US",
		},
	}
	fv := ExtractFeatures(intake.Text)
	findings, behavioral := engine.Evaluate(intake, fv)

	if len(findings) < 3 {
		t.Fatalf("expected multiple findings, got %d: %v", len(findings), findings)
	}
	if behavioral <= 0.1 {
		t.Errorf("behavioral = %.3f, want above the 0.1 floor", behavioral)
	}
	if behavioral > 0.9 {
		t.Errorf("behavioral = %.3f, want under the global ceiling", behavioral)
	}

	wantFragments := []string{"telegram-channel", "call-to-action", "Emotional manipulation"}
	for _, frag := range wantFragments {
		found := false
		for _, f := range findings {
			if strings.Contains(f, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no finding mentions %q in %v", frag, findings)
		}
	}
}

func TestEvaluate_NeutralText(t *testing.T) {
	engine := defaultEngine()
	intake := &Intake{
		Text: "The committee reviewed the quarterly budget figures on Tuesday. Members discussed several routine procurement items. A final vote is scheduled for next month.",
		Metadata: SourceMetadata{
			Platform: "newspaper",
			Region:   "US",
		},
	}
	fv := ExtractFeatures(intake.Text)
	_, behavioral := engine.Evaluate(intake, fv)

	if behavioral != 0 {
		t.Errorf("neutral text behavioral = %.3f, want 0", behavioral)
	}
}

func TestEvaluate_BehavioralFloor(t *testing.T) {
	engine := defaultEngine()
	// Only the platform rule fires, with its small 0.12 increment; the
	// floor keeps the score at or above 0.1 once anything triggered.
	intake := &Intake{
		Text:     "The committee reviewed the quarterly budget figures on Tuesday afternoon session.",
		Metadata: SourceMetadata{Platform: "unknown-forum", Region: "US"},
	}
	fv := ExtractFeatures(intake.Text)
	_, behavioral := engine.Evaluate(intake, fv)

	if behavioral < 0.1 {
		t.Errorf("behavioral = %.3f, want floored to at least 0.1", behavioral)
	}
}

func TestEvaluate_LengthAwareCeiling(t *testing.T) {
	engine := defaultEngine()
	// A very short text stacking several triggers cannot exceed the
	// length-aware ceiling of 0.55 + len/900.
	intake := &Intake{
		Text:     "URGENT!!! Share this NOW!!!",
		Metadata: SourceMetadata{Platform: "telegram-channel", Region: "RU"},
	}
	fv := ExtractFeatures(intake.Text)
	_, behavioral := engine.Evaluate(intake, fv)

	ceiling := 0.55 + float64(len(intake.Text))/900.0
	if behavioral > ceiling {
		t.Errorf("behavioral = %.3f, want at most the length ceiling %.3f", behavioral, ceiling)
	}
}

func TestEvaluate_GeoRisk(t *testing.T) {
	engine := defaultEngine()
	base := &Intake{
		Text:     "The committee reviewed the quarterly budget figures during the Tuesday afternoon session.",
		Metadata: SourceMetadata{Platform: "newspaper", Region: "US"},
	}
	watch := &Intake{
		Text:     base.Text,
		Metadata: SourceMetadata{Platform: "newspaper", Region: "ru"},
	}
	fv := ExtractFeatures(base.Text)

	_, baseScore := engine.Evaluate(base, fv)
	findings, watchScore := engine.Evaluate(watch, fv)

	if watchScore <= baseScore {
		t.Errorf("watch-list region score %.3f should exceed baseline %.3f", watchScore, baseScore)
	}
	found := false
	for _, f := range findings {
		if strings.Contains(f, "geo-risk watch list") {
			found = true
		}
	}
	if !found {
		t.Errorf("no geo-risk finding in %v", findings)
	}
}

func TestEvaluate_AbsentMetadata(t *testing.T) {
	engine := defaultEngine()
	intake := &Intake{Text: "Some perfectly ordinary sentence about gardening techniques in spring."}
	fv := ExtractFeatures(intake.Text)
	// Must not panic and must treat absent fields as "no match".
	findings, behavioral := engine.Evaluate(intake, fv)
	for _, f := range findings {
		if strings.Contains(f, "watch list") {
			t.Errorf("absent metadata should not trigger platform/geo rules: %v", f)
		}
	}
	_ = behavioral
}

func TestEvaluate_LinkFlooding(t *testing.T) {
	engine := defaultEngine()
	intake := &Intake{
		Text:     "Check http://a.example and also http://b.example plus http://c.example for details today.",
		Metadata: SourceMetadata{Region: "US"},
	}
	fv := ExtractFeatures(intake.Text)
	findings, _ := engine.Evaluate(intake, fv)

	found := false
	for _, f := range findings {
		if strings.Contains(f, "embedded links") {
			found = true
		}
	}
	if !found {
		t.Errorf("no link-count finding in %v", findings)
	}
}

func TestEvaluate_CoherenceDrift(t *testing.T) {
	drifting := "Quantum tunneling enables semiconductor design. My grandmother bakes excellent sourdough bread. Portuguese football clubs dominated the nineties. Arctic permafrost contains ancient methane deposits. Violin strings respond to humidity changes."
	ok, overlap := coherenceDrift(drifting)
	if !ok {
		t.Errorf("expected drift for disjoint sentences, mean overlap %.3f", overlap)
	}

	cohesive := "The election commission announced the election results. The election commission certified the election results. Candidates disputed the election results with the commission. The commission defended the election results process."
	ok, overlap = coherenceDrift(cohesive)
	if ok {
		t.Errorf("cohesive text flagged as drifting, mean overlap %.3f", overlap)
	}
}

func TestEmotionalScore_DistinctTermsOnly(t *testing.T) {
	// Same length, same single urgency term: repeating it five times must
	// not score hotter than saying it once.
	repeated := strings.Repeat("urgent ", 5) + strings.Repeat("filler ", 165)
	single := "urgent " + strings.Repeat("filler ", 169)
	if len(repeated) != len(single) {
		t.Fatalf("fixture lengths diverged: %d vs %d", len(repeated), len(single))
	}
	if rs, ss := emotionalScore(repeated), emotionalScore(single); rs != ss {
		t.Errorf("repeated term scored %.4f, single occurrence %.4f, want equal", rs, ss)
	}

	// Two distinct terms do outrank one.
	two := "urgent truth " + strings.Repeat("filler ", 168) + "x"
	if len(two) != len(single) {
		t.Fatalf("fixture lengths diverged: %d vs %d", len(two), len(single))
	}
	if ts, ss := emotionalScore(two), emotionalScore(single); ts <= ss {
		t.Errorf("two distinct terms scored %.4f, want above single-term %.4f", ts, ss)
	}
}

func TestCountCTAMatches_DistinctPatterns(t *testing.T) {
	if got := countCTAMatches("Share this! Share this! Share this!"); got != 1 {
		t.Errorf("repeated phrase counted %d, want 1 distinct pattern", got)
	}
	if got := countCTAMatches("Share this now and act fast, then click here."); got != 3 {
		t.Errorf("three distinct patterns counted %d, want 3", got)
	}
	if got := countCTAMatches("Nothing actionable in this sentence."); got != 0 {
		t.Errorf("plain text counted %d, want 0", got)
	}
}

func TestEvaluate_FindingOrderDeterministic(t *testing.T) {
	engine := defaultEngine()
	intake := &Intake{
		Text:     "URGENT!!! Click here now to expose the TRUTH before it's banned!!!",
		Metadata: SourceMetadata{Platform: "telegram-channel", Region: "RU"},
		Tags:     []string{"election"},
	}
	fv := ExtractFeatures(intake.Text)

	first, _ := engine.Evaluate(intake, fv)
	for range 10 {
		again, _ := engine.Evaluate(intake, fv)
		if len(again) != len(first) {
			t.Fatalf("finding count changed between runs: %d vs %d", len(first), len(again))
		}
		for i := range again {
			if again[i] != first[i] {
				t.Fatalf("finding order changed at %d: %q vs %q", i, first[i], again[i])
			}
		}
	}
}
