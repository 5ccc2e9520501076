// Package pipeline sequences a content intake through analysis:
// extraction, heuristics, provider fan-out, fusion, classification,
// provenance and graph enrichment, persistence, fingerprinting and event
// emission. The flow is strictly linear per intake and shares no mutable
// state across intakes.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/PalisadeIntel/palisade/pkg/analysis"
	"github.com/PalisadeIntel/palisade/pkg/config"
	"github.com/PalisadeIntel/palisade/pkg/events"
	"github.com/PalisadeIntel/palisade/pkg/graph"
	"github.com/PalisadeIntel/palisade/pkg/httputil"
	"github.com/PalisadeIntel/palisade/pkg/provenance"
	"github.com/PalisadeIntel/palisade/pkg/signal"
	"github.com/PalisadeIntel/palisade/pkg/store"
	"github.com/PalisadeIntel/palisade/pkg/telemetry"
)

// maxReportedFindings caps the findings echoed in the top-level result;
// the full ordered list stays in the persisted breakdown.
const maxReportedFindings = 5

// Result is the immutable assessment returned to the caller and persisted
// as a case. A re-analysis produces a new Result with a new intake id.
type Result struct {
	IntakeID       string                   `json:"intake_id"`
	SubmittedAt    time.Time                `json:"submitted_at"`
	CompositeScore float64                  `json:"composite_score"`
	Classification string                   `json:"classification"`
	Findings       []string                 `json:"findings"`
	AllFindings    []string                 `json:"all_findings,omitempty"`
	Breakdown      *analysis.Breakdown      `json:"breakdown"`
	Provenance     *provenance.Verification `json:"provenance,omitempty"`
	Graph          *graph.Summary           `json:"graph_summary,omitempty"`
	Summary        string                   `json:"summary"`
	DecisionReason string                   `json:"decision_reason"`
	KnownDuplicate bool                     `json:"known_duplicate"`
	Error          string                   `json:"error,omitempty"`
}

// ValidationError rejects an intake before any pipeline state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intake: %s %s", e.Field, e.Reason)
}

// Orchestrator owns the intake lifecycle. All collaborators are injected
// so tests can substitute doubles; there are no process-wide singletons.
type Orchestrator struct {
	cfg       *config.Config
	model     *analysis.StylometricModel
	rules     *analysis.RuleEngine
	providers []signal.Provider
	graph     *graph.Engine
	store     store.Store
	dupes     store.DupeCache
	bus       *events.Bus
	gate      *httputil.Semaphore
	metrics   *telemetry.Client
}

// Options carries the optional collaborators for NewOrchestrator. Nil
// fields disable the corresponding enrichment gracefully.
type Options struct {
	Providers []signal.Provider
	Store     store.Store
	DupeCache store.DupeCache
	Bus       *events.Bus
	Metrics   *telemetry.Client
}

// NewOrchestrator wires a pipeline from config plus injected
// collaborators.
func NewOrchestrator(cfg *config.Config, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		model:     analysis.LoadStylometricModel(cfg.WeightsPath),
		rules:     analysis.NewRuleEngine(cfg.WatchRegions),
		providers: opts.Providers,
		graph:     graph.NewEngine(),
		store:     opts.Store,
		dupes:     opts.DupeCache,
		bus:       opts.Bus,
		gate:      httputil.NewSemaphore(cfg.MaxConcurrentAnalyses),
		metrics:   opts.Metrics,
	}
}

// ValidateIntake enforces the intake contract: text length in bounds and a
// declared region. Called before the pipeline starts so a rejection leaves
// no partial state behind.
func (o *Orchestrator) ValidateIntake(intake *analysis.Intake) error {
	runes := len([]rune(strings.TrimSpace(intake.Text)))
	if runes < o.cfg.MinTextLen {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("shorter than %d characters", o.cfg.MinTextLen)}
	}
	if runes > o.cfg.MaxTextLen {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("longer than %d characters", o.cfg.MaxTextLen)}
	}
	if strings.TrimSpace(intake.Metadata.Region) == "" {
		return &ValidationError{Field: "metadata.region", Reason: "is required"}
	}
	return nil
}

// Process runs the full pipeline for one intake. Provider failures degrade
// to absent signals, fingerprinting failures are logged and non-fatal, and
// a panic anywhere in analysis is recovered into an internal-error result
// for this intake alone.
func (o *Orchestrator) Process(ctx context.Context, intake *analysis.Intake) (result *Result, err error) {
	if err := o.ValidateIntake(intake); err != nil {
		return nil, err
	}
	if err := o.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("analysis queue full: %w", err)
	}
	defer o.gate.Release()

	intakeID := uuid.NewString()
	submittedAt := time.Now().UTC()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PIPELINE] Recovered from panic for intake %s: %v", intakeID, r)
			o.metrics.Incr("pipeline.panic")
			result = &Result{
				IntakeID:       intakeID,
				SubmittedAt:    submittedAt,
				Classification: analysis.TierLow,
				Summary:        "Analysis failed internally; no assessment produced.",
				Error:          "internal analysis error",
			}
			err = nil
		}
	}()

	// Local scoring.
	features := analysis.ExtractFeatures(intake.Text)
	stylometric := o.model.Probability(features)
	findings, behavioral := o.rules.Evaluate(intake, features)
	if lang := describeLanguage(intake.Language); lang != "" {
		findings = append(findings, lang)
	}

	// Provider fan-out: one goroutine per provider, each with its own
	// deadline, each failure isolated. Findings are appended afterwards in
	// fixed class order so output stays deterministic.
	signals := o.collectSignals(ctx, intake)
	for _, class := range signal.Classes {
		res, ok := signals[class]
		if !ok || res == nil {
			continue
		}
		findings = append(findings, signalFinding(res))
	}

	breakdown := analysis.Blend(stylometric, behavioral, signals)
	tier := analysis.Classify(breakdown.Composite)

	// Enrichment. Additive only; never feeds back into the score.
	prov := provenance.Verify(intake.Text)
	graphSummary := o.graph.Ingest(intakeID, intake.Metadata.ActorID, intake.Metadata.Platform, intake.Tags, breakdown.Composite)

	result = &Result{
		IntakeID:       intakeID,
		SubmittedAt:    submittedAt,
		CompositeScore: breakdown.Composite,
		Classification: tier,
		Findings:       topFindings(findings),
		AllFindings:    findings,
		Breakdown:      breakdown,
		Provenance:     prov,
		Graph:          graphSummary,
	}
	result.Summary = composeSummary(result)
	result.DecisionReason = composeDecisionReason(result)

	o.annotateDuplicate(ctx, intake.Text, result)
	o.persist(ctx, intake, result)
	o.fingerprint(ctx, intakeID, intake.Text)
	o.emit(result)

	o.metrics.Incr("pipeline.completed")
	o.metrics.Observe("pipeline.total", float64(time.Since(started).Milliseconds()))
	return result, nil
}

// collectSignals calls every registered provider concurrently. Each call
// gets its own timeout; an error or nil result leaves that class absent
// and the blender redistributes its weight.
func (o *Orchestrator) collectSignals(ctx context.Context, intake *analysis.Intake) map[signal.Class]*signal.Result {
	signals := make(map[signal.Class]*signal.Result, len(o.providers))
	if len(o.providers) == 0 {
		return signals
	}

	sctx := signal.Context{
		Platform: intake.Metadata.Platform,
		Region:   intake.Metadata.Region,
		Source:   intake.Source,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range o.providers {
		wg.Add(1)
		go func(p signal.Provider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout())
			defer cancel()

			started := time.Now()
			res, err := p.Assess(callCtx, intake.Text, sctx)
			o.metrics.Observe("provider."+string(p.Class()), float64(time.Since(started).Milliseconds()))
			if err != nil {
				log.Printf("[WARN] Signal provider %s unavailable: %v", p.Class(), err)
				o.metrics.Incr("provider." + string(p.Class()) + ".failed")
				return
			}
			if res == nil {
				return
			}
			mu.Lock()
			signals[p.Class()] = res
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return signals
}

// annotateDuplicate checks the dupe cache for the normalized hash and, on
// a hit, marks the result. Never gates ingestion.
func (o *Orchestrator) annotateDuplicate(ctx context.Context, text string, result *Result) {
	if o.dupes == nil {
		return
	}
	hash := store.NormalizedHash(text)
	if prior, ok := o.dupes.Lookup(ctx, hash); ok && prior != result.IntakeID {
		result.KnownDuplicate = true
		o.metrics.Incr("pipeline.duplicate")
	}
	o.dupes.Mark(ctx, hash, result.IntakeID)
}

func (o *Orchestrator) persist(ctx context.Context, intake *analysis.Intake, result *Result) {
	if o.store == nil {
		return
	}
	rec := &store.CaseRecord{
		IntakeID:       result.IntakeID,
		RawText:        intake.Text,
		Classification: result.Classification,
		CompositeScore: result.CompositeScore,
		MetadataJSON:   mustJSON(intake.Metadata),
		BreakdownJSON:  mustJSON(result.Breakdown),
		ProvenanceJSON: mustJSON(result.Provenance),
		SummaryText:    result.Summary,
		DecisionReason: result.DecisionReason,
		CreatedAt:      result.SubmittedAt.Format(time.RFC3339Nano),
	}
	if err := o.store.SaveAssessment(ctx, rec); err != nil {
		log.Printf("[WARN] Persisting assessment %s failed: %v", result.IntakeID, err)
		o.metrics.Incr("pipeline.persist_failed")
		return
	}
	payload := mustJSON(map[string]any{
		"score": result.CompositeScore,
		"tier":  result.Classification,
	})
	if err := o.store.AppendAudit(ctx, result.IntakeID, "analysis_completed", "system", payload); err != nil {
		log.Printf("[WARN] Audit append for %s failed: %v", result.IntakeID, err)
	}
}

// fingerprint records the content hashes. Failure here is logged only; the
// assessment already exists and is still returned.
func (o *Orchestrator) fingerprint(ctx context.Context, intakeID, text string) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordFingerprint(ctx, intakeID, text); err != nil {
		log.Printf("[WARN] Fingerprinting intake %s failed: %v", intakeID, err)
		o.metrics.Incr("pipeline.fingerprint_failed")
	}
}

func (o *Orchestrator) emit(result *Result) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:           "analysis_completed",
		IntakeID:       result.IntakeID,
		Score:          result.CompositeScore,
		Classification: result.Classification,
		SubmittedAt:    result.SubmittedAt,
	})
}

// Graph returns the narrative graph engine for read-side endpoints.
func (o *Orchestrator) Graph() *graph.Engine {
	return o.graph
}

// GateStats exposes the analysis backpressure gate for monitoring.
func (o *Orchestrator) GateStats() httputil.SemaphoreStats {
	return o.gate.Stats()
}

func topFindings(findings []string) []string {
	if len(findings) <= maxReportedFindings {
		return findings
	}
	return findings[:maxReportedFindings]
}

// describeLanguage canonicalizes the declared language tag into a finding
// line. Unparseable tags yield nothing; the declaration is advisory.
func describeLanguage(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return ""
	}
	return fmt.Sprintf("Declared language: %s (%s).", name, tag.String())
}

func signalFinding(res *signal.Result) string {
	switch res.Class {
	case signal.ClassSemantic:
		reason := ""
		if len(res.Reasons) > 0 {
			reason = " " + res.Reasons[0]
		}
		return fmt.Sprintf("Semantic risk assessment: %.0f%% risk (confidence %.0f%%).%s",
			res.Score*100, res.Confidence*100, reason)
	case signal.ClassSafety:
		detail := ""
		if len(res.Reasons) > 0 {
			detail = " " + res.Reasons[0]
		}
		return fmt.Sprintf("Harm safety screening: %.0f%% harm score, severity %s.%s",
			res.Score*100, res.Label, detail)
	case signal.ClassGeneration:
		return fmt.Sprintf("AI-generation detector: %.0f%% machine-generation probability.", res.Score*100)
	default:
		return fmt.Sprintf("Signal %s: %.0f%%.", res.Class, res.Score*100)
	}
}

func composeSummary(r *Result) string {
	signalsUsed := 2 + len(r.Breakdown.SignalScores) // stylometric + behavioral are always present
	lead := fmt.Sprintf("Intake classified %s with composite risk %.2f from %d signals.",
		r.Classification, r.CompositeScore, signalsUsed)
	if len(r.AllFindings) == 0 {
		return lead + " No heuristic findings."
	}
	return fmt.Sprintf("%s %d findings; leading: %s", lead, len(r.AllFindings), r.AllFindings[0])
}

func composeDecisionReason(r *Result) string {
	var driver string
	bd := r.Breakdown
	switch {
	case bd.SignalScores[string(signal.ClassSemantic)] >= 0.5:
		driver = "semantic risk assessment"
	case bd.SignalScores[string(signal.ClassSafety)] >= 0.5:
		driver = "harm safety screening"
	case bd.BehavioralScore >= bd.StylometricScore:
		driver = "behavioral manipulation cues"
	default:
		driver = "stylometric generation markers"
	}
	reason := fmt.Sprintf("Composite %.2f falls in the %s band, driven primarily by %s.",
		r.CompositeScore, r.Classification, driver)
	if len(bd.UnavailableSignals) > 0 {
		reason += fmt.Sprintf(" Unavailable signals (%s) had their weight redistributed.",
			strings.Join(bd.UnavailableSignals, ", "))
	}
	return reason
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
