package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/PalisadeIntel/palisade/pkg/analysis"
	"github.com/PalisadeIntel/palisade/pkg/config"
	"github.com/PalisadeIntel/palisade/pkg/events"
	"github.com/PalisadeIntel/palisade/pkg/pipeline"
	"github.com/PalisadeIntel/palisade/pkg/signal"
	"github.com/PalisadeIntel/palisade/pkg/store"
	"github.com/PalisadeIntel/palisade/pkg/telemetry"
)

const Version = "0.1.0"

// Gateway bundles the pipeline with its collaborators. All external
// pieces are optional and degrade gracefully when unconfigured.
type Gateway struct {
	cfg     *config.Config
	orch    *pipeline.Orchestrator
	store   store.Store
	bus     *events.Bus
	metrics *telemetry.Client
}

// NewGateway assembles the pipeline from config: providers for every
// configured endpoint, SQLite persistence, the dupe cache (Redis when an
// address is set, in-memory otherwise) and the event bus.
func NewGateway(cfg *config.Config) (*Gateway, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	var providers []signal.Provider
	if cfg.SemanticEndpoint != "" {
		providers = append(providers, signal.NewSemanticProvider(
			cfg.SemanticEndpoint, cfg.SemanticAPIKey, cfg.SemanticModel, cfg.SemanticMaxChars))
		log.Printf("✓ Semantic risk provider enabled (model: %s)", cfg.SemanticModel)
	} else {
		log.Println("○ Semantic risk provider disabled (no endpoint)")
	}
	if cfg.SafetyEndpoint != "" {
		providers = append(providers, signal.NewSafetyProvider(cfg.SafetyEndpoint, cfg.SafetyAPIKey))
		log.Println("✓ Harm safety provider enabled")
	} else {
		log.Println("○ Harm safety provider disabled (no endpoint)")
	}
	if cfg.GenerationEndpoint != "" {
		providers = append(providers, signal.NewGenerationProvider(cfg.GenerationEndpoint, cfg.GenerationAPIKey))
		log.Println("✓ AI-generation provider enabled")
	} else {
		log.Println("○ AI-generation provider disabled (no endpoint)")
	}

	st, err := store.OpenSQL(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var dupes store.DupeCache
	if cfg.RedisAddr != "" {
		dupes = store.NewRedisDupeCache(cfg.RedisAddr, cfg.CacheTTL)
		log.Printf("✓ Redis dupe cache enabled (%s)", cfg.RedisAddr)
	} else {
		dupes = store.NewMemoryDupeCache(cfg.CacheTTL)
		log.Println("○ Redis dupe cache disabled, using in-memory cache")
	}

	bus := events.NewBus(cfg.EventQueueLen)
	metrics := telemetry.New()

	orch := pipeline.NewOrchestrator(cfg, pipeline.Options{
		Providers: providers,
		Store:     st,
		DupeCache: dupes,
		Bus:       bus,
		Metrics:   metrics,
	})

	return &Gateway{cfg: cfg, orch: orch, store: st, bus: bus, metrics: metrics}, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: palisade analyze <text>")
			os.Exit(1)
		}
		runCLIAnalyze(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Palisade v%s\n", Version)
		fmt.Println("Content Risk Analysis Gateway")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Palisade v%s - Content Risk Analysis Gateway\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  palisade serve [port]    Start HTTP server (default: 8080)")
	fmt.Println("  palisade analyze <text>  Analyze text locally, print assessment JSON")
	fmt.Println("  palisade version         Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  PALISADE_DB_PATH            SQLite database file (default: palisade.db)")
	fmt.Println("  PALISADE_SEMANTIC_ENDPOINT  OpenAI-compatible chat completions URL")
	fmt.Println("  PALISADE_SAFETY_ENDPOINT    Harm-safety analyze-text URL")
	fmt.Println("  PALISADE_GENERATION_ENDPOINT AI-generation detector URL")
	fmt.Println("  PALISADE_REDIS_ADDR         Optional Redis address for the dupe cache")
	fmt.Println("  PALISADE_WEIGHTS_PATH       Optional YAML stylometric weight overrides")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	if port != "" {
		cfg.Port = port
	}
	cfg.MustValidate()

	gw, err := NewGateway(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer gw.store.Close()

	app := fiber.New(fiber.Config{
		AppName: "Palisade",
	})

	// Health check
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"version":     Version,
			"subscribers": gw.bus.SubscriberCount(),
			"gate":        gw.orch.GateStats(),
			"metrics":     gw.metrics.Snapshot(),
		})
	})

	// Submit content for analysis. Validation failures are 400s with no
	// partial state; everything past validation returns an assessment.
	app.Post("/api/v1/intake", func(c fiber.Ctx) error {
		var intake analysis.Intake
		if err := c.Bind().Body(&intake); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		if intake.Language == "" {
			intake.Language = "en"
		}
		if intake.Source == "" {
			intake.Source = "unknown"
		}

		result, err := gw.orch.Process(c.Context(), &intake)
		if err != nil {
			var verr *pipeline.ValidationError
			if errors.As(err, &verr) {
				return c.Status(400).JSON(fiber.Map{"error": verr.Error()})
			}
			log.Printf("[WARN] Intake processing failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "analysis failed"})
		}
		return c.JSON(result)
	})

	// Fetch one persisted case.
	app.Get("/api/v1/cases/:id", func(c fiber.Ctx) error {
		rec, err := gw.store.FetchAssessment(c.Context(), c.Params("id"))
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "case not found"})
		}
		if err != nil {
			log.Printf("[WARN] Case fetch failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "fetch failed"})
		}
		return c.JSON(caseView(rec))
	})

	// Recent cases, newest first.
	app.Get("/api/v1/cases", func(c fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		recs, err := gw.store.ListRecent(c.Context(), limit)
		if err != nil {
			log.Printf("[WARN] Recent cases fetch failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "fetch failed"})
		}
		views := make([]fiber.Map, 0, len(recs))
		for i := range recs {
			views = append(views, caseView(&recs[i]))
		}
		return c.JSON(fiber.Map{"cases": views})
	})

	// Audit trail for one case.
	app.Get("/api/v1/cases/:id/audit", func(c fiber.Ctx) error {
		entries, err := gw.store.AuditTrail(c.Context(), c.Params("id"))
		if err != nil {
			log.Printf("[WARN] Audit trail fetch failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "fetch failed"})
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	// Fingerprint duplicate check. Read-only; never affects ingestion.
	app.Post("/api/v1/fingerprint/check", func(c fiber.Ctx) error {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil || req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		matches, err := gw.store.LookupFingerprint(c.Context(), req.Text)
		if err != nil {
			log.Printf("[WARN] Fingerprint lookup failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "lookup failed"})
		}
		return c.JSON(fiber.Map{
			"match":           len(matches) > 0,
			"matches":         matches,
			"normalized_hash": store.NormalizedHash(req.Text),
		})
	})

	// Narrative graph snapshot.
	app.Get("/api/v1/graph/summary", func(c fiber.Ctx) error {
		return c.JSON(gw.orch.Graph().Snapshot())
	})

	// Live completion events as server-sent events. Each subscriber owns a
	// bounded queue; slow readers shed their oldest events, never block
	// the pipeline.
	app.Get("/api/v1/events/stream", func(c fiber.Ctx) error {
		sub := gw.bus.Subscribe()

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		c.RequestCtx().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer gw.bus.Unsubscribe(sub.ID)
			for ev := range sub.C {
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}))
		return nil
	})

	log.Printf("[STARTUP] Palisade HTTP server starting on :%s", cfg.Port)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health                    - Health check")
	log.Printf("  POST /api/v1/intake             - Submit content for analysis")
	log.Printf("  GET  /api/v1/cases/:id          - Fetch a persisted assessment")
	log.Printf("  GET  /api/v1/cases              - Recent assessments")
	log.Printf("  GET  /api/v1/cases/:id/audit    - Audit trail for a case")
	log.Printf("  POST /api/v1/fingerprint/check  - Duplicate content lookup")
	log.Printf("  GET  /api/v1/graph/summary      - Narrative graph snapshot")
	log.Printf("  GET  /api/v1/events/stream      - Completion events (SSE)")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}

// caseView decodes the persisted JSON blobs so API clients get structured
// fields instead of double-encoded strings.
func caseView(rec *store.CaseRecord) fiber.Map {
	return fiber.Map{
		"intake_id":       rec.IntakeID,
		"classification":  rec.Classification,
		"composite_score": rec.CompositeScore,
		"metadata":        json.RawMessage(orEmptyObject(rec.MetadataJSON)),
		"breakdown":       json.RawMessage(orEmptyObject(rec.BreakdownJSON)),
		"provenance":      json.RawMessage(orEmptyObject(rec.ProvenanceJSON)),
		"summary":         rec.SummaryText,
		"decision_reason": rec.DecisionReason,
		"created_at":      rec.CreatedAt,
	}
}

func orEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

// ============================================================================
// CLI Mode
// ============================================================================

// runCLIAnalyze runs the pipeline locally with no providers, no database
// and no event bus: just the stylometric model, the rule engine and the
// blend, printed as JSON.
func runCLIAnalyze(text string) {
	cfg := config.NewOfflineConfig()
	orch := pipeline.NewOrchestrator(cfg, pipeline.Options{})

	intake := &analysis.Intake{
		Text:     text,
		Language: "en",
		Source:   "cli",
		Metadata: analysis.SourceMetadata{Region: "unknown"},
	}
	result, err := orch.Process(context.Background(), intake)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze failed: %v\n", err)
		os.Exit(1)
	}

	output, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(output))
}
