package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the Palisade gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	Port         string // HTTP listen port (default: "8080")
	DatabasePath string // SQLite database file (default: "palisade.db")
	WeightsPath  string // Optional YAML file overriding stylometric model weights

	// === Intake Limits ===
	MinTextLen int // Minimum accepted submission length in runes (default: 20)
	MaxTextLen int // Maximum accepted submission length in runes (default: 20000)

	// === Analysis ===
	MaxConcurrentAnalyses int      // Backpressure gate for pipeline runs (default: 32)
	WatchRegions          []string // Region codes that trigger the geo-risk rule

	// === Signal Provider Configuration ===
	// Each provider is optional; an empty endpoint disables it and the
	// fusion blender redistributes its weight.
	SemanticEndpoint string // OpenAI-compatible chat completions URL
	SemanticAPIKey   string
	SemanticModel    string // Model identifier (default: "gpt-4o-mini")
	SemanticMaxChars int    // Content truncation limit before prompting (default: 6000)

	SafetyEndpoint string // Harm-safety analyze-text URL
	SafetyAPIKey   string

	GenerationEndpoint string // AI-generation detector URL
	GenerationAPIKey   string

	ProviderTimeoutMs int // Per-provider call timeout in milliseconds (default: 15000)

	// === Fingerprint Dupe Cache ===
	RedisAddr     string        // Optional shared cache backend; empty = in-memory only
	CacheTTL      time.Duration // Dupe cache entry lifetime (default: 1 hour)
	EventQueueLen int           // Per-subscriber event queue capacity (default: 64)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Port:         GetEnv("PALISADE_PORT", "8080"),
		DatabasePath: GetEnv("PALISADE_DB_PATH", "palisade.db"),
		WeightsPath:  GetEnv("PALISADE_WEIGHTS_PATH", ""),

		MinTextLen: GetEnvInt("PALISADE_MIN_TEXT_LEN", 20),
		MaxTextLen: GetEnvInt("PALISADE_MAX_TEXT_LEN", 20000),

		MaxConcurrentAnalyses: clampInt(GetEnvInt("PALISADE_MAX_CONCURRENT", 32), 1, 1024),
		WatchRegions:          GetEnvSlice("PALISADE_WATCH_REGIONS", []string{"RU", "IR", "KP", "CN"}),

		SemanticEndpoint: GetEnv("PALISADE_SEMANTIC_ENDPOINT", ""),
		SemanticAPIKey:   GetEnv("PALISADE_SEMANTIC_API_KEY", os.Getenv("OPENAI_API_KEY")),
		SemanticModel:    GetEnv("PALISADE_SEMANTIC_MODEL", "gpt-4o-mini"),
		SemanticMaxChars: GetEnvInt("PALISADE_SEMANTIC_MAX_CHARS", 6000),

		SafetyEndpoint: GetEnv("PALISADE_SAFETY_ENDPOINT", ""),
		SafetyAPIKey:   GetEnv("PALISADE_SAFETY_API_KEY", ""),

		GenerationEndpoint: GetEnv("PALISADE_GENERATION_ENDPOINT", ""),
		GenerationAPIKey:   GetEnv("PALISADE_GENERATION_API_KEY", ""),

		ProviderTimeoutMs: GetEnvInt("PALISADE_PROVIDER_TIMEOUT_MS", 15000),

		RedisAddr:     GetEnv("PALISADE_REDIS_ADDR", ""),
		CacheTTL:      time.Duration(GetEnvInt("PALISADE_CACHE_TTL_SECONDS", 3600)) * time.Second,
		EventQueueLen: clampInt(GetEnvInt("PALISADE_EVENT_QUEUE", 64), 1, 4096),
	}

	return cfg
}

// NewOfflineConfig creates a Config for local-only operation: no provider
// endpoints, no Redis. The composite score is blended from the stylometric
// and behavioral signals alone.
func NewOfflineConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.SemanticEndpoint = ""
	cfg.SafetyEndpoint = ""
	cfg.GenerationEndpoint = ""
	cfg.RedisAddr = ""
	return cfg
}

// ProviderTimeout returns the per-provider deadline as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	if c.ProviderTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ProviderTimeoutMs) * time.Millisecond
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// RequiredSecret defines a required environment variable for startup validation
type RequiredSecret struct {
	Name        string // Environment variable name
	Description string // Human-readable description
	Production  bool   // Required in production only (false = required always)
}

// CriticalSecrets returns the list of secrets required for the gateway to operate
func CriticalSecrets() []RequiredSecret {
	return []RequiredSecret{
		{Name: "PALISADE_SEMANTIC_API_KEY", Description: "API key for the semantic risk provider", Production: true},
	}
}

// Validate checks that the configuration is internally consistent.
// In production mode (PALISADE_ENV=production) missing critical secrets are
// errors; in development they are startup warnings.
func (c *Config) Validate() error {
	env := strings.ToLower(os.Getenv("PALISADE_ENV"))
	isProduction := env == "production" || env == "prod"

	if c.MinTextLen <= 0 || c.MaxTextLen <= c.MinTextLen {
		return fmt.Errorf("invalid text length bounds: min=%d max=%d", c.MinTextLen, c.MaxTextLen)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}

	var missing []string
	for _, secret := range CriticalSecrets() {
		if os.Getenv(secret.Name) != "" {
			continue
		}
		// Secrets only matter for providers that are actually configured.
		if secret.Name == "PALISADE_SEMANTIC_API_KEY" && c.SemanticEndpoint == "" {
			continue
		}
		if secret.Production && !isProduction {
			log.Printf("[STARTUP] Warning: Missing optional secret: %s (%s)", secret.Name, secret.Description)
			continue
		}
		missing = append(missing, secret.Name+" ("+secret.Description+")")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// Helper functions for environment variable parsing
// These are exported for use by other packages

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
