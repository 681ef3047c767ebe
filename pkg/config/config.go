// Package config loads engine configuration from the environment (12-factor)
// plus YAML catalogs for services and managed prompt templates.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine configuration.
type Config struct {
	LogLevel string

	// DatabaseDriver selects the execution store backend: "sqlite" or
	// "postgres".
	DatabaseDriver string
	DatabaseURL    string

	CompletionBaseURL string
	CompletionAPIKey  string
	CompletionModel   string
	CompletionRPS     float64

	RenderServiceURL string

	RedisAddr      string
	IdempotencyTTL time.Duration

	CompletionTimeout time.Duration
	RenderTimeout     time.Duration

	OTLPEndpoint   string
	TracingEnabled bool

	CatalogPath        string
	TemplatesDir       string
	LegacyRegistryPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file database
		dbURL = "docugen.db"
	}

	completionURL := os.Getenv("COMPLETION_BASE_URL")
	if completionURL == "" {
		// Default to LM Studio local
		completionURL = "http://localhost:1234/v1"
	}

	model := os.Getenv("COMPLETION_MODEL")
	if model == "" {
		model = "gpt-4o"
	}

	renderURL := os.Getenv("RENDER_SERVICE_URL")
	if renderURL == "" {
		renderURL = "http://localhost:8090"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		LogLevel:           logLevel,
		DatabaseDriver:     driver,
		DatabaseURL:        dbURL,
		CompletionBaseURL:  completionURL,
		CompletionAPIKey:   os.Getenv("COMPLETION_API_KEY"),
		CompletionModel:    model,
		CompletionRPS:      envFloat("COMPLETION_RPS", 2),
		RenderServiceURL:   renderURL,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		IdempotencyTTL:     envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		CompletionTimeout:  envDuration("COMPLETION_TIMEOUT", 120*time.Second),
		RenderTimeout:      envDuration("RENDER_TIMEOUT", 60*time.Second),
		OTLPEndpoint:       otlp,
		TracingEnabled:     os.Getenv("TRACING_ENABLED") == "true",
		CatalogPath:        os.Getenv("SERVICE_CATALOG_PATH"),
		TemplatesDir:       os.Getenv("PROMPT_TEMPLATES_DIR"),
		LegacyRegistryPath: os.Getenv("LEGACY_REGISTRY_PATH"),
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}
