// docugen is the document generation engine CLI. It wires the orchestration
// pipeline from environment configuration and runs it for a single order.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docugen-labs/docugen/pkg/completion"
	"github.com/docugen-labs/docugen/pkg/config"
	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/ledger"
	"github.com/docugen-labs/docugen/pkg/observability"
	"github.com/docugen-labs/docugen/pkg/orchestrator"
	"github.com/docugen-labs/docugen/pkg/prompt"
	"github.com/docugen-labs/docugen/pkg/render"
	"github.com/docugen-labs/docugen/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "run":
		return runGenerate(args[2:], stdout, stderr)
	case "seed-order":
		return runSeedOrder(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: docugen <command>

Commands:
  run         execute the generation pipeline for one order
  seed-order  insert an order document into the store`)
}

func runGenerate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	orderID := fs.String("order", "", "order id (required)")
	intakePath := fs.String("intake", "", "path to intake JSON file (required)")
	regenerate := fs.Bool("regenerate", false, "run as a regeneration")
	notes := fs.String("notes", "", "regeneration notes")
	force := fs.Bool("force", false, "retry even if a prior run failed")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *orderID == "" || *intakePath == "" {
		fs.Usage()
		return 2
	}

	intakeRaw, err := os.ReadFile(*intakePath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "read intake:", err)
		return 1
	}
	var intake map[string]any
	if err := json.Unmarshal(intakeRaw, &intake); err != nil {
		_, _ = fmt.Fprintln(stderr, "parse intake:", err)
		return 1
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)

	ctx := context.Background()
	engine, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "wire engine:", err)
		return 1
	}
	defer cleanup()

	var notesPtr *string
	if *notes != "" {
		notesPtr = notes
	}
	result := engine.ExecutePipeline(ctx, *orderID, intake, *regenerate, notesPtr, *force)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if !result.Success {
		return 1
	}
	return 0
}

func runSeedOrder(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seed-order", flag.ContinueOnError)
	fs.SetOutput(stderr)
	orderPath := fs.String("file", "", "path to order JSON file (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *orderPath == "" {
		fs.Usage()
		return 2
	}

	raw, err := os.ReadFile(*orderPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "read order:", err)
		return 1
	}
	var order contracts.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		_, _ = fmt.Fprintln(stderr, "parse order:", err)
		return 1
	}
	if order.OrderID == "" {
		_, _ = fmt.Fprintln(stderr, "order file has no order_id")
		return 1
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)

	if cfg.DatabaseDriver != "sqlite" {
		_, _ = fmt.Fprintln(stderr, "seed-order supports the sqlite driver only")
		return 1
	}
	db, err := store.OpenSQLite(cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "open database:", err)
		return 1
	}
	defer db.Close()

	orders, err := store.NewSQLiteOrderStore(db)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "migrate orders:", err)
		return 1
	}
	if err := orders.Seed(context.Background(), &order); err != nil {
		_, _ = fmt.Fprintln(stderr, "seed order:", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "seeded order", order.OrderID)
	return 0
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// buildPromptChain assembles the resolver chain in precedence order: managed
// catalog, then the legacy registry, then the pack fallback.
func buildPromptChain(cfg *config.Config) (*prompt.Chain, error) {
	sources := []prompt.Source{}
	if cfg.TemplatesDir != "" {
		templates, err := config.LoadAllTemplates(cfg.TemplatesDir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, prompt.NewManagedSource(templates...))
	}
	if cfg.LegacyRegistryPath != "" {
		f, err := os.Open(cfg.LegacyRegistryPath)
		if err != nil {
			return nil, fmt.Errorf("open legacy registry: %w", err)
		}
		legacy, err := prompt.LoadLegacySource(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		sources = append(sources, legacy)
	}
	sources = append(sources, prompt.DefaultPackFallback())
	return prompt.NewChain(sources...), nil
}

// buildEngine wires the orchestrator from configuration. The returned cleanup
// closes the database and flushes telemetry.
func buildEngine(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	var (
		db  *sql.DB
		err error
	)
	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		orders     store.OrderStore
		executions store.ExecutionStore
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		executions, err = store.NewPostgresExecutionStore(db)
		if err != nil {
			return nil, cleanup, err
		}
		// Order documents live in the order service's store; the local
		// SQLite file is the engine's read/update view of them.
		odb, oerr := store.OpenSQLite("docugen-orders.db")
		if oerr != nil {
			return nil, cleanup, oerr
		}
		closers = append(closers, func() { _ = odb.Close() })
		if orders, err = store.NewSQLiteOrderStore(odb); err != nil {
			return nil, cleanup, err
		}
	default:
		db, err = store.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if orders, err = store.NewSQLiteOrderStore(db); err != nil {
			return nil, cleanup, err
		}
		if executions, err = store.NewSQLiteExecutionStore(db); err != nil {
			return nil, cleanup, err
		}
	}

	var cache *store.IdempotencyCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		cache = store.NewIdempotencyCache(client, cfg.IdempotencyTTL)
	}

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:    "docugen-engine",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		Insecure:       strings.HasPrefix(cfg.OTLPEndpoint, "localhost"),
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("init observability: %w", err)
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	})

	prompts, err := buildPromptChain(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	services := orchestrator.MapCatalog{}
	if cfg.CatalogPath != "" {
		catalog, cerr := config.LoadCatalog(cfg.CatalogPath)
		if cerr != nil {
			return nil, cleanup, cerr
		}
		services = orchestrator.MapCatalog(catalog)
	}

	provider := completion.NewOpenAIClient(
		cfg.CompletionBaseURL, cfg.CompletionAPIKey, cfg.CompletionModel,
		completion.WithRateLimit(cfg.CompletionRPS, 1),
	)

	engine := orchestrator.New(orchestrator.Deps{
		Orders:     orders,
		Executions: executions,
		Cache:      cache,
		Prompts:    prompts,
		Provider:   provider,
		Renderer:   render.NewHTTPCoordinator(cfg.RenderServiceURL),
		Services:   services,
		RunLedger:  ledger.NewRunLedger(),
		Metrics:    metrics,
	},
		orchestrator.WithCompletionTimeout(cfg.CompletionTimeout),
		orchestrator.WithRenderTimeout(cfg.RenderTimeout),
	)
	return engine, cleanup, nil
}
