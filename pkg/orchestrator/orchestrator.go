// Package orchestrator is the generation engine: one linear, auditable
// pipeline from paid order to reviewable document. It owns idempotency,
// snapshot-before-call ordering, output validation, and failure recording;
// everything external (store, prompts, completion provider, renderer) is
// injected at construction.
package orchestrator

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docugen-labs/docugen/pkg/completion"
	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/ledger"
	"github.com/docugen-labs/docugen/pkg/observability"
	"github.com/docugen-labs/docugen/pkg/prompt"
	"github.com/docugen-labs/docugen/pkg/render"
	"github.com/docugen-labs/docugen/pkg/snapshot"
	"github.com/docugen-labs/docugen/pkg/store"
)

// ServiceCatalog answers whether a service code maps to an active service
// definition. Owned by the billing/catalog subsystem; the engine only reads.
type ServiceCatalog interface {
	Lookup(code string) (contracts.ServiceDefinition, bool)
}

// MapCatalog is a fixed in-memory ServiceCatalog.
type MapCatalog map[string]contracts.ServiceDefinition

// Lookup implements ServiceCatalog.
func (m MapCatalog) Lookup(code string) (contracts.ServiceDefinition, bool) {
	def, ok := m[code]
	return def, ok
}

// Deps are the collaborators the orchestrator is built from. Orders,
// Executions, Prompts, Provider, Renderer and Services are required;
// Cache, RunLedger and Metrics may be nil.
type Deps struct {
	Orders     store.OrderStore
	Executions store.ExecutionStore
	Cache      *store.IdempotencyCache
	Prompts    *prompt.Chain
	Provider   completion.Provider
	Renderer   render.Coordinator
	Services   ServiceCatalog
	RunLedger  *ledger.RunLedger
	Metrics    *observability.Provider
	Logger     *slog.Logger
}

// Option customizes orchestrator behavior.
type Option func(*Orchestrator)

// WithCompletionTimeout bounds the provider call. Zero means no bound.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.completionTimeout = d }
}

// WithRenderTimeout bounds the render hand-off. Zero means no bound.
func WithRenderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.renderTimeout = d }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithIDGenerator overrides execution-id generation for testing.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// Orchestrator executes the document generation pipeline.
type Orchestrator struct {
	orders     store.OrderStore
	executions store.ExecutionStore
	cache      *store.IdempotencyCache
	prompts    *prompt.Chain
	provider   completion.Provider
	renderer   render.Coordinator
	services   ServiceCatalog
	snapshots  *snapshot.Service
	runLedger  *ledger.RunLedger
	metrics    *observability.Provider
	logger     *slog.Logger

	completionTimeout time.Duration
	renderTimeout     time.Duration
	clock             func() time.Time
	newID             func() string
}

// New constructs an orchestrator from its collaborators.
func New(deps Deps, opts ...Option) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "orchestrator")
	}
	o := &Orchestrator{
		orders:     deps.Orders,
		executions: deps.Executions,
		cache:      deps.Cache,
		prompts:    deps.Prompts,
		provider:   deps.Provider,
		renderer:   deps.Renderer,
		services:   deps.Services,
		snapshots:  snapshot.NewService(),
		runLedger:  deps.RunLedger,
		metrics:    deps.Metrics,
		logger:     logger,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.snapshots = o.snapshots.WithClock(o.clock)
	return o
}
