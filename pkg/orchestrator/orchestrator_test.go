package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docugen-labs/docugen/pkg/completion"
	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/ledger"
	"github.com/docugen-labs/docugen/pkg/prompt"
	"github.com/docugen-labs/docugen/pkg/render"
	"github.com/docugen-labs/docugen/pkg/store"
)

type fakeProvider struct {
	calls int32
	text  string
	err   error
}

func (p *fakeProvider) Complete(_ context.Context, _, _ string) (*completion.Completion, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return &completion.Completion{Text: p.text, PromptTokens: 11, CompletionTokens: 22}, nil
}

func (p *fakeProvider) callCount() int { return int(atomic.LoadInt32(&p.calls)) }

type fakeRenderer struct {
	calls   int32
	fail    bool
	err     error
	version int32
}

func (r *fakeRenderer) Render(_ context.Context, _ *render.Request) (*render.Result, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	if r.fail {
		return &render.Result{Success: false, ErrorMessage: "template missing"}, nil
	}
	v := int(atomic.AddInt32(&r.version, 1))
	return &render.Result{
		Success: true,
		Version: v,
		Documents: &contracts.RenderedDocuments{
			DOCX: contracts.RenderedArtifact{Filename: "doc.docx", ContentHash: "hash-docx", SizeBytes: 100},
			PDF:  contracts.RenderedArtifact{Filename: "doc.pdf", ContentHash: "hash-pdf", SizeBytes: 200},
		},
		OutputHash: "output-hash",
		DurationMS: 5,
	}, nil
}

func (r *fakeRenderer) callCount() int { return int(atomic.LoadInt32(&r.calls)) }

type harness struct {
	orch     *Orchestrator
	orders   *store.MemoryOrderStore
	execs    *store.MemoryExecutionStore
	provider *fakeProvider
	renderer *fakeRenderer
	ledger   *ledger.RunLedger
}

func letterTemplate() prompt.ManagedTemplate {
	return prompt.ManagedTemplate{
		TemplateID:   "tmpl-letter",
		ServiceCode:  "LETTER",
		Version:      "1.0.0",
		SystemPrompt: "Respond with strict JSON only, matching the letter schema.",
		UserTemplate: "Write the letter from this intake:\n" + prompt.IntakePlaceholder,
		SchemaKeys:   []string{"body"},
		Active:       true,
	}
}

func newHarness(t *testing.T, templates ...prompt.ManagedTemplate) *harness {
	t.Helper()
	if templates == nil {
		templates = []prompt.ManagedTemplate{letterTemplate()}
	}

	h := &harness{
		orders:   store.NewMemoryOrderStore(),
		execs:    store.NewMemoryExecutionStore(),
		provider: &fakeProvider{text: `{"body": "Dear Sir, ..."}`},
		renderer: &fakeRenderer{},
		ledger:   ledger.NewRunLedger(),
	}
	h.orders.Seed(&contracts.Order{
		OrderID:          "O1",
		ServiceCode:      "LETTER",
		Status:           "PAID",
		PaymentConfirmed: true,
	})

	h.orch = New(Deps{
		Orders:     h.orders,
		Executions: h.execs,
		Prompts:    prompt.NewChain(prompt.NewManagedSource(templates...)),
		Provider:   h.provider,
		Renderer:   h.renderer,
		Services: MapCatalog{
			"LETTER": {Code: "LETTER", Name: "Compliance Letter", DocType: "LETTER", Active: true},
			"OLD":    {Code: "OLD", Active: false},
		},
		RunLedger: h.ledger,
	})
	return h
}

func execute(h *harness) contracts.Result {
	return h.orch.ExecutePipeline(context.Background(), "O1",
		map[string]any{"applicant": "Ada"}, false, nil, false)
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	res := execute(h)

	require.True(t, res.Success)
	require.Equal(t, contracts.StatusReviewPending, res.Status)
	require.Equal(t, 1, res.Version)
	require.NotEmpty(t, res.ExecutionID)
	require.NotNil(t, res.RenderedDocuments)
	require.Equal(t, "doc.docx", res.RenderedDocuments.DOCX.Filename)
	require.Equal(t, "doc.pdf", res.RenderedDocuments.PDF.Filename)
	require.Equal(t, "Dear Sir, ...", res.StructuredOutput["body"])
	require.Equal(t, 11, res.PromptTokens)
	require.Equal(t, 22, res.CompletionTokens)
	require.Equal(t, "tmpl-letter", res.PromptVersionUsed.TemplateID)

	// Order side effects.
	order, err := h.orders.Find(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, contracts.StatusReviewPending, order.OrchestrationStatus)
	require.Equal(t, 1, order.CurrentVersion)
	require.Len(t, order.DocumentVersions, 1)
	require.Equal(t, res.ExecutionID, order.DocumentVersions[0].ExecutionID)
	require.Equal(t, "tmpl-letter", order.PromptVersionUsed.TemplateID)

	// Execution ledger.
	records := h.execs.All()
	require.Len(t, records, 1)
	require.Equal(t, contracts.StatusReviewPending, records[0].Status)
	require.NotEmpty(t, records[0].SnapshotHash)
	require.NotEmpty(t, records[0].IdempotencyKey)

	// Run ledger chained and verifiable.
	ok, reason := h.ledger.Verify()
	require.True(t, ok, reason)
	require.Len(t, h.ledger.Entries(), 1)
}

func TestIdempotentReplayDoesNotRenderTwice(t *testing.T) {
	h := newHarness(t)

	first := execute(h)
	require.True(t, first.Success)

	second := execute(h)
	require.True(t, second.Success)
	require.Equal(t, first.Version, second.Version)
	require.Equal(t, first.ExecutionID, second.ExecutionID)

	require.Equal(t, 1, h.renderer.callCount(), "render must be invoked at most once")
	require.Equal(t, 1, h.provider.callCount(), "provider must be invoked at most once")
	require.Len(t, h.execs.All(), 1)
}

func TestSentinelKeyNeverReachesRender(t *testing.T) {
	h := newHarness(t)
	h.provider.text = `{"parse_error": "model could not comply"}`

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, res.ErrorCode)
	require.Equal(t, 0, h.renderer.callCount())
}

func TestNonJSONOutputNeverReachesRender(t *testing.T) {
	h := newHarness(t)
	h.provider.text = "I am sorry, here is your letter: Dear Sir..."

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, res.ErrorCode)
	require.Equal(t, 0, h.renderer.callCount())
}

func TestEmptyOutputNeverReachesRender(t *testing.T) {
	h := newHarness(t)
	h.provider.text = `{}`

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeEmptyOutput, res.ErrorCode)
	require.Equal(t, 0, h.renderer.callCount())
}

func TestSchemaMismatchNeverReachesRender(t *testing.T) {
	h := newHarness(t)
	h.provider.text = `{"unexpected": "content"}`

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeSchemaMismatch, res.ErrorCode)
	require.Equal(t, 0, h.renderer.callCount())
}

func TestValidationIssuesStoredAndReplayed(t *testing.T) {
	h := newHarness(t)
	h.provider.text = `{"unexpected": "content"}`

	first := execute(h)
	require.False(t, first.Success)
	require.Equal(t, contracts.ErrCodeSchemaMismatch, first.ErrorCode)
	require.NotEmpty(t, first.ValidationIssues)

	rec := h.execs.All()[0]
	require.Equal(t, contracts.StatusFailed, rec.Status)
	require.Equal(t, first.ValidationIssues, rec.ValidationIssues,
		"the audit row must carry the per-check detail")

	// A duplicate call replays the recorded failure, issues included.
	replay := execute(h)
	require.False(t, replay.Success)
	require.Equal(t, first.ValidationIssues, replay.ValidationIssues)
	require.Equal(t, 1, h.provider.callCount())
}

func TestProviderErrorRecordedOnOrderAndLedger(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("provider timeout")

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeGPTError, res.ErrorCode)
	require.Equal(t, contracts.StatusFailed, res.Status)

	order, err := h.orders.Find(context.Background(), "O1")
	require.NoError(t, err)
	require.Equal(t, contracts.StatusFailed, order.OrchestrationStatus)
	require.NotNil(t, order.LastOrchestrationError)
	require.Equal(t, contracts.ErrCodeGPTError, order.LastOrchestrationError.Code)
	require.Equal(t, contracts.StageCompletion, order.LastOrchestrationError.Stage)
	require.NotNil(t, order.FailedAt)

	records := h.execs.All()
	require.Len(t, records, 1)
	require.Equal(t, contracts.StatusFailed, records[0].Status)
}

func TestErrorMessageTruncatedToExactBound(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New(strings.Repeat("x", contracts.MaxErrorMessageLength*3))

	res := execute(h)
	require.False(t, res.Success)
	require.Len(t, *res.ErrorMessage, contracts.MaxErrorMessageLength)

	order, _ := h.orders.Find(context.Background(), "O1")
	require.Len(t, order.LastOrchestrationError.Message, contracts.MaxErrorMessageLength)
}

func TestCachedFailureWithoutForce(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("provider down")

	first := execute(h)
	require.False(t, first.Success)
	require.Equal(t, 1, h.provider.callCount())

	// Same call again without force: the cached failure comes back and no
	// external call is made.
	second := execute(h)
	require.False(t, second.Success)
	require.Equal(t, contracts.ErrCodeGPTError, second.ErrorCode)
	require.Equal(t, first.ExecutionID, second.ExecutionID)
	require.Equal(t, 1, h.provider.callCount())
	require.Equal(t, 0, h.renderer.callCount())
}

func TestForceRetryRunsAgain(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("provider down")

	first := execute(h)
	require.False(t, first.Success)

	h.provider.err = nil
	res := h.orch.ExecutePipeline(context.Background(), "O1",
		map[string]any{"applicant": "Ada"}, false, nil, true)
	require.True(t, res.Success)
	require.NotEqual(t, first.ExecutionID, res.ExecutionID, "forced retry gets a fresh execution id")
	require.Equal(t, 2, h.provider.callCount())
	require.Equal(t, 1, h.renderer.callCount())
}

func TestAtMostOneFailureRowPerExecution(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("provider down")

	res := execute(h)
	require.False(t, res.Success)

	// Callers finalize the same failed result twice; still one FAILED row.
	require.NoError(t, h.orch.FinalizeFailure(context.Background(), res, contracts.StageCompletion, ""))
	require.NoError(t, h.orch.FinalizeFailure(context.Background(), res, contracts.StageCompletion, ""))

	var failed int
	for _, rec := range h.execs.All() {
		if rec.ExecutionID == res.ExecutionID && rec.Status == contracts.StatusFailed {
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestFinalizeFailurePreservesOriginalRecordFields(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("provider down")

	res := execute(h)
	require.NoError(t, h.orch.FinalizeFailure(context.Background(), res, contracts.StageCompletion, ""))

	rec := h.execs.All()[0]
	require.NotEmpty(t, rec.IdempotencyKey, "finalization must not erase the original key")
}

func TestFinalizeFailureRequiresExecutionID(t *testing.T) {
	h := newHarness(t)
	err := h.orch.FinalizeFailure(context.Background(), contracts.Result{}, "", "X")
	require.Error(t, err)
}

func TestOrderValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		order *contracts.Order
	}{
		{"unpaid", &contracts.Order{OrderID: "O2", ServiceCode: "LETTER", Status: "PAID"}},
		{"closed", &contracts.Order{OrderID: "O2", ServiceCode: "LETTER", Status: "CANCELLED", PaymentConfirmed: true}},
		{"no service code", &contracts.Order{OrderID: "O2", Status: "PAID", PaymentConfirmed: true}},
		{"inactive service", &contracts.Order{OrderID: "O2", ServiceCode: "OLD", Status: "PAID", PaymentConfirmed: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.orders.Seed(tc.order)
			res := h.orch.ExecutePipeline(context.Background(), "O2",
				map[string]any{"a": 1}, false, nil, false)
			require.False(t, res.Success)
			require.Equal(t, contracts.ErrCodeOrderInvalid, res.ErrorCode)
			require.Equal(t, 0, h.provider.callCount())
		})
	}
}

func TestMissingOrder(t *testing.T) {
	h := newHarness(t)
	res := h.orch.ExecutePipeline(context.Background(), "ghost",
		map[string]any{"a": 1}, false, nil, false)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeOrderInvalid, res.ErrorCode)
}

func TestNoPromptResolved(t *testing.T) {
	h := newHarness(t, prompt.ManagedTemplate{
		TemplateID: "tmpl-other", ServiceCode: "OTHER", Version: "1.0.0", Active: true,
	})
	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeNoPrompt, res.ErrorCode)
	require.Equal(t, 0, h.provider.callCount())
}

func TestManagedTemplateWithoutPlaceholderIsConfigError(t *testing.T) {
	tmpl := letterTemplate()
	tmpl.UserTemplate = "forgot the injection point"
	h := newHarness(t, tmpl)

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodePromptConfig, res.ErrorCode)
	require.Equal(t, 0, h.provider.callCount(), "config errors never reach the provider")
	require.Equal(t, 0, h.renderer.callCount())
}

func TestRenderReportedFailure(t *testing.T) {
	h := newHarness(t)
	h.renderer.fail = true

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeRenderFailed, res.ErrorCode)
	require.Equal(t, "template missing", *res.ErrorMessage)
}

func TestRenderTransportError(t *testing.T) {
	h := newHarness(t)
	h.renderer.err = errors.New("connection refused")

	res := execute(h)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeRenderError, res.ErrorCode)
}

func TestRegenerationRunsFreshAndCountsUp(t *testing.T) {
	h := newHarness(t)

	first := execute(h)
	require.True(t, first.Success)
	require.Equal(t, 1, first.Version)

	notes := "tighten the second paragraph"
	regen := h.orch.ExecutePipeline(context.Background(), "O1",
		map[string]any{"applicant": "Ada"}, true, &notes, false)
	require.True(t, regen.Success)
	require.Equal(t, 2, regen.Version, "regeneration is a new logical request")
	require.True(t, regen.IsRegeneration)
	require.Equal(t, 2, h.renderer.callCount())

	order, _ := h.orders.Find(context.Background(), "O1")
	require.Equal(t, 1, order.RegenerationCount)
	require.Equal(t, 2, order.CurrentVersion)
	require.Len(t, order.DocumentVersions, 2)
}

func TestRegenerationNotesNeverInStoredKey(t *testing.T) {
	h := newHarness(t)
	notes := "customer Jane Doe wants the SSN 000-11-2222 removed"

	res := h.orch.ExecutePipeline(context.Background(), "O1",
		map[string]any{"applicant": "Ada"}, true, &notes, false)
	require.True(t, res.Success)

	for _, rec := range h.execs.All() {
		require.NotContains(t, rec.IdempotencyKey, "Jane")
		require.NotContains(t, rec.IdempotencyKey, "000-11-2222")
	}
}

func TestEmptyIntakeIsOrderInvalid(t *testing.T) {
	h := newHarness(t)
	res := h.orch.ExecutePipeline(context.Background(), "O1", nil, false, nil, false)
	require.False(t, res.Success)
	require.Equal(t, contracts.ErrCodeOrderInvalid, res.ErrorCode)
	require.Equal(t, 0, h.provider.callCount())
}

func TestSnapshotTakenBeforeProviderCall(t *testing.T) {
	h := newHarness(t)
	res := execute(h)
	require.True(t, res.Success)

	rec := h.execs.All()[0]
	require.NotNil(t, rec.IntakeSnapshot)
	require.Equal(t, rec.IntakeSnapshot.Hash, rec.SnapshotHash)
	require.Equal(t, "Ada", rec.IntakeSnapshot.Data["applicant"])
}

func TestLegacyPromptDataGapsSurfaceInResult(t *testing.T) {
	h := &harness{
		orders:   store.NewMemoryOrderStore(),
		execs:    store.NewMemoryExecutionStore(),
		provider: &fakeProvider{text: `{"body": "letter text"}`},
		renderer: &fakeRenderer{},
		ledger:   ledger.NewRunLedger(),
	}
	h.orders.Seed(&contracts.Order{
		OrderID: "O1", ServiceCode: "NOTICE", Status: "PAID", PaymentConfirmed: true,
	})
	h.orch = New(Deps{
		Orders:     h.orders,
		Executions: h.execs,
		Prompts: prompt.NewChain(prompt.NewLegacySource(map[string]prompt.LegacyEntry{
			"NOTICE": {
				TemplateID:   "legacy-notice",
				Version:      "1",
				SystemPrompt: "JSON only.",
				UserTemplate: "Notice for {{recipient}} regarding {{case_number}}",
				SchemaKeys:   []string{"body"},
			},
		})),
		Provider: h.provider,
		Renderer: h.renderer,
		Services: MapCatalog{"NOTICE": {Code: "NOTICE", Active: true}},
	})

	res := h.orch.ExecutePipeline(context.Background(), "O1",
		map[string]any{"recipient": "ACME Corp"}, false, nil, false)
	require.True(t, res.Success)
	require.Equal(t, []string{"case_number"}, res.DataGaps)
}
