package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docugen-labs/docugen/pkg/completion"
	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/idempotency"
	"github.com/docugen-labs/docugen/pkg/ledger"
	"github.com/docugen-labs/docugen/pkg/prompt"
	"github.com/docugen-labs/docugen/pkg/render"
	"github.com/docugen-labs/docugen/pkg/snapshot"
	"github.com/docugen-labs/docugen/pkg/store"
)

// run accumulates per-invocation state so failure finalization can record
// everything known so far, no matter which stage broke.
type run struct {
	executionID string
	orderID     string
	serviceCode string
	docType     string
	stage       string
	startedAt   time.Time

	regenerate bool
	notes      string
	force      bool

	order            *contracts.Order
	promptDef        *contracts.PromptDefinition
	promptVersion    *contracts.PromptVersion
	idempotencyKey   string
	snap             *contracts.IntakeSnapshot
	dataGaps         []string
	validationIssues []string

	promptTokens     int
	completionTokens int
}

// ExecutePipeline runs the full generation pipeline for one order. It never
// returns an error or panics: every failure is recorded and comes back as a
// structured Result.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, orderID string, intake map[string]any, regenerate bool, regenerationNotes *string, force bool) (result contracts.Result) {
	r := &run{
		executionID: o.newID(),
		orderID:     orderID,
		stage:       contracts.StageValidation,
		startedAt:   o.clock(),
		regenerate:  regenerate,
		force:       force,
	}
	if regenerationNotes != nil {
		r.notes = *regenerationNotes
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("pipeline panic recovered",
				"order_id", orderID, "stage", r.stage, "panic", fmt.Sprint(rec))
			result = o.fail(ctx, r, codeForStage(r.stage), fmt.Sprintf("internal error: %v", rec))
		}
	}()

	// Stage: order validation.
	if res, ok := o.validateOrder(ctx, r); !ok {
		return res
	}
	o.metrics.RunStarted(ctx, r.serviceCode)

	// Stage: prompt resolution. DocType equals ServiceCode by design rule;
	// the alignment is what makes prompt usage traceable per service.
	r.stage = contracts.StagePrompt
	def, ver, err := o.prompts.Resolve(ctx, r.serviceCode, r.docType)
	if err != nil {
		return o.fail(ctx, r, contracts.ErrCodeNoPrompt, err.Error())
	}
	r.promptDef, r.promptVersion = def, ver

	// Stage: idempotency gate.
	r.stage = contracts.StageIdempotency
	r.idempotencyKey = idempotency.Key(idempotency.Request{
		OrderID:           r.orderID,
		ServiceCode:       r.serviceCode,
		Regeneration:      r.regenerate,
		OrderStatus:       r.order.Status,
		PromptVersion:     r.promptVersion,
		RegenerationNotes: r.notes,
	})
	if res, done := o.checkPriorRun(ctx, r); done {
		return res
	}

	// Stage: snapshot. Hard invariant: the snapshot exists before any
	// external call is attempted.
	r.stage = contracts.StageSnapshot
	snap, err := o.snapshots.Take(intake)
	if err != nil {
		if errors.Is(err, snapshot.ErrEmptyIntake) {
			return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "intake data is empty")
		}
		return o.fail(ctx, r, contracts.ErrCodePromptBuildError, err.Error())
	}
	r.snap = snap

	// Stage: prompt build. A managed template without the injection
	// placeholder is a configuration error and must never reach the provider.
	r.stage = contracts.StagePrompt
	built, err := prompt.Build(def, snap)
	if err != nil {
		if errors.Is(err, prompt.ErrMissingPlaceholder) {
			return o.fail(ctx, r, contracts.ErrCodePromptConfig, err.Error())
		}
		return o.fail(ctx, r, contracts.ErrCodePromptBuildError, err.Error())
	}
	r.dataGaps = built.DataGaps

	// Stage: completion invocation + output validation.
	r.stage = contracts.StageCompletion
	output, res, ok := o.invokeCompletion(ctx, r, built.UserPrompt)
	if !ok {
		return res
	}

	// Stage: render hand-off.
	r.stage = contracts.StageRender
	renderRes, res, ok := o.invokeRender(ctx, r, output)
	if !ok {
		return res
	}

	// Stage: persistence.
	r.stage = contracts.StagePersistence
	return o.persistSuccess(ctx, r, output, renderRes)
}

func (o *Orchestrator) validateOrder(ctx context.Context, r *run) (contracts.Result, bool) {
	order, err := o.orders.Find(ctx, r.orderID)
	if err != nil {
		return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "order not found: "+r.orderID), false
	}
	r.order = order
	r.serviceCode = order.ServiceCode
	r.docType = order.ServiceCode

	switch {
	case !order.PaymentConfirmed:
		return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "payment not confirmed"), false
	case order.Closed():
		return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "order status is terminal: "+order.Status), false
	case order.ServiceCode == "":
		return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "order has no service code"), false
	}

	svc, ok := o.services.Lookup(order.ServiceCode)
	if !ok || !svc.Active {
		return o.fail(ctx, r, contracts.ErrCodeOrderInvalid, "service is not active: "+order.ServiceCode), false
	}
	return contracts.Result{}, true
}

// checkPriorRun short-circuits duplicate or previously-failed executions.
// done=true means the returned result must be handed back without any new
// external call.
func (o *Orchestrator) checkPriorRun(ctx context.Context, r *run) (contracts.Result, bool) {
	if cached, ok := o.cache.Get(ctx, r.idempotencyKey); ok {
		o.metrics.RunShortCircuited(ctx, r.serviceCode)
		o.appendLedger(ledger.EventRunShortCut, r.orderID, cached.ExecutionID, map[string]any{
			"idempotency_key": r.idempotencyKey, "source": "cache",
		})
		return resultFromRecord(cached), true
	}

	prior, err := o.executions.FindLatestByIdempotencyKey(ctx, r.idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrExecutionNotFound) {
			return contracts.Result{}, false
		}
		return o.fail(ctx, r, contracts.ErrCodeStorageError, "idempotency lookup: "+err.Error()), true
	}

	switch prior.Status {
	case contracts.StatusReviewPending, contracts.StatusComplete:
		o.metrics.RunShortCircuited(ctx, r.serviceCode)
		o.appendLedger(ledger.EventRunShortCut, r.orderID, prior.ExecutionID, map[string]any{
			"idempotency_key": r.idempotencyKey, "source": "ledger",
		})
		if err := o.cache.Put(ctx, prior); err != nil {
			o.logger.Warn("idempotency cache put failed", "error", err)
		}
		return resultFromRecord(prior), true
	case contracts.StatusFailed:
		if !r.force {
			// Cached failure: recorded once by the original run, returned
			// as-is until the caller opts into a forced retry.
			return resultFromRecord(prior), true
		}
		return contracts.Result{}, false
	default:
		return contracts.Result{}, false
	}
}

func (o *Orchestrator) invokeCompletion(ctx context.Context, r *run, userPrompt string) (map[string]any, contracts.Result, bool) {
	callCtx, span := o.metrics.StartStage(ctx, contracts.StageCompletion, r.orderID)
	defer span.End()

	if o.completionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.completionTimeout)
		defer cancel()
	}

	started := o.clock()
	comp, err := o.provider.Complete(callCtx, r.promptDef.SystemPrompt, userPrompt)
	o.metrics.ObserveCompletion(ctx, o.clock().Sub(started))
	if err != nil {
		return nil, o.fail(ctx, r, contracts.ErrCodeGPTError, err.Error()), false
	}
	r.promptTokens = comp.PromptTokens
	r.completionTokens = comp.CompletionTokens

	output, err := completion.Parse(comp.Text)
	if err != nil {
		return nil, o.failValidation(ctx, r, err), false
	}
	if err := completion.Validate(r.promptDef, output); err != nil {
		return nil, o.failValidation(ctx, r, err), false
	}
	return output, contracts.Result{}, true
}

func (o *Orchestrator) invokeRender(ctx context.Context, r *run, output map[string]any) (*render.Result, contracts.Result, bool) {
	callCtx, span := o.metrics.StartStage(ctx, contracts.StageRender, r.orderID)
	defer span.End()

	if o.renderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.renderTimeout)
		defer cancel()
	}

	started := o.clock()
	res, err := o.renderer.Render(callCtx, &render.Request{
		OrderID:           r.orderID,
		StructuredOutput:  output,
		Snapshot:          r.snap,
		IsRegeneration:    r.regenerate,
		RegenerationNotes: r.notes,
		PromptVersion:     r.promptVersion,
	})
	o.metrics.ObserveRender(ctx, o.clock().Sub(started))
	if err != nil {
		return nil, o.fail(ctx, r, contracts.ErrCodeRenderError, err.Error()), false
	}
	if !res.Success {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "render collaborator reported failure"
		}
		return nil, o.fail(ctx, r, contracts.ErrCodeRenderFailed, msg), false
	}
	return res, contracts.Result{}, true
}

func (o *Orchestrator) failValidation(ctx context.Context, r *run, err error) contracts.Result {
	var ve *completion.ValidationError
	if errors.As(err, &ve) {
		// Issues go onto the run before recording so the FAILED record and
		// any later replay of it carry the same per-check detail.
		r.validationIssues = ve.Issues
		return o.fail(ctx, r, ve.Code, ve.Message)
	}
	return o.fail(ctx, r, contracts.ErrCodeLLMInvalidJSON, err.Error())
}

// codeForStage maps a stage to the error code used when a recovered panic
// leaves no better classification.
func codeForStage(stage string) string {
	switch stage {
	case contracts.StageCompletion:
		return contracts.ErrCodeGPTError
	case contracts.StageRender:
		return contracts.ErrCodeRenderError
	case contracts.StagePrompt:
		return contracts.ErrCodePromptBuildError
	case contracts.StagePersistence, contracts.StageIdempotency:
		return contracts.ErrCodeStorageError
	default:
		return contracts.ErrCodeOrderInvalid
	}
}

// resultFromRecord reconstructs the caller-facing result of a prior run.
func resultFromRecord(rec *contracts.ExecutionRecord) contracts.Result {
	res := contracts.Result{
		Success:           rec.Status == contracts.StatusReviewPending || rec.Status == contracts.StatusComplete,
		Status:            rec.Status,
		OrderID:           rec.OrderID,
		ServiceCode:       rec.ServiceCode,
		ExecutionID:       rec.ExecutionID,
		Version:           rec.Version,
		StructuredOutput:  rec.StructuredOutput,
		RenderedDocuments: rec.Documents,
		ValidationIssues:  rec.ValidationIssues,
		DataGaps:          rec.DataGaps,
		DurationMS:        rec.DurationMS,
		PromptTokens:      rec.PromptTokens,
		CompletionTokens:  rec.CompletionTokens,
		PromptVersionUsed: rec.PromptVersion,
		IsRegeneration:    rec.IsRegeneration,
	}
	if rec.Status == contracts.StatusFailed {
		res.ErrorCode = rec.ErrorCode
		msg := rec.ErrorMessage
		res.ErrorMessage = &msg
	}
	return res
}

func (o *Orchestrator) appendLedger(event ledger.EventType, orderID, executionID string, data map[string]any) {
	if _, err := o.runLedger.Append(event, orderID, executionID, data); err != nil {
		o.logger.Warn("run ledger append failed", "order_id", orderID, "error", err)
	}
}
