package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/docugen-labs/docugen/pkg/canonicalize"
	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/ledger"
	"github.com/docugen-labs/docugen/pkg/render"
	"github.com/docugen-labs/docugen/pkg/store"
)

// persistSuccess writes the REVIEW_PENDING execution record, updates the
// order, and builds the success result. A duplicate-key insert means a
// concurrent run won the race; the winner's record is returned instead.
func (o *Orchestrator) persistSuccess(ctx context.Context, r *run, output map[string]any, renderRes *render.Result) contracts.Result {
	outputHash := renderRes.OutputHash
	if outputHash == "" {
		var err error
		if outputHash, err = canonicalize.CanonicalHash(output); err != nil {
			o.logger.Warn("output hash failed", "order_id", r.orderID, "error", err)
		}
	}

	now := o.clock().UTC()
	rec := &contracts.ExecutionRecord{
		ExecutionID:       r.executionID,
		OrderID:           r.orderID,
		ServiceCode:       r.serviceCode,
		Status:            contracts.StatusReviewPending,
		IdempotencyKey:    r.idempotencyKey,
		IntakeSnapshot:    r.snap,
		SnapshotHash:      r.snap.Hash,
		StructuredOutput:  output,
		OutputHash:        outputHash,
		Documents:         renderRes.Documents,
		Version:           renderRes.Version,
		PromptVersion:     r.promptVersion,
		DataGaps:          r.dataGaps,
		DurationMS:        o.clock().Sub(r.startedAt).Milliseconds(),
		PromptTokens:      r.promptTokens,
		CompletionTokens:  r.completionTokens,
		IsRegeneration:    r.regenerate,
		RegenerationNotes: r.notes,
		CreatedAt:         now,
	}

	if err := o.executions.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateExecution) {
			// A concurrent run with the same key committed first. Serve its
			// record; this run's render output is discarded.
			if winner, findErr := o.executions.FindLatestByIdempotencyKey(ctx, r.idempotencyKey); findErr == nil {
				o.logger.Info("lost idempotency write race, returning winner",
					"order_id", r.orderID, "execution_id", winner.ExecutionID)
				return resultFromRecord(winner)
			}
		}
		return o.fail(ctx, r, contracts.ErrCodeStorageError, "persist execution: "+err.Error())
	}

	if err := o.updateOrderSuccess(ctx, r, rec); err != nil {
		// The execution record is committed; only the order document is
		// stale. Surface as a storage failure so the caller retries.
		return o.fail(ctx, r, contracts.ErrCodeStorageError, "update order: "+err.Error())
	}

	if err := o.cache.Put(ctx, rec); err != nil {
		o.logger.Warn("idempotency cache put failed", "order_id", r.orderID, "error", err)
	}
	o.appendLedger(ledger.EventRunSucceeded, r.orderID, r.executionID, map[string]any{
		"idempotency_key": r.idempotencyKey,
		"version":         rec.Version,
		"snapshot_hash":   rec.SnapshotHash,
		"output_hash":     rec.OutputHash,
	})
	o.metrics.RunSucceeded(ctx, r.serviceCode)
	o.logger.Info("pipeline run succeeded",
		"order_id", r.orderID, "execution_id", r.executionID,
		"version", rec.Version, "duration_ms", rec.DurationMS)

	return resultFromRecord(rec)
}

func (o *Orchestrator) updateOrderSuccess(ctx context.Context, r *run, rec *contracts.ExecutionRecord) error {
	order, err := o.orders.Find(ctx, r.orderID)
	if err != nil {
		return err
	}
	order.OrchestrationStatus = contracts.StatusReviewPending
	order.CurrentVersion = rec.Version
	order.PromptVersionUsed = r.promptVersion
	order.LastOrchestrationError = nil
	order.FailedAt = nil
	if r.regenerate {
		order.RegenerationCount++
	}
	order.DocumentVersions = append(order.DocumentVersions, contracts.DocumentVersion{
		Version:        rec.Version,
		ExecutionID:    rec.ExecutionID,
		Documents:      rec.Documents,
		OutputHash:     rec.OutputHash,
		PromptVersion:  r.promptVersion,
		IsRegeneration: r.regenerate,
		CreatedAt:      rec.CreatedAt,
	})
	return o.orders.Update(ctx, order)
}

// fail records a failure (execution ledger + order descriptor + run ledger)
// and builds the caller-facing result. Recording is best effort: a broken
// store must not mask the original failure.
func (o *Orchestrator) fail(ctx context.Context, r *run, errorCode, message string) contracts.Result {
	message = contracts.TruncateErrorMessage(message)
	now := o.clock().UTC()

	rec := &contracts.ExecutionRecord{
		ExecutionID:       r.executionID,
		OrderID:           r.orderID,
		ServiceCode:       r.serviceCode,
		Status:            contracts.StatusFailed,
		IdempotencyKey:    r.idempotencyKey,
		IntakeSnapshot:    r.snap,
		PromptVersion:     r.promptVersion,
		ErrorCode:         errorCode,
		ErrorMessage:      message,
		FailureStage:      r.stage,
		ValidationIssues:  r.validationIssues,
		DataGaps:          r.dataGaps,
		DurationMS:        o.clock().Sub(r.startedAt).Milliseconds(),
		PromptTokens:      r.promptTokens,
		CompletionTokens:  r.completionTokens,
		IsRegeneration:    r.regenerate,
		RegenerationNotes: r.notes,
		CreatedAt:         now,
	}
	if r.snap != nil {
		rec.SnapshotHash = r.snap.Hash
	}
	if err := o.executions.UpsertFailed(ctx, rec); err != nil {
		o.logger.Error("failure record write failed",
			"order_id", r.orderID, "execution_id", r.executionID, "error", err)
	}

	o.markOrderFailed(ctx, r.orderID, &contracts.OrchestrationError{
		Code:          errorCode,
		Message:       message,
		Stage:         r.stage,
		ServiceCode:   r.serviceCode,
		DocType:       r.docType,
		PromptVersion: r.promptVersion,
		Timestamp:     now,
	})

	o.appendLedger(ledger.EventRunFailed, r.orderID, r.executionID, map[string]any{
		"error_code": errorCode,
		"stage":      r.stage,
	})
	o.metrics.RunFailed(ctx, r.serviceCode, errorCode, r.stage)
	o.logger.Warn("pipeline run failed",
		"order_id", r.orderID, "execution_id", r.executionID,
		"stage", r.stage, "error_code", errorCode)

	return contracts.Result{
		Success:           false,
		Status:            contracts.StatusFailed,
		OrderID:           r.orderID,
		ServiceCode:       r.serviceCode,
		ExecutionID:       r.executionID,
		ErrorCode:         errorCode,
		ErrorMessage:      &message,
		ValidationIssues:  r.validationIssues,
		DataGaps:          r.dataGaps,
		DurationMS:        rec.DurationMS,
		PromptTokens:      r.promptTokens,
		CompletionTokens:  r.completionTokens,
		PromptVersionUsed: r.promptVersion,
		IsRegeneration:    r.regenerate,
	}
}

func (o *Orchestrator) markOrderFailed(ctx context.Context, orderID string, descr *contracts.OrchestrationError) {
	order, err := o.orders.Find(ctx, orderID)
	if err != nil {
		// Order may legitimately not exist (ORDER_INVALID path).
		return
	}
	order.OrchestrationStatus = contracts.StatusFailed
	order.LastOrchestrationError = descr
	ts := descr.Timestamp
	order.FailedAt = &ts
	if err := o.orders.Update(ctx, order); err != nil {
		o.logger.Error("order failure update failed", "order_id", orderID, "error", err)
	}
}

// FinalizeFailure lets callers that hold a failed Result mark the order and
// ledger as failed without re-running anything. It reuses the result's
// execution id, so repeated finalization never produces a second FAILED row.
func (o *Orchestrator) FinalizeFailure(ctx context.Context, result contracts.Result, stage, errorCode string) error {
	if result.ExecutionID == "" {
		return fmt.Errorf("orchestrator: finalize failure: result has no execution id")
	}
	if errorCode == "" {
		errorCode = result.ErrorCode
	}
	if stage == "" {
		stage = contracts.StagePersistence
	}
	message := ""
	if result.ErrorMessage != nil {
		message = contracts.TruncateErrorMessage(*result.ErrorMessage)
	}
	now := o.clock().UTC()

	// Merge over the existing FAILED row when present so fields recorded by
	// the original run (idempotency key, snapshot hash) survive.
	rec, err := o.executions.FindFailedByExecutionID(ctx, result.ExecutionID)
	if err != nil {
		if !errors.Is(err, store.ErrExecutionNotFound) {
			return fmt.Errorf("orchestrator: finalize failure lookup: %w", err)
		}
		rec = &contracts.ExecutionRecord{
			ExecutionID:    result.ExecutionID,
			OrderID:        result.OrderID,
			ServiceCode:    result.ServiceCode,
			Status:         contracts.StatusFailed,
			PromptVersion:  result.PromptVersionUsed,
			IsRegeneration: result.IsRegeneration,
			CreatedAt:      now,
		}
	}
	rec.ErrorCode = errorCode
	rec.ErrorMessage = message
	rec.FailureStage = stage

	if err := o.executions.UpsertFailed(ctx, rec); err != nil {
		return fmt.Errorf("orchestrator: finalize failure write: %w", err)
	}

	o.markOrderFailed(ctx, result.OrderID, &contracts.OrchestrationError{
		Code:          errorCode,
		Message:       message,
		Stage:         stage,
		ServiceCode:   result.ServiceCode,
		DocType:       result.ServiceCode,
		PromptVersion: result.PromptVersionUsed,
		Timestamp:     now,
	})
	o.appendLedger(ledger.EventRunFailed, result.OrderID, result.ExecutionID, map[string]any{
		"error_code": errorCode,
		"stage":      stage,
		"finalized":  true,
	})
	return nil
}
