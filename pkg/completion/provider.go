// Package completion invokes the external text-completion provider and
// strictly validates that what came back is real structured content, not
// garbage, echoed intake, or a provider error wrapper.
package completion

import "context"

// Completion is one raw provider response plus token accounting.
type Completion struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Provider is the external completion collaborator. Implementations must
// honor ctx cancellation and deadlines; the orchestrator supplies the
// execution-time budget through ctx.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
}
