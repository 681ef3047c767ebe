// Package render defines the hand-off to the external render collaborator,
// which turns validated structured output into two binary artifacts. The
// engine treats the artifacts as opaque descriptors.
package render

import (
	"context"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// Request is everything the render collaborator needs for one hand-off.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Request struct {
	OrderID           string                    `json:"order_id"`
	StructuredOutput  map[string]any            `json:"structured_output"`
	Snapshot          *contracts.IntakeSnapshot `json:"intake_snapshot"`
	IsRegeneration    bool                      `json:"is_regeneration"`
	RegenerationNotes string                    `json:"regeneration_notes,omitempty"`
	PromptVersion     *contracts.PromptVersion  `json:"prompt_version,omitempty"`
}

// Result is what the collaborator reports back. Version numbers are
// monotonically increasing per order; the collaborator owns that counter.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Result struct {
	Success      bool                         `json:"success"`
	Version      int                          `json:"version"`
	Documents    *contracts.RenderedDocuments `json:"documents,omitempty"`
	OutputHash   string                       `json:"output_hash,omitempty"`
	DurationMS   int64                        `json:"duration_ms"`
	ErrorMessage string                       `json:"error_message,omitempty"`
}

// Coordinator is the render collaborator boundary. A returned error maps to
// RENDER_ERROR (transport/exception); a Result with Success=false maps to
// RENDER_FAILED (collaborator-reported failure).
type Coordinator interface {
	Render(ctx context.Context, req *Request) (*Result, error)
}
