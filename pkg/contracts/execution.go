package contracts

import (
	"time"
	"unicode/utf8"
)

// IntakeSnapshot is the immutable, hashed copy of user-submitted intake data,
// taken before any external call. It is the anchor for audit and dispute
// resolution: once created it is never mutated.
type IntakeSnapshot struct {
	Data      map[string]any `json:"data"`
	Hash      string         `json:"hash"`
	CreatedAt time.Time      `json:"created_at"`
}

// RenderedArtifact describes one binary artifact produced by the render
// collaborator. The engine treats the bytes as opaque and persists only the
// descriptor.
type RenderedArtifact struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

// RenderedDocuments holds the two artifact kinds every successful run produces.
type RenderedDocuments struct {
	DOCX RenderedArtifact `json:"docx"`
	PDF  RenderedArtifact `json:"pdf"`
}

// ExecutionRecord is the immutable audit row for one pipeline run attempt.
//
// Invariants:
//   - at most one FAILED record exists per ExecutionID (failure writes are
//     upserts keyed on execution_id + status)
//   - successful records are append-only and never overwritten
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ExecutionRecord struct {
	ExecutionID       string             `json:"execution_id"`
	OrderID           string             `json:"order_id"`
	ServiceCode       string             `json:"service_code"`
	Status            RunStatus          `json:"status"`
	IdempotencyKey    string             `json:"idempotency_key"`
	IntakeSnapshot    *IntakeSnapshot    `json:"intake_snapshot,omitempty"`
	SnapshotHash      string             `json:"snapshot_hash,omitempty"`
	StructuredOutput  map[string]any     `json:"structured_output,omitempty"`
	OutputHash        string             `json:"output_hash,omitempty"`
	Documents         *RenderedDocuments `json:"documents,omitempty"`
	Version           int                `json:"version"`
	PromptVersion     *PromptVersion     `json:"prompt_version,omitempty"`
	ValidationIssues  []string           `json:"validation_issues,omitempty"`
	DataGaps          []string           `json:"data_gaps,omitempty"`
	ErrorCode         string             `json:"error_code,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	FailureStage      string             `json:"failure_stage,omitempty"`
	DurationMS        int64              `json:"duration_ms"`
	PromptTokens      int                `json:"prompt_tokens"`
	CompletionTokens  int                `json:"completion_tokens"`
	IsRegeneration    bool               `json:"is_regeneration"`
	RegenerationNotes string             `json:"regeneration_notes,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// OrchestrationError is the bounded failure descriptor written onto an Order.
// Message is truncated to MaxErrorMessageLength before storage.
type OrchestrationError struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Stage         string         `json:"stage"`
	ServiceCode   string         `json:"service_code"`
	DocType       string         `json:"doc_type"`
	PromptVersion *PromptVersion `json:"prompt_version,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// MaxErrorMessageLength bounds stored error messages so a pathological
// provider error cannot bloat the order document.
const MaxErrorMessageLength = 500

// TruncateErrorMessage enforces the storage bound on failure messages. The
// cut backs off to a rune boundary so the stored message stays valid UTF-8.
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLength {
		return msg
	}
	cut := MaxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
