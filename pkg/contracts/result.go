package contracts

// Pipeline stages, recorded in failure descriptors so a dispute reviewer can
// see exactly how far a run got.
const (
	StageValidation  = "validation"
	StagePrompt      = "prompt"
	StageIdempotency = "idempotency"
	StageSnapshot    = "snapshot"
	StageCompletion  = "completion"
	StageRender      = "render"
	StagePersistence = "persistence"
)

// Error codes for every failure class the engine records. These are part of
// the public contract: callers map them to user-visible behavior.
const (
	ErrCodeOrderInvalid     = "ORDER_INVALID"
	ErrCodeNoPrompt         = "NO_PROMPT"
	ErrCodePromptConfig     = "PROMPT_CONFIG"
	ErrCodePromptBuildError = "PROMPT_BUILD_ERROR"
	ErrCodeLLMInvalidJSON   = "LLM_INVALID_JSON"
	ErrCodeGPTError         = "GPT_ERROR"
	ErrCodeEmptyOutput      = "EMPTY_OUTPUT"
	ErrCodeSchemaMismatch   = "SCHEMA_MISMATCH"
	ErrCodeRenderFailed     = "RENDER_FAILED"
	ErrCodeRenderError      = "RENDER_ERROR"

	// ErrCodeStorageError covers persistence failures after the external
	// calls succeeded. The run may have produced artifacts; the caller must
	// treat it as failed and retry with force.
	ErrCodeStorageError = "STORAGE_ERROR"
)

// Result is what ExecutePipeline returns to the route/workflow layer. No
// error or panic crosses the engine boundary; failures arrive here as a
// structured, bounded payload.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Result struct {
	Success           bool               `json:"success"`
	Status            RunStatus          `json:"status"`
	OrderID           string             `json:"order_id"`
	ServiceCode       string             `json:"service_code"`
	ExecutionID       string             `json:"execution_id"`
	Version           int                `json:"version"`
	StructuredOutput  map[string]any     `json:"structured_output,omitempty"`
	RenderedDocuments *RenderedDocuments `json:"rendered_documents,omitempty"`
	ErrorCode         string             `json:"error_code,omitempty"`
	ErrorMessage      *string            `json:"error_message,omitempty"`
	ValidationIssues  []string           `json:"validation_issues,omitempty"`
	DataGaps          []string           `json:"data_gaps,omitempty"`
	DurationMS        int64              `json:"duration_ms"`
	PromptTokens      int                `json:"prompt_tokens"`
	CompletionTokens  int                `json:"completion_tokens"`
	PromptVersionUsed *PromptVersion     `json:"prompt_version_used,omitempty"`
	IsRegeneration    bool               `json:"is_regeneration"`
}
