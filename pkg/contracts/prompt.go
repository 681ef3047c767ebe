package contracts

// PromptSource identifies where a prompt definition was resolved from.
type PromptSource string

const (
	PromptSourceManaged      PromptSource = "MANAGED"
	PromptSourceLegacy       PromptSource = "LEGACY"
	PromptSourceOrchestrator PromptSource = "ORCHESTRATOR"
)

// PromptVersion identifies the exact prompt used for a run. It is a value
// type: captured verbatim into every execution record and onto the Order so
// that any generated document can be traced back to its prompt.
type PromptVersion struct {
	TemplateID  string       `json:"template_id"`
	Version     string       `json:"version"`
	ServiceCode string       `json:"service_code"`
	DocType     string       `json:"doc_type"`
	Source      PromptSource `json:"source"`
}

// PromptDefinition is the resolved prompt content for a service.
//
// SystemPrompt must instruct the provider to return strict JSON matching the
// target schema. UserTemplate is either a managed template carrying the
// intake-JSON injection placeholder, or a legacy template with {{field}}
// substitution tokens.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type PromptDefinition struct {
	SystemPrompt string   `json:"system_prompt"`
	UserTemplate string   `json:"user_template"`
	SchemaKeys   []string `json:"schema_keys,omitempty"`
	OutputSchema string   `json:"output_schema,omitempty"` // JSON Schema document, optional
	Managed      bool     `json:"managed"`
}
