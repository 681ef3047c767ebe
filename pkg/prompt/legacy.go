package prompt

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// LegacyEntry is one fixed prompt in the legacy registry. Legacy prompts
// predate the managed catalog; their user templates use {{field}} tokens
// substituted from the intake instead of a single JSON injection point.
type LegacyEntry struct {
	TemplateID   string   `yaml:"template_id"`
	Version      string   `yaml:"version"`
	SystemPrompt string   `yaml:"system_prompt"`
	UserTemplate string   `yaml:"user_template"`
	SchemaKeys   []string `yaml:"schema_keys,omitempty"`
}

// LegacySource serves prompts from a fixed registry keyed by service code.
type LegacySource struct {
	entries map[string]LegacyEntry
}

// NewLegacySource creates a legacy source from a prebuilt registry.
func NewLegacySource(entries map[string]LegacyEntry) *LegacySource {
	if entries == nil {
		entries = map[string]LegacyEntry{}
	}
	return &LegacySource{entries: entries}
}

// LoadLegacySource reads a YAML registry of the form
//
//	LETTER:
//	  template_id: legacy-letter
//	  version: "1"
//	  system_prompt: ...
//	  user_template: ...
func LoadLegacySource(r io.Reader) (*LegacySource, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("prompt: read legacy registry: %w", err)
	}
	var entries map[string]LegacyEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("prompt: parse legacy registry: %w", err)
	}
	return NewLegacySource(entries), nil
}

// Name implements Source.
func (s *LegacySource) Name() string { return "legacy" }

// Resolve implements Source.
func (s *LegacySource) Resolve(_ context.Context, serviceCode, docType string) (bool, *contracts.PromptDefinition, *contracts.PromptVersion, error) {
	e, ok := s.entries[serviceCode]
	if !ok {
		return false, nil, nil, nil
	}

	def := &contracts.PromptDefinition{
		SystemPrompt: e.SystemPrompt,
		UserTemplate: e.UserTemplate,
		SchemaKeys:   e.SchemaKeys,
		Managed:      false,
	}
	ver := &contracts.PromptVersion{
		TemplateID:  e.TemplateID,
		Version:     e.Version,
		ServiceCode: serviceCode,
		DocType:     docType,
		Source:      contracts.PromptSourceLegacy,
	}
	return true, def, ver, nil
}
