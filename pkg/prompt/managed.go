package prompt

import (
	"context"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// ManagedTemplate is one versioned prompt template in the managed source.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ManagedTemplate struct {
	TemplateID   string   `json:"template_id" yaml:"template_id"`
	ServiceCode  string   `json:"service_code" yaml:"service_code"`
	Version      string   `json:"version" yaml:"version"` // semver
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	UserTemplate string   `json:"user_template" yaml:"user_template"`
	SchemaKeys   []string `json:"schema_keys,omitempty" yaml:"schema_keys,omitempty"`
	OutputSchema string   `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Active       bool     `json:"active" yaml:"active"`
}

// ManagedSource serves prompts from the managed template catalog. When a
// service has several active versions the highest semver wins, so publishing
// a new version takes effect without a deploy.
type ManagedSource struct {
	mu        sync.RWMutex
	templates []ManagedTemplate
}

// NewManagedSource creates a managed source seeded with templates.
func NewManagedSource(templates ...ManagedTemplate) *ManagedSource {
	return &ManagedSource{templates: templates}
}

// Publish adds a template version to the catalog.
func (s *ManagedSource) Publish(t ManagedTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, t)
}

// Name implements Source.
func (s *ManagedSource) Name() string { return "managed" }

// Resolve implements Source. Inactive versions and unparseable versions are
// skipped rather than failing the chain.
func (s *ManagedSource) Resolve(_ context.Context, serviceCode, docType string) (bool, *contracts.PromptDefinition, *contracts.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    *ManagedTemplate
		bestVer *semver.Version
	)
	for i := range s.templates {
		t := &s.templates[i]
		if t.ServiceCode != serviceCode || !t.Active {
			continue
		}
		v, err := semver.NewVersion(t.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = t, v
		}
	}
	if best == nil {
		return false, nil, nil, nil
	}

	def := &contracts.PromptDefinition{
		SystemPrompt: best.SystemPrompt,
		UserTemplate: best.UserTemplate,
		SchemaKeys:   best.SchemaKeys,
		OutputSchema: best.OutputSchema,
		Managed:      true,
	}
	ver := &contracts.PromptVersion{
		TemplateID:  best.TemplateID,
		Version:     best.Version,
		ServiceCode: serviceCode,
		DocType:     docType,
		Source:      contracts.PromptSourceManaged,
	}
	return true, def, ver, nil
}
