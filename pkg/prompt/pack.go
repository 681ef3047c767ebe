package prompt

import (
	"context"
	"strings"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// packPrefix marks the document-pack service family. Pack services bundle
// several documents under one order and fall back to a single
// orchestrator-level prompt when neither the managed catalog nor the legacy
// registry carries a dedicated one.
const packPrefix = "PACK_"

// PackFallbackSource is the last resolver in the chain for pack services.
type PackFallbackSource struct {
	SystemPrompt string
	UserTemplate string
	SchemaKeys   []string
	Version      string
}

// DefaultPackFallback returns the built-in orchestrator prompt for packs.
func DefaultPackFallback() *PackFallbackSource {
	return &PackFallbackSource{
		SystemPrompt: "You are a compliance document drafter. Respond with a single strict JSON object containing the document sections. Do not emit prose outside JSON.",
		UserTemplate: "Draft the documents for this pack service using the following intake data:\n" + IntakePlaceholder,
		SchemaKeys:   []string{"documents"},
		Version:      "1.0.0",
	}
}

// Name implements Source.
func (s *PackFallbackSource) Name() string { return "pack-fallback" }

// Resolve implements Source. Only PACK_* services are eligible.
func (s *PackFallbackSource) Resolve(_ context.Context, serviceCode, docType string) (bool, *contracts.PromptDefinition, *contracts.PromptVersion, error) {
	if !strings.HasPrefix(serviceCode, packPrefix) {
		return false, nil, nil, nil
	}

	def := &contracts.PromptDefinition{
		SystemPrompt: s.SystemPrompt,
		UserTemplate: s.UserTemplate,
		SchemaKeys:   s.SchemaKeys,
		Managed:      true, // uses the managed injection placeholder
	}
	ver := &contracts.PromptVersion{
		TemplateID:  "pack-orchestrator",
		Version:     s.Version,
		ServiceCode: serviceCode,
		DocType:     docType,
		Source:      contracts.PromptSourceOrchestrator,
	}
	return true, def, ver, nil
}
