package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

func managedLetter(version string, active bool) ManagedTemplate {
	return ManagedTemplate{
		TemplateID:   "tmpl-letter",
		ServiceCode:  "LETTER",
		Version:      version,
		SystemPrompt: "Respond with strict JSON only.",
		UserTemplate: "Write a letter from: " + IntakePlaceholder,
		SchemaKeys:   []string{"body"},
		Active:       active,
	}
}

func TestChainManagedFirst(t *testing.T) {
	chain := NewChain(
		NewManagedSource(managedLetter("1.0.0", true)),
		NewLegacySource(map[string]LegacyEntry{
			"LETTER": {TemplateID: "legacy-letter", Version: "1"},
		}),
	)

	def, ver, err := chain.Resolve(context.Background(), "LETTER", "LETTER")
	require.NoError(t, err)
	require.True(t, def.Managed)
	require.Equal(t, contracts.PromptSourceManaged, ver.Source)
	require.Equal(t, "tmpl-letter", ver.TemplateID)
	require.Equal(t, "LETTER", ver.DocType)
}

func TestManagedPicksHighestActiveSemver(t *testing.T) {
	src := NewManagedSource(
		managedLetter("1.0.0", true),
		managedLetter("2.1.0", true),
		managedLetter("3.0.0", false), // published but not yet activated
		managedLetter("not-semver", true),
	)

	found, _, ver, err := src.Resolve(context.Background(), "LETTER", "LETTER")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2.1.0", ver.Version)
}

func TestChainFallsBackToLegacy(t *testing.T) {
	chain := NewChain(
		NewManagedSource(),
		NewLegacySource(map[string]LegacyEntry{
			"NOTICE": {TemplateID: "legacy-notice", Version: "2", UserTemplate: "Dear {{recipient}}"},
		}),
	)

	def, ver, err := chain.Resolve(context.Background(), "NOTICE", "NOTICE")
	require.NoError(t, err)
	require.False(t, def.Managed)
	require.Equal(t, contracts.PromptSourceLegacy, ver.Source)
}

func TestPackFallbackOnlyForPackServices(t *testing.T) {
	chain := NewChain(NewManagedSource(), NewLegacySource(nil), DefaultPackFallback())

	def, ver, err := chain.Resolve(context.Background(), "PACK_STARTUP", "PACK_STARTUP")
	require.NoError(t, err)
	require.Equal(t, contracts.PromptSourceOrchestrator, ver.Source)
	require.Contains(t, def.UserTemplate, IntakePlaceholder)

	_, _, err = chain.Resolve(context.Background(), "LETTER", "LETTER")
	require.ErrorIs(t, err, ErrNoPrompt)
}

func TestLoadLegacySourceYAML(t *testing.T) {
	yamlDoc := `
LETTER:
  template_id: legacy-letter
  version: "3"
  system_prompt: JSON only.
  user_template: "Letter for {{applicant.name}}"
  schema_keys: [body]
`
	src, err := LoadLegacySource(stringsReader(yamlDoc))
	require.NoError(t, err)

	found, def, ver, err := src.Resolve(context.Background(), "LETTER", "LETTER")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", ver.Version)
	require.Equal(t, []string{"body"}, def.SchemaKeys)
}
