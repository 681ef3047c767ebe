package completion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

func letterDef() *contracts.PromptDefinition {
	return &contracts.PromptDefinition{SchemaKeys: []string{"body", "subject"}}
}

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Code
}

func TestParseValidJSON(t *testing.T) {
	out, err := Parse(`{"body": "Dear Sir"}`)
	require.NoError(t, err)
	require.Equal(t, "Dear Sir", out["body"])
}

func TestParseToleratesCodeFences(t *testing.T) {
	out, err := Parse("```json\n{\"body\": \"x\"}\n```")
	require.NoError(t, err)
	require.Equal(t, "x", out["body"])
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, err := Parse("I am sorry, I cannot do that.")
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, validationCode(t, err))
}

func TestParseRejectsJSONArray(t *testing.T) {
	_, err := Parse(`["a", "b"]`)
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, validationCode(t, err))
}

func TestValidateEmptyOutput(t *testing.T) {
	err := Validate(letterDef(), map[string]any{})
	require.Equal(t, contracts.ErrCodeEmptyOutput, validationCode(t, err))
}

func TestValidateSentinelKeys(t *testing.T) {
	err := Validate(letterDef(), map[string]any{"parse_error": "upstream blew up"})
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, validationCode(t, err))
}

func TestValidateSchemaKeyMismatch(t *testing.T) {
	err := Validate(letterDef(), map[string]any{"unrelated": "content"})
	require.Equal(t, contracts.ErrCodeSchemaMismatch, validationCode(t, err))
}

func TestValidateAcceptsPartialSchemaKeys(t *testing.T) {
	// One declared key present is enough.
	require.NoError(t, Validate(letterDef(), map[string]any{"body": "text"}))
}

func TestValidateNoDeclaredKeysAcceptsAnyObject(t *testing.T) {
	def := &contracts.PromptDefinition{}
	require.NoError(t, Validate(def, map[string]any{"whatever": 1}))
}

func TestValidateFullJSONSchema(t *testing.T) {
	def := &contracts.PromptDefinition{
		SchemaKeys: []string{"body"},
		OutputSchema: `{
			"type": "object",
			"required": ["body"],
			"properties": {"body": {"type": "string", "minLength": 1}}
		}`,
	}

	require.NoError(t, Validate(def, map[string]any{"body": "Dear Sir"}))

	err := Validate(def, map[string]any{"body": 42})
	require.Equal(t, contracts.ErrCodeSchemaMismatch, validationCode(t, err))
}

func TestValidationOrderSentinelBeforeSchema(t *testing.T) {
	// An output that both carries a sentinel key and misses schema keys must
	// report LLM_INVALID_JSON, not SCHEMA_MISMATCH.
	err := Validate(letterDef(), map[string]any{"error": "quota exceeded"})
	require.Equal(t, contracts.ErrCodeLLMInvalidJSON, validationCode(t, err))
}
