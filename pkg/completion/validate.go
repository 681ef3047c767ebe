package completion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// sentinelKeys are keys some providers emit instead of real content when
// their own JSON parsing or generation failed. Output carrying any of these
// is treated as invalid, never rendered.
var sentinelKeys = []string{"parse_error", "parsing_error", "error", "raw_response", "raw_output"}

// ValidationError is a coded rejection of provider output. Code is one of
// the contracts error codes; Issues carries per-check detail for the audit
// trail.
type ValidationError struct {
	Code    string
	Message string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Parse decodes raw provider text into a structured map. Code fences are
// tolerated since some providers wrap JSON despite instructions.
func Parse(raw string) (map[string]any, error) {
	trimmed := stripFences(strings.TrimSpace(raw))
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, &ValidationError{
			Code:    contracts.ErrCodeLLMInvalidJSON,
			Message: "provider output is not a JSON object",
			Issues:  []string{err.Error()},
		}
	}
	return out, nil
}

// Validate applies the post-parse checks, in order:
//  1. non-empty object (EMPTY_OUTPUT)
//  2. no sentinel parse-failure keys (LLM_INVALID_JSON)
//  3. at least one declared schema key present (SCHEMA_MISMATCH)
//  4. full JSON Schema validation when the prompt carries one (SCHEMA_MISMATCH)
func Validate(def *contracts.PromptDefinition, output map[string]any) error {
	if len(output) == 0 {
		return &ValidationError{
			Code:    contracts.ErrCodeEmptyOutput,
			Message: "provider returned an empty object",
		}
	}

	for _, key := range sentinelKeys {
		if _, ok := output[key]; ok {
			return &ValidationError{
				Code:    contracts.ErrCodeLLMInvalidJSON,
				Message: "provider output carries parse-failure sentinel key",
				Issues:  []string{"sentinel key: " + key},
			}
		}
	}

	if len(def.SchemaKeys) > 0 && !hasAnyKey(output, def.SchemaKeys) {
		return &ValidationError{
			Code:    contracts.ErrCodeSchemaMismatch,
			Message: "provider output matches none of the declared schema keys",
			Issues:  []string{"expected one of: " + strings.Join(def.SchemaKeys, ", ")},
		}
	}

	if def.OutputSchema != "" {
		if err := validateSchema(def.OutputSchema, output); err != nil {
			return err
		}
	}
	return nil
}

func validateSchema(schemaDoc string, output map[string]any) error {
	schema, err := jsonschema.CompileString("output_schema.json", schemaDoc)
	if err != nil {
		return &ValidationError{
			Code:    contracts.ErrCodeSchemaMismatch,
			Message: "declared output schema does not compile",
			Issues:  []string{err.Error()},
		}
	}
	if err := schema.Validate(asInterface(output)); err != nil {
		return &ValidationError{
			Code:    contracts.ErrCodeSchemaMismatch,
			Message: "provider output fails declared output schema",
			Issues:  []string{err.Error()},
		}
	}
	return nil
}

// asInterface round-trips through encoding/json so numeric types match what
// the schema validator expects.
func asInterface(m map[string]any) any {
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
