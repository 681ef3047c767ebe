package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docugen-labs/docugen/pkg/canonicalize"
	"github.com/docugen-labs/docugen/pkg/contracts"
)

// IntakePlaceholder is the single well-known injection point managed
// templates must carry. The JSON-encoded snapshot is substituted here.
const IntakePlaceholder = "{{INTAKE_JSON}}"

// notProvided is the legacy fallback for intake fields the user left empty.
const notProvided = "Not provided"

var (
	// ErrMissingPlaceholder means a managed template lacks IntakePlaceholder.
	// This is a configuration error: the run must fail before any external
	// call is attempted.
	ErrMissingPlaceholder = errors.New("prompt: managed template missing intake placeholder")

	legacyToken = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)
)

// BuiltPrompt is the final prompt text plus the fields that fell back to
// "Not provided" during legacy substitution.
type BuiltPrompt struct {
	UserPrompt string
	DataGaps   []string
}

// Build produces the user prompt from a resolved definition and the intake
// snapshot. Managed templates get the canonical snapshot JSON injected at the
// placeholder; legacy templates get per-field substitution.
func Build(def *contracts.PromptDefinition, snap *contracts.IntakeSnapshot) (*BuiltPrompt, error) {
	if def.Managed {
		return buildManaged(def, snap)
	}
	return buildLegacy(def, snap)
}

func buildManaged(def *contracts.PromptDefinition, snap *contracts.IntakeSnapshot) (*BuiltPrompt, error) {
	if !strings.Contains(def.UserTemplate, IntakePlaceholder) {
		return nil, ErrMissingPlaceholder
	}
	encoded, err := canonicalize.JCS(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("prompt: encode intake snapshot: %w", err)
	}
	return &BuiltPrompt{
		UserPrompt: strings.ReplaceAll(def.UserTemplate, IntakePlaceholder, string(encoded)),
	}, nil
}

func buildLegacy(def *contracts.PromptDefinition, snap *contracts.IntakeSnapshot) (*BuiltPrompt, error) {
	gaps := map[string]struct{}{}
	out := legacyToken.ReplaceAllStringFunc(def.UserTemplate, func(token string) string {
		field := legacyToken.FindStringSubmatch(token)[1]
		val, ok := lookupField(snap.Data, field)
		if !ok || val == "" {
			gaps[field] = struct{}{}
			return notProvided
		}
		return val
	})

	built := &BuiltPrompt{UserPrompt: out}
	for f := range gaps {
		built.DataGaps = append(built.DataGaps, f)
	}
	sort.Strings(built.DataGaps)
	return built, nil
}

// lookupField resolves a possibly dotted field path against the snapshot.
func lookupField(data map[string]any, path string) (string, bool) {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	return stringify(cur)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", t), true
	default:
		encoded, err := canonicalize.JCS(t)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}
