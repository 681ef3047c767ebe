// Package idempotency computes the deterministic key that identifies one
// logical generation request. Two calls that would produce the same document
// must compute the same key; anything that changes the output (service,
// prompt version, regeneration intent) must change it.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

const (
	separator         = "|"
	markerGenerate    = "GEN"
	markerRegenerate  = "REGEN"
	placeholderStatus = "NO_STATUS"
	placeholderPrompt = "no-prompt"

	// notesHashLen bounds the notes digest contribution to the key. The hash
	// is one-way: raw regeneration notes may contain PII and must never
	// appear in the key.
	notesHashLen = 16
)

// Request carries everything that participates in key construction.
type Request struct {
	OrderID           string
	ServiceCode       string
	Regeneration      bool
	OrderStatus       string
	PromptVersion     *contracts.PromptVersion
	RegenerationNotes string
}

// Key builds the idempotency key for a request.
func Key(req Request) string {
	parts := []string{
		req.OrderID,
		req.ServiceCode,
		markerGenerate,
		req.OrderStatus,
		placeholderPrompt,
	}
	if req.Regeneration {
		parts[2] = markerRegenerate
	}
	if req.OrderStatus == "" {
		parts[3] = placeholderStatus
	}
	if pv := req.PromptVersion; pv != nil {
		parts[4] = pv.TemplateID + ":" + pv.Version
	}
	if req.Regeneration && req.RegenerationNotes != "" {
		parts = append(parts, hashNotes(req.RegenerationNotes))
	}
	return strings.Join(parts, separator)
}

func hashNotes(notes string) string {
	sum := sha256.Sum256([]byte(notes))
	return hex.EncodeToString(sum[:])[:notesHashLen]
}
