// Package prompt resolves versioned prompt definitions for document services
// and builds the final user-facing prompt text. Resolution walks an ordered
// chain of sources; the first source that knows the service wins.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/docugen-labs/docugen/pkg/contracts"
)

// ErrNoPrompt is returned when every source in the chain comes up empty.
var ErrNoPrompt = errors.New("prompt: no prompt resolved for service")

// Source is one resolver in the chain. found=false with a nil error means
// "not mine, try the next source"; an error aborts the chain.
type Source interface {
	Name() string
	Resolve(ctx context.Context, serviceCode, docType string) (found bool, def *contracts.PromptDefinition, ver *contracts.PromptVersion, err error)
}

// Chain is an ordered list of prompt sources.
type Chain struct {
	sources []Source
}

// NewChain builds a resolver chain. Order matters: managed sources go first,
// fixed registries and orchestrator fallbacks last.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// Resolve walks the chain and returns the first hit.
func (c *Chain) Resolve(ctx context.Context, serviceCode, docType string) (*contracts.PromptDefinition, *contracts.PromptVersion, error) {
	for _, src := range c.sources {
		found, def, ver, err := src.Resolve(ctx, serviceCode, docType)
		if err != nil {
			return nil, nil, fmt.Errorf("prompt: source %s: %w", src.Name(), err)
		}
		if found {
			return def, ver, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoPrompt, serviceCode)
}
