package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RunStarted(ctx, "LETTER")
	p.RunSucceeded(ctx, "LETTER")
	p.RunShortCircuited(ctx, "LETTER")
	p.RunFailed(ctx, "LETTER", "GPT_ERROR", "completion")
	p.ObserveCompletion(ctx, time.Second)
	p.ObserveRender(ctx, time.Second)

	_, span := p.StartStage(ctx, "completion", "O1")
	span.End()

	require.NoError(t, p.Shutdown(ctx))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	ctx := context.Background()

	p.RunStarted(ctx, "LETTER")
	p.RunFailed(ctx, "LETTER", "GPT_ERROR", "completion")
	_, span := p.StartStage(ctx, "render", "O1")
	span.End()
	require.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "docugen-engine", cfg.ServiceName)
	require.False(t, cfg.Enabled)
}
