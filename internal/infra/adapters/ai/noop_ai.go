package ai

import (
	"context"
	"fmt"
	"time"

	"idea-explorer/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.ProviderAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter answers with a canned document for local/dev runs.
type NoopAIAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

func NewNoopAIAdapter(logger *zerolog.Logger, delay time.Duration) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAI").Logger()
	return &NoopAIAdapter{delay: delay, log: &l}
}

func (a *NoopAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"noop"}, nil
}

func (a *NoopAIAdapter) Complete(ctx context.Context, model, system, prompt string) (string, adapter.Usage, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return "", adapter.Usage{}, ctx.Err()
		}
	}
	a.log.Debug().Str("model", model).Int("prompt_len", len(prompt)).Msg("noop completion")
	// Usage is left at zero so the token estimate is used.
	return fmt.Sprintf("# Research (noop)\n\nGenerated locally for model %s.\n", model), adapter.Usage{}, nil
}
