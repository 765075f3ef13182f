package ai

import (
	"context"

	"idea-explorer/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ProviderAdapter = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.ProviderAdapter
	sem   chan struct{}
}

// NewLimitedAI caps in-flight completions across all workers.
func NewLimitedAI(inner adapter.ProviderAdapter, maxConcurrent int) adapter.ProviderAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedAI) Complete(ctx context.Context, model, system, prompt string) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Complete(ctx, model, system, prompt)
}

// ProviderName forwards to the wrapped adapter when it can name providers.
func (l *limitedAI) ProviderName(model string) string {
	if n, ok := l.inner.(interface{ ProviderName(string) string }); ok {
		return n.ProviderName(model)
	}
	return ""
}
