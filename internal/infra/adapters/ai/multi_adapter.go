// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"idea-explorer/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*MultiAIAdapter)(nil)

// ErrNoProvider is returned when no backend is configured for a model.
var ErrNoProvider = errors.New("no ai provider configured")

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.ProviderAdapter
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

// NewMultiAIAdapter only knows a default provider; each provider adapter
// is responsible for its own default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.ProviderAdapter,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) (string, adapter.ProviderAdapter) {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return prov, a
	}
	// last resort: first available, in a stable order
	names := make([]string, 0, len(m.byProvider))
	for name := range m.byProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if a := m.byProvider[name]; a != nil {
			return name, a
		}
	}
	return "", nil
}

// ProviderName reports which backend serves model.
func (m *MultiAIAdapter) ProviderName(model string) string {
	name, _ := m.pick(model)
	return name
}

func (m *MultiAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.modelToProvider)+4)

	for model := range m.modelToProvider {
		if _, ok := seen[model]; !ok {
			seen[model] = struct{}{}
			out = append(out, model)
		}
	}
	for _, a := range m.byProvider {
		list, _ := a.ListModels(ctx)
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MultiAIAdapter) Complete(ctx context.Context, model, system, prompt string) (string, adapter.Usage, error) {
	_, a := m.pick(model)
	if a == nil {
		return "", adapter.Usage{}, ErrNoProvider
	}
	return a.Complete(ctx, model, system, prompt)
}
