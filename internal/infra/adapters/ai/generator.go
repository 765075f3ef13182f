package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/adapter"
	"idea-explorer/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ adapter.GenerationAdapter = (*Generator)(nil)

const businessSystemPrompt = `You are a startup analyst. Produce a research document in Markdown for the
idea you are given. Cover the problem, target customers, market size, competitors,
business model, risks and a concrete validation plan. Be specific and skeptical.`

const explorationSystemPrompt = `You are a curious research partner. Explore the idea you are given in
Markdown: related concepts, prior art, open questions, surprising angles and
directions worth a first experiment. Favor breadth and insight over a business case.`

// Generator turns an idea into a research document through a provider.
type Generator struct {
	provider adapter.ProviderAdapter
	counter  *TokenCounter
	log      *zerolog.Logger
}

func NewGenerator(provider adapter.ProviderAdapter, counter *TokenCounter, logger *zerolog.Logger) *Generator {
	if counter == nil {
		counter = NewTokenCounter()
	}
	l := logger.With().Str("component", "Generator").Logger()
	return &Generator{provider: provider, counter: counter, log: &l}
}

func (g *Generator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	system := SystemPrompt(req.Mode)
	prompt := BuildPrompt(req)

	start := time.Now()
	text, usage, err := g.provider.Complete(ctx, req.Model, system, prompt)
	elapsed := time.Since(start).Milliseconds()
	provider := g.providerName(req.Model)
	if err != nil {
		metrics.ObserveGeneration(provider, req.Model, 0, 0, elapsed, false)
		return adapter.GenerateResult{}, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ObserveGeneration(provider, req.Model, 0, 0, elapsed, false)
		return adapter.GenerateResult{}, fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}

	in, out := usage.PromptTokens, usage.CompletionTokens
	if in == 0 && out == 0 {
		in = g.counter.Count(system) + g.counter.Count(prompt)
		out = g.counter.Count(text)
		g.log.Debug().Str("model", req.Model).Msg("provider reported no usage; estimated tokens")
	}
	metrics.ObserveGeneration(provider, req.Model, in, out, elapsed, true)

	return adapter.GenerateResult{Content: text, InputTokens: in, OutputTokens: out}, nil
}

func (g *Generator) providerName(model string) string {
	if n, ok := g.provider.(interface{ ProviderName(string) string }); ok {
		if name := n.ProviderName(model); name != "" {
			return name
		}
	}
	return "default"
}

// SystemPrompt selects the instruction set for a mode.
func SystemPrompt(mode model.Mode) string {
	if mode == model.ModeExploration {
		return explorationSystemPrompt
	}
	return businessSystemPrompt
}

// BuildPrompt renders the user prompt. Existing content is included so an
// update continues the document instead of repeating it.
func BuildPrompt(req adapter.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("Idea: ")
	b.WriteString(strings.TrimSpace(req.Idea))
	b.WriteString("\n")
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(c)
		b.WriteString("\n")
	}
	if e := strings.TrimSpace(req.ExistingContent); e != "" {
		b.WriteString("\nExisting research (extend it with new findings, do not repeat it):\n")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}
