package adapter

import (
	"context"

	"idea-explorer/internal/domain/model"
)

type GenerateRequest struct {
	Idea            string
	Mode            model.Mode
	Model           string
	Context         string
	ExistingContent string
}

type GenerateResult struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Usage for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerationAdapter is the port for research generation.
// Failures wrap domain.ErrGeneration.
type GenerationAdapter interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// ProviderAdapter is implemented by each LLM provider backend.
type ProviderAdapter interface {
	ListModels(ctx context.Context) ([]string, error)
	// Complete sends a system and user prompt and returns the text plus usage
	// as reported by the provider (zero when unavailable).
	Complete(ctx context.Context, model, system, prompt string) (string, Usage, error)
}
