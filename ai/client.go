package ai

import (
	"context"
	"fmt"

	"karmika-sahayak/backend/pkg/logger"
)

// Client is a generative backend. Implementations must be safe for
// concurrent use.
type Client interface {
	// Name identifies the backend for logs and metrics.
	Name() string

	// Chat runs a blocking completion over the given turns.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// ChatStream starts a streamed completion. The returned channel yields
	// content fragments and is closed after a Done or Err delta. Cancelling
	// the context aborts the stream.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)

	// Classify runs a deterministic completion with a tiny output budget.
	// The prompt is expected to elicit a single label token.
	Classify(ctx context.Context, prompt string) (string, error)

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewClient builds the backend selected by opts.Backend.
func NewClient(opts Options, log *logger.Logger) (Client, error) {
	switch opts.Backend {
	case "", "ollama":
		return NewOllamaClient(opts, log), nil
	case "openai":
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("openai backend selected but no API key configured")
		}
		return NewOpenAIClient(opts, log), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", opts.Backend)
	}
}
