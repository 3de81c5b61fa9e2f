package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is the hosted-model backend.
type OpenAIClient struct {
	client *openai.Client
	opts   Options
	log    *logger.Logger
}

// NewOpenAIClient creates a client for the given options.
func NewOpenAIClient(opts Options, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(opts.OpenAIKey),
		opts:   opts,
		log:    log,
	}
}

// Name identifies the backend.
func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) chatMessages(req ChatRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// Chat runs a blocking completion.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("chat", c.Name(), time.Since(start).Seconds()) }()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    c.chatMessages(req),
		Temperature: float32(c.opts.Temperature),
		TopP:        float32(c.opts.TopP),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream starts a streamed completion and returns a channel of deltas.
func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    c.chatMessages(req),
		Temperature: float32(c.opts.Temperature),
		TopP:        float32(c.opts.TopP),
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	ch := make(chan StreamDelta)
	go func() {
		defer close(ch)
		defer stream.Close()

		start := time.Now()
		defer func() { metrics.ObserveLLM("chat_stream", c.Name(), time.Since(start).Seconds()) }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case ch <- StreamDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case ch <- StreamDelta{Err: fmt.Errorf("openai stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			select {
			case ch <- StreamDelta{Content: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Classify runs a deterministic completion with a tiny output budget.
func (c *OpenAIClient) Classify(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("classify", c.Name(), time.Since(start).Seconds()) }()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		// omitempty drops an exact zero, which would fall back to the
		// server default; use the smallest value the API accepts.
		Temperature: 1e-8,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai classify failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("embed", c.Name(), time.Since(start).Seconds()) }()

	model := openai.EmbeddingModel(c.opts.EmbedModel)
	if c.opts.EmbedModel == "" || c.opts.EmbedModel == "nomic-embed-text" {
		model = openai.SmallEmbedding3
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}
