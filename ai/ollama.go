package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"
)

// OllamaClient talks to a local Ollama server over its HTTP API.
type OllamaClient struct {
	baseURL string
	client  *http.Client
	opts    Options
	log     *logger.Logger
}

// NewOllamaClient creates a client for the given options.
func NewOllamaClient(opts Options, log *logger.Logger) *OllamaClient {
	return &OllamaClient{
		baseURL: opts.OllamaURL,
		client:  &http.Client{},
		opts:    opts,
		log:     log,
	}
}

// Name identifies the backend.
func (c *OllamaClient) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// genOptions maps the configured sampling parameters onto Ollama's options
// object.
func (c *OllamaClient) genOptions() map[string]any {
	return map[string]any{
		"temperature":    c.opts.Temperature,
		"top_p":          c.opts.TopP,
		"top_k":          c.opts.TopK,
		"repeat_penalty": c.opts.RepeatPenalty,
	}
}

func (c *OllamaClient) chatMessages(req ChatRequest) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	}
	return append(msgs, req.Messages...)
}

// Chat runs a blocking completion.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("chat", c.Name(), time.Since(start).Seconds()) }()

	body := ollamaChatRequest{
		Model:    c.opts.Model,
		Messages: c.chatMessages(req),
		Stream:   false,
		Options:  c.genOptions(),
	}

	var out ollamaChatResponse
	if err := c.post(ctx, "/api/chat", body, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// ChatStream starts a streamed completion and returns a channel of deltas.
func (c *OllamaClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	body := ollamaChatRequest{
		Model:    c.opts.Model,
		Messages: c.chatMessages(req),
		Stream:   true,
		Options:  c.genOptions(),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	ch := make(chan StreamDelta)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		defer func() { metrics.ObserveLLM("chat_stream", c.Name(), time.Since(start).Seconds()) }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				c.log.Warn("Skipping malformed stream chunk", "error", err.Error())
				continue
			}

			delta := StreamDelta{Content: chunk.Message.Content, Done: chunk.Done}
			select {
			case ch <- delta:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}

		err := scanner.Err()
		if err == nil {
			// Stream ended without a done marker.
			err = io.ErrUnexpectedEOF
		}
		select {
		case ch <- StreamDelta{Err: fmt.Errorf("ollama stream: %w", err)}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Classify runs a deterministic completion with a tiny output budget.
func (c *OllamaClient) Classify(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("classify", c.Name(), time.Since(start).Seconds()) }()

	body := ollamaChatRequest{
		Model:    c.opts.Model,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
		Stream:   false,
		Options: map[string]any{
			"temperature": 0.0,
			"num_predict": classifyMaxTokens,
		},
	}

	var out ollamaChatResponse
	if err := c.post(ctx, "/api/chat", body, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// Embed returns the embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM("embed", c.Name(), time.Since(start).Seconds()) }()

	body := ollamaEmbedRequest{Model: c.opts.EmbedModel, Prompt: text}

	var out ollamaEmbedResponse
	if err := c.post(ctx, "/api/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return out.Embedding, nil
}

// post sends a JSON request and decodes a JSON response.
func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
