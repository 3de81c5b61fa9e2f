package ai

import "time"

// Message roles used in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries a system prompt and conversation turns.
type ChatRequest struct {
	System   string
	Messages []Message
}

// StreamDelta is one fragment of a streamed completion. Err is set on the
// final delta when the stream failed; Done marks a successful end.
type StreamDelta struct {
	Content string
	Done    bool
	Err     error
}

// Options configures a generative backend.
type Options struct {
	Backend       string // "ollama" or "openai"
	OllamaURL     string
	OpenAIKey     string
	Model         string
	EmbedModel    string
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Timeout       time.Duration
}

// classifyMaxTokens caps the completion budget for Classify calls. The
// expected reply is a single label token.
const classifyMaxTokens = 8
