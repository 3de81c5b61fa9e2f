package service

import (
	"context"
	"strings"

	"karmika-sahayak/backend/ai"
	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/kbocw"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/vectorstore"
)

// Fixed sentinel replies. These bypass the generative backend entirely.
const (
	LoginRequiredReply = "This information is personal, so please sign in first. " +
		"Open the Karmika portal or app, log in with your registered mobile number " +
		"and OTP, and then ask me again. If you are not yet registered with the " +
		"board, you can register at your nearest Seva Sindhu centre."

	CardDownloadReply = "You can download your labour e-card yourself: open the " +
		"Karmika portal or app, sign in with your registered mobile number, go to " +
		"'My Card', and choose 'Download e-Card'. The card is saved as a PDF. If " +
		"the download fails, your registration or renewal may still be under " +
		"review; please check your application status."
)

const systemPersona = `You are Karmika Sahayak, the assistant of the Karnataka Building and Other Construction Workers Welfare Board. You help construction workers with welfare schemes, registration, renewal, and their labour cards. Be brief, factual, and practical. When you are not sure, say so and point the user to the board helpline or the nearest Seva Sindhu centre.`

const statusInstruction = `The user is asking about their own applications, card, or eligibility.
Answer ONLY from the user record below. If the record does not contain the answer, say that the information is not available on their record. Never invent statuses, dates, or amounts.`

const contextInstruction = `Use the knowledge-base excerpts below when they are relevant to the question. If they do not cover it, answer from the board's published scheme rules and say when something must be confirmed with the board.`

// languageInstructions holds the fixed per-language reply instructions.
// English needs none; codes outside this map are ignored entirely so that
// caller-supplied values never reach the prompt.
var languageInstructions = map[string]string{
	"kn": "Reply in Kannada (ಕನ್ನಡ). Use simple words a construction worker understands.",
	"hi": "Reply in Hindi (हिन्दी). Use simple words a construction worker understands.",
	"ta": "Reply in Tamil (தமிழ்). Use simple words a construction worker understands.",
	"te": "Reply in Telugu (తెలుగు). Use simple words a construction worker understands.",
	"ml": "Reply in Malayalam (മലയാളം). Use simple words a construction worker understands.",
	"mr": "Reply in Marathi (मराठी). Use simple words a construction worker understands.",
}

// SentinelReply returns the fixed reply for sentinel intents.
func SentinelReply(intent string) (string, bool) {
	switch intent {
	case models.IntentLoginRequired:
		return LoginRequiredReply, true
	case models.IntentCard:
		return CardDownloadReply, true
	}
	return "", false
}

// SnippetSearcher is the retrieval surface the composer needs.
type SnippetSearcher interface {
	QueryTopK(ctx context.Context, vector []float32, k int) ([]vectorstore.Snippet, error)
}

// ComposerOptions bound the prompt and the answer.
type ComposerOptions struct {
	HistoryWindow      int
	HistoryWindowAuth  int
	MaxAnswerChars     int
	TopK               int
	CertaintyThreshold float64
}

// ComposeInput carries everything the composer may use for one reply.
type ComposeInput struct {
	Question      string
	Intent        string
	Language      string
	Authenticated bool
	History       []models.Message
	Record        *kbocw.UserRecord
}

// Composer builds the system prompt per intent and invokes the generative
// backend, blocking or streaming. Sentinel intents short-circuit.
type Composer struct {
	llm    ai.Client
	search SnippetSearcher
	opts   ComposerOptions
	log    *logger.Logger
}

func NewComposer(llm ai.Client, search SnippetSearcher, opts ComposerOptions, log *logger.Logger) *Composer {
	return &Composer{llm: llm, search: search, opts: opts, log: log}
}

// HistoryDepth reports the deepest history any prompt variant can use, so
// callers know how many rows to snapshot.
func (c *Composer) HistoryDepth() int {
	if c.opts.HistoryWindowAuth > c.opts.HistoryWindow {
		return c.opts.HistoryWindowAuth
	}
	return c.opts.HistoryWindow
}

// Compose produces the full reply.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) (string, error) {
	if reply, ok := SentinelReply(in.Intent); ok {
		return reply, nil
	}

	answer, err := c.llm.Chat(ctx, c.buildRequest(ctx, in))
	if err != nil {
		return "", err
	}
	return capAnswer(answer, c.opts.MaxAnswerChars), nil
}

// ComposeStream produces the reply incrementally. Sentinel intents stream as
// a single chunk followed by done. The configured answer cap is enforced
// mid-stream: once the budget is spent the stream ends at the cap.
func (c *Composer) ComposeStream(ctx context.Context, in ComposeInput) (<-chan ai.StreamDelta, error) {
	if reply, ok := SentinelReply(in.Intent); ok {
		ch := make(chan ai.StreamDelta, 2)
		ch <- ai.StreamDelta{Content: reply}
		ch <- ai.StreamDelta{Done: true}
		close(ch)
		return ch, nil
	}

	raw, err := c.llm.ChatStream(ctx, c.buildRequest(ctx, in))
	if err != nil {
		return nil, err
	}

	out := make(chan ai.StreamDelta)
	go func() {
		defer close(out)

		unlimited := c.opts.MaxAnswerChars <= 0
		remaining := c.opts.MaxAnswerChars

		for delta := range raw {
			if !unlimited && delta.Content != "" {
				runes := []rune(delta.Content)
				if len(runes) > remaining {
					runes = runes[:remaining]
				}
				remaining -= len(runes)
				delta.Content = string(runes)
			}

			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
			if delta.Err != nil || delta.Done {
				return
			}

			if !unlimited && remaining == 0 {
				select {
				case out <- ai.StreamDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

// buildRequest assembles the system prompt and the truncated history.
func (c *Composer) buildRequest(ctx context.Context, in ComposeInput) ai.ChatRequest {
	var sb strings.Builder
	sb.WriteString(systemPersona)

	intent := in.Intent
	if intent == models.IntentStatus && in.Record == nil {
		// Record resolution failed upstream; answer as a general question.
		intent = models.IntentGeneral
	}

	switch intent {
	case models.IntentStatus:
		sb.WriteString("\n\n")
		sb.WriteString(statusInstruction)
		sb.WriteString("\n\nUser record:\n")
		sb.WriteString(in.Record.PromptText())

	default:
		if snippets := c.retrieve(ctx, in.Question); len(snippets) > 0 {
			sb.WriteString("\n\n")
			sb.WriteString(contextInstruction)
			sb.WriteString("\n\nKnowledge base:")
			for _, s := range snippets {
				sb.WriteString("\n---\n")
				sb.WriteString(s.Text)
			}
		}
		if in.Authenticated && in.Record != nil {
			sb.WriteString("\n\nThe user is signed in. Their record:\n")
			sb.WriteString(in.Record.PromptText())
		}
	}

	if instruction, ok := languageInstructions[in.Language]; ok {
		sb.WriteString("\n\n")
		sb.WriteString(instruction)
	}

	window := c.opts.HistoryWindow
	if in.Authenticated {
		window = c.opts.HistoryWindowAuth
	}
	history := truncateHistory(in.History, window)

	msgs := make([]ai.Message, 0, len(history)+1)
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == models.RoleAssistant {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: in.Question})

	return ai.ChatRequest{System: sb.String(), Messages: msgs}
}

// retrieve embeds the question and returns the snippets clearing the
// certainty threshold. Retrieval failures degrade to an empty context.
func (c *Composer) retrieve(ctx context.Context, question string) []vectorstore.Snippet {
	if c.search == nil {
		return nil
	}

	vec, err := c.llm.Embed(ctx, question)
	if err != nil {
		c.log.Warn("Question embedding failed, composing without context", "error", err.Error())
		return nil
	}

	snippets, err := c.search.QueryTopK(ctx, vec, c.opts.TopK)
	if err != nil {
		c.log.Warn("Vector search failed, composing without context", "error", err.Error())
		return nil
	}

	kept := make([]vectorstore.Snippet, 0, len(snippets))
	for _, s := range snippets {
		if s.Certainty >= c.opts.CertaintyThreshold {
			kept = append(kept, s)
		}
	}
	return kept
}

// truncateHistory keeps exactly the most recent window messages in their
// original chronological order. The cap is hard, not a token estimate.
func truncateHistory(history []models.Message, window int) []models.Message {
	if window <= 0 || len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

// capAnswer truncates at a rune boundary to at most max characters.
func capAnswer(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
