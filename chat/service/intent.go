package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"karmika-sahayak/backend/ai"
	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"
)

// Classification sources, recorded with the label for observability.
const (
	SourceKeyword = "keyword"
	SourceLLM     = "llm"
	SourceDefault = "default"
)

// Classification is the dispatch decision for one message. The keyword layer
// always wins over the generative fallback.
type Classification struct {
	Label  string
	Source string
}

// Card keywords are checked before status keywords so that a message
// mentioning both resolves to the more specific card intent.
var cardKeywords = normalizeAll(
	// English
	"ecard", "e-card", "e card", "smart card", "labour card", "labor card",
	"my card", "id card", "identity card", "download card",
	// Kannada
	"ಕಾರ್ಡ್", "ಕಾರ್ಡು", "ಗುರುತಿನ ಚೀಟಿ",
	// Hindi
	"कार्ड", "ई-कार्ड", "पहचान पत्र",
)

var statusKeywords = normalizeAll(
	// English
	"status", "eligibility", "eligible", "my application", "my scheme",
	"my claim", "renewal date", "renewal due", "approved", "rejected",
	// Kannada
	"ಸ್ಥಿತಿ", "ಅರ್ಹತೆ", "ನನ್ನ ಅರ್ಜಿ", "ನವೀಕರಣ",
	// Hindi
	"स्थिति", "पात्रता", "मेरा आवेदन", "नवीनीकरण",
)

const classifyPromptFormat = `You label messages sent to a construction workers welfare board assistant.
Reply with exactly one word: CARD, STATUS, or GENERAL.

CARD: the user wants to view or download their labour card.
STATUS: the user asks about their own application, scheme status, eligibility, or renewal.
GENERAL: anything else, including questions about schemes and how to apply.

Message: "I want my ecard"
Label: CARD
Message: "ನನ್ನ ಅರ್ಜಿ ಏನಾಯಿತು?"
Label: STATUS
Message: "What documents do I need for marriage assistance?"
Label: GENERAL

Message: %q
Label:`

// IntentClassifier decides how a message is handled: a deterministic keyword
// layer first, then a constrained generative fallback for authenticated
// callers only.
type IntentClassifier struct {
	llm ai.Client
	log *logger.Logger
}

func NewIntentClassifier(llm ai.Client, log *logger.Logger) *IntentClassifier {
	return &IntentClassifier{llm: llm, log: log}
}

// Classify returns CARD, STATUS, or GENERAL. Classification never fails:
// transport errors and unparseable fallback output degrade to GENERAL.
func (c *IntentClassifier) Classify(ctx context.Context, message string, authenticated bool) Classification {
	cls := c.classify(ctx, message, authenticated)
	metrics.RecordIntent(cls.Label, cls.Source)
	return cls
}

func (c *IntentClassifier) classify(ctx context.Context, message string, authenticated bool) Classification {
	normalized := normalizeForMatch(message)

	if containsAny(normalized, cardKeywords) {
		return Classification{Label: models.IntentCard, Source: SourceKeyword}
	}
	if containsAny(normalized, statusKeywords) {
		return Classification{Label: models.IntentStatus, Source: SourceKeyword}
	}

	// The unauthenticated path stays cheap and deterministic.
	if !authenticated {
		return Classification{Label: models.IntentGeneral, Source: SourceDefault}
	}

	raw, err := c.llm.Classify(ctx, fmt.Sprintf(classifyPromptFormat, message))
	if err != nil {
		c.log.Warn("Intent fallback failed, defaulting to GENERAL", "error", err.Error())
		return Classification{Label: models.IntentGeneral, Source: SourceDefault}
	}
	if label, ok := parseLabel(raw); ok {
		return Classification{Label: label, Source: SourceLLM}
	}

	c.log.Debug("Intent fallback returned no usable label", "raw", raw)
	return Classification{Label: models.IntentGeneral, Source: SourceDefault}
}

// EffectiveIntent applies the login gate: personal intents from an
// unauthenticated caller become the synthetic LOGIN_REQUIRED outcome.
func EffectiveIntent(cls Classification, authenticated bool) string {
	if !authenticated && (cls.Label == models.IntentCard || cls.Label == models.IntentStatus) {
		return models.IntentLoginRequired
	}
	return cls.Label
}

// parseLabel extracts the first whitespace-delimited token, strips trailing
// punctuation, uppercases it, and accepts only the three valid labels.
func parseLabel(raw string) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	token := strings.ToUpper(strings.TrimRight(fields[0], ".,;:!?\"'`)"))
	switch token {
	case models.IntentCard, models.IntentStatus, models.IntentGeneral:
		return token, true
	}
	return "", false
}

// normalizeForMatch applies Unicode canonical form and full case folding,
// then drops zero-width characters that otherwise split keywords.
func normalizeForMatch(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, s)
}

func normalizeAll(keywords ...string) []string {
	out := make([]string, len(keywords))
	for i, k := range keywords {
		out[i] = normalizeForMatch(k)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
