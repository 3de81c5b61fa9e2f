package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmika-sahayak/backend/ai"
	"karmika-sahayak/backend/chat/models"
	"karmika-sahayak/backend/kbocw"
	"karmika-sahayak/backend/vectorstore"
)

func testComposerOptions() ComposerOptions {
	return ComposerOptions{
		HistoryWindow:      6,
		HistoryWindowAuth:  10,
		MaxAnswerChars:     4000,
		TopK:               5,
		CertaintyThreshold: 0.35,
	}
}

func newTestComposer(llm *fakeLLM, search *fakeSearcher, opts ComposerOptions) *Composer {
	return NewComposer(llm, search, opts, quietLogger())
}

func collectDeltas(t *testing.T, ch <-chan ai.StreamDelta) []ai.StreamDelta {
	t.Helper()
	var out []ai.StreamDelta
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		case <-timeout:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestComposeSentinelsSkipGeneration(t *testing.T) {
	llm := &fakeLLM{}
	c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

	answer, err := c.Compose(context.Background(), ComposeInput{
		Question: "please sign me in first",
		Intent:   models.IntentLoginRequired,
	})
	require.NoError(t, err)
	assert.Equal(t, LoginRequiredReply, answer)

	answer, err = c.Compose(context.Background(), ComposeInput{
		Question: "download my card",
		Intent:   models.IntentCard,
	})
	require.NoError(t, err)
	assert.Equal(t, CardDownloadReply, answer)

	chats, _, _, embeds := llm.counts()
	assert.Zero(t, chats)
	assert.Zero(t, embeds)
}

func TestComposeStreamSentinelShape(t *testing.T) {
	llm := &fakeLLM{}
	c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

	ch, err := c.ComposeStream(context.Background(), ComposeInput{Intent: models.IntentCard})
	require.NoError(t, err)

	deltas := collectDeltas(t, ch)
	require.Len(t, deltas, 2)
	assert.Equal(t, CardDownloadReply, deltas[0].Content)
	assert.True(t, deltas[1].Done)

	_, streams, _, _ := llm.counts()
	assert.Zero(t, streams)
}

func TestComposeGeneralFiltersSnippetsByCertainty(t *testing.T) {
	llm := &fakeLLM{answer: "here is what the scheme covers"}
	search := &fakeSearcher{snips: []vectorstore.Snippet{
		{Text: "Funeral assistance pays the nominee.", Certainty: 0.91},
		{Text: "Pension needs sixty years of age.", Certainty: 0.40},
		{Text: "Totally unrelated paragraph.", Certainty: 0.20},
	}}
	c := newTestComposer(llm, search, testComposerOptions())

	_, err := c.Compose(context.Background(), ComposeInput{
		Question: "who receives funeral assistance",
		Intent:   models.IntentGeneral,
	})
	require.NoError(t, err)

	sys := llm.request().System
	assert.Contains(t, sys, "Funeral assistance pays the nominee.")
	assert.Contains(t, sys, "Pension needs sixty years of age.")
	assert.NotContains(t, sys, "Totally unrelated paragraph.")
	assert.Equal(t, 5, search.lastK)
}

func TestComposeGeneralSurvivesRetrievalFailure(t *testing.T) {
	t.Run("embedding fails", func(t *testing.T) {
		llm := &fakeLLM{answer: "best effort answer", embedErr: errors.New("model not loaded")}
		c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

		answer, err := c.Compose(context.Background(), ComposeInput{
			Question: "how to apply",
			Intent:   models.IntentGeneral,
		})
		require.NoError(t, err)
		assert.Equal(t, "best effort answer", answer)
		assert.NotContains(t, llm.request().System, "Knowledge base:")
	})

	t.Run("vector search fails", func(t *testing.T) {
		llm := &fakeLLM{answer: "best effort answer"}
		search := &fakeSearcher{err: errors.New("weaviate down")}
		c := newTestComposer(llm, search, testComposerOptions())

		answer, err := c.Compose(context.Background(), ComposeInput{
			Question: "how to apply",
			Intent:   models.IntentGeneral,
		})
		require.NoError(t, err)
		assert.Equal(t, "best effort answer", answer)
		assert.NotContains(t, llm.request().System, "Knowledge base:")
	})
}

func TestComposeStatusGroundsOnRecord(t *testing.T) {
	llm := &fakeLLM{answer: "your pension is approved"}
	search := &fakeSearcher{}
	c := newTestComposer(llm, search, testComposerOptions())

	record := &kbocw.UserRecord{
		UserID: "12345",
		Registration: &kbocw.Registration{
			FirstName: "Lakshmi", LastName: "Devi", CardStatus: kbocw.CardActive,
		},
	}
	_, err := c.Compose(context.Background(), ComposeInput{
		Question:      "is my pension approved",
		Intent:        models.IntentStatus,
		Authenticated: true,
		Record:        record,
	})
	require.NoError(t, err)

	sys := llm.request().System
	assert.Contains(t, sys, "User record:")
	assert.Contains(t, sys, "Lakshmi Devi")
	assert.Zero(t, search.count(), "status replies must not consult the knowledge base")

	_, _, _, embeds := llm.counts()
	assert.Zero(t, embeds)
}

func TestComposeStatusWithoutRecordAnswersGenerally(t *testing.T) {
	llm := &fakeLLM{answer: "I could not load your record"}
	search := &fakeSearcher{}
	c := newTestComposer(llm, search, testComposerOptions())

	_, err := c.Compose(context.Background(), ComposeInput{
		Question:      "is my pension approved",
		Intent:        models.IntentStatus,
		Authenticated: true,
		Record:        nil,
	})
	require.NoError(t, err)

	assert.NotContains(t, llm.request().System, "User record:")
	assert.Equal(t, 1, search.count())
}

func TestComposeGeneralIncludesCachedRecordForSignedInUser(t *testing.T) {
	llm := &fakeLLM{answer: "ok"}
	c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

	record := &kbocw.UserRecord{UserID: "777"}
	_, err := c.Compose(context.Background(), ComposeInput{
		Question:      "which schemes suit me",
		Intent:        models.IntentGeneral,
		Authenticated: true,
		Record:        record,
	})
	require.NoError(t, err)
	assert.Contains(t, llm.request().System, "Labour user ID: 777")
}

func TestComposeLanguageInstructions(t *testing.T) {
	tests := []struct {
		name     string
		language string
		contains string
		absent   bool
	}{
		{"kannada", "kn", "ಕನ್ನಡ", false},
		{"hindi", "hi", "हिन्दी", false},
		{"english has no block", "en", "Reply in", true},
		{"unknown code ignored", "zz", "Reply in", true},
		{"empty ignored", "", "Reply in", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{answer: "ok"}
			c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

			_, err := c.Compose(context.Background(), ComposeInput{
				Question: "hello",
				Intent:   models.IntentGeneral,
				Language: tt.language,
			})
			require.NoError(t, err)

			if tt.absent {
				assert.NotContains(t, llm.request().System, tt.contains)
			} else {
				assert.Contains(t, llm.request().System, tt.contains)
			}
		})
	}
}

func TestComposeHistoryWindowIsAHardCap(t *testing.T) {
	llm := &fakeLLM{answer: "ok"}
	c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

	history := make([]models.Message, 0, 20)
	for i := 0; i < 20; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: content(i)})
	}

	_, err := c.Compose(context.Background(), ComposeInput{
		Question: "latest question",
		Intent:   models.IntentGeneral,
		History:  history,
	})
	require.NoError(t, err)

	msgs := llm.request().Messages
	require.Len(t, msgs, 7, "six history entries plus the question")
	assert.Equal(t, content(14), msgs[0].Content)
	assert.Equal(t, content(19), msgs[5].Content)
	assert.Equal(t, "latest question", msgs[6].Content)
	assert.Equal(t, ai.RoleUser, msgs[0].Role)
	assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
}

func content(i int) string {
	return "message number " + string(rune('a'+i))
}

func TestComposeAnswerCapRespectsRuneBoundaries(t *testing.T) {
	opts := testComposerOptions()
	opts.MaxAnswerChars = 100
	llm := &fakeLLM{answer: strings.Repeat("ಕ", 250)}
	c := newTestComposer(llm, &fakeSearcher{}, opts)

	answer, err := c.Compose(context.Background(), ComposeInput{
		Question: "long answer please",
		Intent:   models.IntentGeneral,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(answer))
	assert.True(t, utf8.ValidString(answer))
}

func TestComposeStreamCapsMidStream(t *testing.T) {
	opts := testComposerOptions()
	opts.MaxAnswerChars = 10
	llm := &fakeLLM{streamDeltas: []ai.StreamDelta{
		{Content: "1234567"},
		{Content: "890XYZ"},
		{Content: "never seen"},
		{Done: true},
	}}
	c := newTestComposer(llm, &fakeSearcher{}, opts)

	ch, err := c.ComposeStream(context.Background(), ComposeInput{
		Question: "count for me",
		Intent:   models.IntentGeneral,
	})
	require.NoError(t, err)

	deltas := collectDeltas(t, ch)
	var full strings.Builder
	sawDone := false
	for _, d := range deltas {
		require.NoError(t, d.Err)
		if d.Done {
			sawDone = true
			break
		}
		full.WriteString(d.Content)
	}
	assert.True(t, sawDone)
	assert.Equal(t, "1234567890", full.String())
}

func TestComposeStreamForwardsBackendError(t *testing.T) {
	boom := errors.New("backend exploded")
	llm := &fakeLLM{streamDeltas: []ai.StreamDelta{
		{Content: "partial"},
		{Err: boom},
	}}
	c := newTestComposer(llm, &fakeSearcher{}, testComposerOptions())

	ch, err := c.ComposeStream(context.Background(), ComposeInput{
		Question: "hello",
		Intent:   models.IntentGeneral,
	})
	require.NoError(t, err)

	deltas := collectDeltas(t, ch)
	require.Len(t, deltas, 2)
	assert.Equal(t, "partial", deltas[0].Content)
	assert.ErrorIs(t, deltas[1].Err, boom)
}
