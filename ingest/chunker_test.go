package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMarkdownCarriesHeadingTrail(t *testing.T) {
	doc := strings.Join([]string{
		"# Benefits",
		"",
		"## Pension Scheme",
		"",
		"Workers aged 60 and above receive a monthly pension.",
		"",
		"### Eligibility",
		"",
		"Three years of continuous membership are required.",
	}, "\n")

	chunks := ChunkMarkdown(doc, DefaultChunkOptions())
	require.Len(t, chunks, 2)

	assert.True(t, strings.HasPrefix(chunks[0], "Section: Benefits\nScheme: Pension Scheme\n\n"), chunks[0])
	assert.Contains(t, chunks[0], "monthly pension")

	assert.True(t, strings.HasPrefix(chunks[1], "Section: Benefits\nScheme: Pension Scheme\nSubsection: Eligibility\n\n"), chunks[1])
	assert.Contains(t, chunks[1], "continuous membership")
}

func TestChunkMarkdownNewTopHeadingResetsTrail(t *testing.T) {
	doc := strings.Join([]string{
		"# Benefits",
		"## Pension Scheme",
		"Pension text.",
		"# Registration",
		"How to register.",
	}, "\n")

	chunks := ChunkMarkdown(doc, DefaultChunkOptions())
	require.Len(t, chunks, 2)
	assert.NotContains(t, chunks[1], "Scheme:", "a new top heading must clear the scheme")
	assert.True(t, strings.HasPrefix(chunks[1], "Section: Registration\n\n"))
}

func TestChunkMarkdownPreambleHasNoTrail(t *testing.T) {
	doc := "Welcome to the welfare board handbook.\n\n# Benefits\nBody."

	chunks := ChunkMarkdown(doc, DefaultChunkOptions())
	require.Len(t, chunks, 2)
	assert.Equal(t, "Welcome to the welfare board handbook.", chunks[0])
}

func TestChunkMarkdownDeepHeadingsStayInBody(t *testing.T) {
	doc := "# Benefits\nIntro.\n#### Fine print\nDetails."

	chunks := ChunkMarkdown(doc, DefaultChunkOptions())
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "#### Fine print")
}

func TestChunkMarkdownSplitsLongSectionsOnParagraphs(t *testing.T) {
	para := strings.Repeat("ಕಟ್ಟಡ ಕಾರ್ಮಿಕರ ಕಲ್ಯಾಣ ಮಂಡಳಿ. ", 10) // well under 400 runes
	doc := "# Schemes\n\n" + para + "\n\n" + para + "\n\n" + para

	chunks := ChunkMarkdown(doc, ChunkOptions{Size: 400, Overlap: 50})
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "Section: Schemes"), "chunk %d lost its trail", i)
		body := strings.TrimPrefix(c, "Section: Schemes\n\n")
		assert.LessOrEqual(t, len([]rune(body)), 400, "chunk %d exceeds maxChars", i)
	}
}

func TestChunkMarkdownHardSplitsOversizedParagraph(t *testing.T) {
	long := strings.Repeat("ನಿವೃತ್ತಿ", 200) // one 1600-rune paragraph, no breaks
	doc := "# Pension\n" + long

	chunks := ChunkMarkdown(doc, ChunkOptions{Size: 500, Overlap: 100})
	require.Greater(t, len(chunks), 1)

	// Consecutive windows share the configured overlap.
	first := strings.TrimPrefix(chunks[0], "Section: Pension\n\n")
	second := strings.TrimPrefix(chunks[1], "Section: Pension\n\n")
	firstRunes := []rune(first)
	tail := string(firstRunes[len(firstRunes)-100:])
	assert.True(t, strings.HasPrefix(second, tail), "windows must overlap")
}

func TestChunkMarkdownEmptySectionsProduceNothing(t *testing.T) {
	doc := "# Benefits\n\n## Pension Scheme\n\n"
	assert.Empty(t, ChunkMarkdown(doc, DefaultChunkOptions()))
}

func TestHeadingOf(t *testing.T) {
	cases := []struct {
		line  string
		level int
		title string
	}{
		{"# Benefits", 1, "Benefits"},
		{"## Pension Scheme", 2, "Pension Scheme"},
		{"### Eligibility ", 3, "Eligibility"},
		{"#### Too deep", 0, ""},
		{"#NoSpace", 0, ""},
		{"plain text", 0, ""},
		{"  # Indented", 1, "Indented"},
	}
	for _, tc := range cases {
		level, title := headingOf(tc.line)
		assert.Equal(t, tc.level, level, tc.line)
		assert.Equal(t, tc.title, title, tc.line)
	}
}
