package ingest

import (
	"strings"
)

// ChunkOptions bound the size of one retrieval unit, counted in runes.
type ChunkOptions struct {
	Size    int
	Overlap int
}

// DefaultChunkOptions returns the chunking defaults.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: 1000, Overlap: 150}
}

// section is one heading-delimited region of the document.
type section struct {
	trail []string
	body  []string
}

// ChunkMarkdown splits a markdown document into retrieval units. The text
// splits on #, ## and ### headings, and every unit carries its heading trail
// ("Section: …", "Scheme: …", "Subsection: …") so a hit stays interpretable
// without the surrounding document. Bodies longer than Size split further on
// paragraph boundaries, carrying up to Overlap runes between pieces.
func ChunkMarkdown(text string, opts ChunkOptions) []string {
	if opts.Size <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 2
	}

	var chunks []string
	for _, sec := range splitSections(text) {
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" {
			continue
		}

		prefix := strings.Join(sec.trail, "\n")
		for _, piece := range splitBySize(body, opts.Size, opts.Overlap) {
			if prefix != "" {
				chunks = append(chunks, prefix+"\n\n"+piece)
			} else {
				chunks = append(chunks, piece)
			}
		}
	}
	return chunks
}

// splitSections walks the document line by line, maintaining the current
// heading trail. Heading lines move into the trail and out of the body.
func splitSections(text string) []section {
	var (
		sections  []section
		body      []string
		sectionHd string
		schemeHd  string
		subsecHd  string
	)

	flush := func() {
		if len(body) == 0 {
			return
		}
		var trail []string
		if sectionHd != "" {
			trail = append(trail, "Section: "+sectionHd)
		}
		if schemeHd != "" {
			trail = append(trail, "Scheme: "+schemeHd)
		}
		if subsecHd != "" {
			trail = append(trail, "Subsection: "+subsecHd)
		}
		sections = append(sections, section{trail: trail, body: body})
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		level, title := headingOf(line)
		switch level {
		case 1:
			flush()
			sectionHd, schemeHd, subsecHd = title, "", ""
		case 2:
			flush()
			schemeHd, subsecHd = title, ""
		case 3:
			flush()
			subsecHd = title
		default:
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// headingOf reports the heading level (1..3) and title of a markdown heading
// line, or 0 for a body line. Deeper headings stay in the body.
func headingOf(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 3 || level >= len(trimmed) || trimmed[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// splitBySize packs paragraphs into pieces of at most size runes. A
// paragraph that alone exceeds the budget is hard-split. Consecutive pieces
// share up to overlap runes, taken at paragraph boundaries when possible.
func splitBySize(body string, size, overlap int) []string {
	if len([]rune(body)) <= size {
		return []string{body}
	}

	paragraphs := splitParagraphs(body)

	var pieces []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, strings.Join(current, "\n\n"))
		current = overlapTail(current, overlap)
		currentLen = runeLen(current)
	}

	for _, para := range paragraphs {
		paraLen := len([]rune(para))

		// A single oversized paragraph is split on rune boundaries.
		if paraLen > size {
			flush()
			current = nil
			currentLen = 0
			pieces = append(pieces, hardSplit(para, size, overlap)...)
			continue
		}

		if currentLen > 0 && currentLen+2+paraLen > size {
			flush()
			// If the carried overlap still leaves no room, drop it.
			if currentLen > 0 && currentLen+2+paraLen > size {
				current = nil
				currentLen = 0
			}
		}
		if currentLen > 0 {
			currentLen += 2
		}
		current = append(current, para)
		currentLen += paraLen
	}

	if len(current) > 0 {
		piece := strings.Join(current, "\n\n")
		// The remainder may be pure carried overlap, already emitted.
		if len(pieces) == 0 || !strings.HasSuffix(pieces[len(pieces)-1], piece) {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

func splitParagraphs(body string) []string {
	raw := strings.Split(body, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// overlapTail returns the trailing whole paragraphs of current totalling at
// most overlap runes. When even the last paragraph is too large it falls
// back to the last overlap runes of the joined text.
func overlapTail(current []string, overlap int) []string {
	if overlap <= 0 || len(current) == 0 {
		return nil
	}

	total := 0
	start := len(current)
	for i := len(current) - 1; i >= 0; i-- {
		pLen := len([]rune(current[i]))
		if total+pLen > overlap {
			break
		}
		total += pLen + 2
		start = i
	}

	if start == len(current) {
		joined := []rune(strings.Join(current, "\n\n"))
		if len(joined) <= overlap {
			return []string{string(joined)}
		}
		return []string{string(joined[len(joined)-overlap:])}
	}
	return append([]string(nil), current[start:]...)
}

// hardSplit cuts text into size-rune windows advancing by size-overlap.
func hardSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var parts []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return parts
}

func runeLen(paragraphs []string) int {
	n := 0
	for i, p := range paragraphs {
		if i > 0 {
			n += 2
		}
		n += len([]rune(p))
	}
	return n
}
