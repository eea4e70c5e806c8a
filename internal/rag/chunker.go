package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters for requirement text.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var (
	paragraphPattern = regexp.MustCompile(`\n\s*\n`)
	sentencePattern  = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// Chunker splits plain requirement text into overlapping chunks sized for
// embedding. Splitting prefers paragraph boundaries, falls back to sentence
// boundaries for oversized paragraphs, and hard-splits only when a single
// sentence exceeds the chunk size. Chunks target size characters; the overlap
// carried between adjacent chunks may push one slightly past the target.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker with the given target size and overlap, both
// in characters.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker returns a Chunker with the default size and overlap.
func DefaultChunker() *Chunker {
	c, _ := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	return c
}

// Split chunks text into ordered pieces. Empty or whitespace-only text
// produces no chunks.
func (c *Chunker) Split(text string) []string {
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if normalized == "" {
		return nil
	}

	var chunks []string
	current := ""

	flush := func() {
		if trimmed := strings.TrimSpace(current); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	for _, paragraph := range paragraphPattern.Split(normalized, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		// A paragraph beyond the chunk size is split on sentence
		// boundaries; whatever remains seeds the next chunk.
		if len(paragraph) > c.size {
			flush()
			current = c.splitSentences(paragraph, &chunks)
			continue
		}

		switch {
		case current == "":
			current = paragraph
		case len(current)+len(paragraph)+2 > c.size:
			flush()
			current = c.withOverlap(current, "\n\n", paragraph)
		default:
			current += "\n\n" + paragraph
		}
	}
	flush()

	return chunks
}

// splitSentences packs the sentences of one oversized paragraph into chunks,
// returning the unfinished remainder.
func (c *Chunker) splitSentences(paragraph string, chunks *[]string) string {
	current := ""
	for _, sentence := range sentencePattern.FindAllString(paragraph, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if len(sentence) > c.size {
			if trimmed := strings.TrimSpace(current); trimmed != "" {
				*chunks = append(*chunks, trimmed)
			}
			current = c.hardSplit(sentence, chunks)
			continue
		}

		switch {
		case current == "":
			current = sentence
		case len(current)+len(sentence)+1 > c.size:
			*chunks = append(*chunks, current)
			current = c.withOverlap(current, " ", sentence)
		default:
			current += " " + sentence
		}
	}
	return current
}

// hardSplit windows through text with no usable sentence boundary, backing
// off to word boundaries where possible, and returns the final piece.
func (c *Chunker) hardSplit(text string, chunks *[]string) string {
	start := 0
	for len(text)-start > c.size {
		end := start + c.size
		if cut := strings.LastIndexByte(text[start:end], ' '); cut > 0 {
			end = start + cut
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}

		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			*chunks = append(*chunks, piece)
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return strings.TrimSpace(text[start:])
}

// withOverlap starts a fresh chunk from the tail of the previous one so
// adjacent chunks share context across the boundary.
func (c *Chunker) withOverlap(prev, sep, next string) string {
	if c.overlap == 0 || len(prev) <= c.overlap {
		return next
	}
	tail := prev[len(prev)-c.overlap:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return tail + sep + next
}
