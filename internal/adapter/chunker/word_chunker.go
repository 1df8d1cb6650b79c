package chunker

import (
	"fmt"
	"strings"

	"island/internal/domain"
	"island/internal/port"
)

// WordChunker splits text into overlapping fixed-size word windows.
type WordChunker struct {
	targetWords  int
	overlapWords int
}

// NewWordChunker creates a word window chunker.
// targetWords must be positive and overlapWords must lie in [0, targetWords).
func NewWordChunker(targetWords, overlapWords int) (*WordChunker, error) {
	if targetWords <= 0 {
		return nil, fmt.Errorf("%w: target_words must be > 0, got %d", domain.ErrInvalidRequest, targetWords)
	}
	if overlapWords < 0 || overlapWords >= targetWords {
		return nil, fmt.Errorf("%w: overlap_words must be in [0, %d), got %d", domain.ErrInvalidRequest, targetWords, overlapWords)
	}
	return &WordChunker{
		targetWords:  targetWords,
		overlapWords: overlapWords,
	}, nil
}

// Chunk returns the word windows of text. Blank text yields no chunks.
func (c *WordChunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	if len(words) <= c.targetWords {
		return []string{strings.TrimSpace(text)}
	}

	step := max(1, c.targetWords-c.overlapWords)

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.targetWords, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))

		if start+c.targetWords >= len(words) {
			break
		}
	}

	return chunks
}

// SpanBuilder assigns dense span ids across a whole document set.
type SpanBuilder struct {
	chunker port.Chunker
	spans   []domain.Span
}

// NewSpanBuilder creates a span builder over the given chunker.
func NewSpanBuilder(chunker port.Chunker) *SpanBuilder {
	return &SpanBuilder{chunker: chunker}
}

// Add chunks one document and appends its spans. It returns the number of
// spans the document produced.
func (b *SpanBuilder) Add(source, text string) int {
	chunks := b.chunker.Chunk(text)
	for _, chunk := range chunks {
		b.spans = append(b.spans, domain.Span{
			SpanID: len(b.spans),
			Source: source,
			Text:   chunk,
		})
	}
	return len(chunks)
}

// Spans returns the accumulated spans.
func (b *SpanBuilder) Spans() []domain.Span {
	return b.spans
}

// Texts returns the span texts in span id order.
func (b *SpanBuilder) Texts() []string {
	texts := make([]string, len(b.spans))
	for i, s := range b.spans {
		texts[i] = s.Text
	}
	return texts
}
