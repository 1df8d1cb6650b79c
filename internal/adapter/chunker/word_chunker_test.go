package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"island/internal/domain"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestWordChunkerShortDocument(t *testing.T) {
	c, err := NewWordChunker(100, 20)
	if err != nil {
		t.Fatal(err)
	}

	chunks := c.Chunk("  Zeus ruled   Olympus.\n")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "Zeus ruled   Olympus." {
		t.Errorf("expected trimmed original text, got %q", chunks[0])
	}
}

func TestWordChunkerBlank(t *testing.T) {
	c, _ := NewWordChunker(10, 2)

	for _, text := range []string{"", "   ", "\n\t\n"} {
		if chunks := c.Chunk(text); len(chunks) != 0 {
			t.Errorf("expected no chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestWordChunkerWindows(t *testing.T) {
	c, _ := NewWordChunker(4, 1)

	chunks := c.Chunk(words(10))
	expected := []string{
		"w0 w1 w2 w3",
		"w3 w4 w5 w6",
		"w6 w7 w8 w9",
	}
	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d: %v", len(expected), len(chunks), chunks)
	}
	for i := range expected {
		if chunks[i] != expected[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, expected[i], chunks[i])
		}
	}
}

func TestWordChunkerTrailingPartialWindow(t *testing.T) {
	c, _ := NewWordChunker(4, 0)

	chunks := c.Chunk(words(9))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[2] != "w8" {
		t.Errorf("expected last chunk %q, got %q", "w8", chunks[2])
	}
}

func TestWordChunkerOverlap(t *testing.T) {
	c, _ := NewWordChunker(5, 2)

	chunks := c.Chunk(words(20))
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		if prev[len(prev)-2] != cur[0] || prev[len(prev)-1] != cur[1] {
			t.Errorf("chunks %d and %d do not overlap by 2 words: %q / %q", i-1, i, chunks[i-1], chunks[i])
		}
	}

	last := strings.Fields(chunks[len(chunks)-1])
	if last[len(last)-1] != "w19" {
		t.Errorf("last chunk does not reach the end: %q", chunks[len(chunks)-1])
	}
}

func TestNewWordChunkerValidation(t *testing.T) {
	tests := []struct {
		target, overlap int
	}{
		{0, 0},
		{-1, 0},
		{10, 10},
		{10, 11},
		{10, -1},
	}

	for _, tt := range tests {
		_, err := NewWordChunker(tt.target, tt.overlap)
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("NewWordChunker(%d, %d): expected ErrInvalidRequest, got %v", tt.target, tt.overlap, err)
		}
	}
}

func TestSpanBuilderDenseIDs(t *testing.T) {
	c, _ := NewWordChunker(3, 0)
	b := NewSpanBuilder(c)

	if n := b.Add("a.txt", words(6)); n != 2 {
		t.Errorf("expected 2 spans from a.txt, got %d", n)
	}
	if n := b.Add("empty.txt", "   "); n != 0 {
		t.Errorf("expected 0 spans from empty.txt, got %d", n)
	}
	if n := b.Add("b.txt", "one two"); n != 1 {
		t.Errorf("expected 1 span from b.txt, got %d", n)
	}

	spans := b.Spans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	for i, s := range spans {
		if s.SpanID != i {
			t.Errorf("span %d has id %d", i, s.SpanID)
		}
	}
	if spans[2].Source != "b.txt" {
		t.Errorf("expected source b.txt, got %s", spans[2].Source)
	}
	if texts := b.Texts(); texts[2] != "one two" {
		t.Errorf("unexpected texts: %v", texts)
	}
}
