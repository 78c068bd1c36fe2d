package ingest

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestChunkTextEmpty(t *testing.T) {
	rc := NewRecursiveChunker()
	if chunks := rc.Chunk(""); len(chunks) != 0 {
		t.Error("expected empty")
	}
	if chunks := rc.Chunk("  \n\n\t "); len(chunks) != 0 {
		t.Error("expected empty for whitespace-only input")
	}
}

func TestChunkTextShort(t *testing.T) {
	rc := NewRecursiveChunker()
	chunks := rc.Chunk("Hello, world!")
	if len(chunks) != 1 || chunks[0] != "Hello, world!" {
		t.Errorf("expected single chunk, got %q", chunks)
	}
}

func TestChunkTextRespectMax(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(100), WithChunkOverlap(20))
	text := strings.Repeat("This is a test. ", 50)
	chunks := rc.Chunk(text)
	if len(chunks) <= 1 {
		t.Fatal("expected multiple chunks")
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk length %d exceeds max 100", n)
		}
	}
}

func TestChunkTextParagraphSplitting(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(45), WithChunkOverlap(0))
	text := "First paragraph with some content.\n\nSecond paragraph with other content.\n\nThird paragraph with more."
	chunks := rc.Chunk(text)
	want := []string{
		"First paragraph with some content.",
		"Second paragraph with other content.",
		"Third paragraph with more.",
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextWordSplitting(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(48), WithChunkOverlap(8))
	text := strings.Repeat("word ", 100)
	chunks := rc.Chunk(text)
	if len(chunks) <= 1 {
		t.Fatal("expected multiple chunks")
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 48 {
			t.Errorf("chunk length %d exceeds max 48", n)
		}
		if strings.Contains(c, "wo rd") || strings.HasPrefix(c, "ord") {
			t.Errorf("word was cut: %q", c)
		}
	}
}

func TestChunkTextHardCut(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(10), WithChunkOverlap(0))
	chunks := rc.Chunk(strings.Repeat("x", 35))
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if chunks[3] != "xxxxx" {
		t.Errorf("last chunk = %q", chunks[3])
	}
}

func TestChunkSpansAreSubstrings(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(60), WithChunkOverlap(15))
	text := "Dr. Smith paid $3.50 for coffee. Then he left!\n\nÜber café résumé naïve. 日本語の文です。次の文です。\nA final line with trailing spaces.   "
	runes := []rune(text)
	for _, s := range rc.ChunkSpans(text) {
		n := utf8.RuneCountInString(s.Text)
		if got := string(runes[s.Start : s.Start+n]); got != s.Text {
			t.Errorf("span at %d = %q, source has %q", s.Start, s.Text, got)
		}
		if s.Text != strings.TrimSpace(s.Text) {
			t.Errorf("span %q is not trimmed", s.Text)
		}
	}
}

func TestChunkSpansOverlapAndOrder(t *testing.T) {
	rc := NewRecursiveChunker(WithChunkSize(100), WithChunkOverlap(20))
	text := strings.Repeat("Sentence one. Sentence two. ", 10)
	spans := rc.ChunkSpans(text)
	if len(spans) < 3 {
		t.Fatalf("got %d spans", len(spans))
	}
	for i := 1; i < len(spans); i++ {
		prevEnd := spans[i-1].Start + utf8.RuneCountInString(spans[i-1].Text)
		if spans[i].Start <= spans[i-1].Start {
			t.Errorf("span %d starts at %d, not after %d", i, spans[i].Start, spans[i-1].Start)
		}
		if spans[i].Start > prevEnd+1 {
			t.Errorf("gap between span %d and %d", i-1, i)
		}
		if overlap := prevEnd - spans[i].Start; overlap > 20 {
			t.Errorf("overlap %d exceeds 20", overlap)
		}
	}
}

func TestFindSentenceBoundariesAbbreviationsAndDecimals(t *testing.T) {
	runes := []rune("Mr. Smith paid 3.50 dollars. It was fine. ok")
	got := findSentenceBoundaries(runes, 0, len(runes))
	// Only after "dollars. " and "fine. " (lower-case "ok" is not a new sentence).
	if len(got) != 1 {
		t.Fatalf("got boundaries %v, want exactly one", got)
	}
	if string(runes[got[0]:got[0]+2]) != "It" {
		t.Errorf("boundary at %d starts %q", got[0], string(runes[got[0]:]))
	}
}

func TestIsAbbreviationBoundedScan(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"see approx.", true},
		{"i.e.", true},
		{"xapprox.", false},
		{strings.Repeat("a.", 100), false},
	}
	for _, tt := range tests {
		runes := []rune(tt.text)
		if got := isAbbreviation(runes, 0, len(runes)-1); got != tt.want {
			t.Errorf("isAbbreviation(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestChunkSpansDottedRunIsLinear(t *testing.T) {
	rc := NewRecursiveChunker()
	text := strings.Repeat("a.", 80_000)
	start := time.Now()
	spans := rc.ChunkSpans(text)
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("chunking 160 KB of dotted text took %v", d)
	}
	if len(spans) == 0 {
		t.Fatal("expected chunks")
	}
}

func TestFindSentenceBoundariesCJK(t *testing.T) {
	runes := []rune("一つ目。二つ目！三つ目？")
	got := findSentenceBoundaries(runes, 0, len(runes))
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 interior boundaries", got)
	}
}

func TestRecursiveChunkerValidate(t *testing.T) {
	tests := []struct {
		size, overlap int
		ok            bool
	}{
		{100, 20, true},
		{100, 0, true},
		{0, 0, false},
		{100, 100, false},
		{100, -1, false},
	}
	for _, tt := range tests {
		err := NewRecursiveChunker(WithChunkSize(tt.size), WithChunkOverlap(tt.overlap)).Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%d, %d) = %v", tt.size, tt.overlap, err)
		}
	}
}

func TestRecursiveChunkerImplementsInterface(t *testing.T) {
	var _ Chunker = (*RecursiveChunker)(nil)
}
