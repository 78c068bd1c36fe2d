package ingest

import (
	"fmt"
	"strings"
	"unicode"
)

// Chunker splits text into chunks suitable for embedding.
type Chunker interface {
	Chunk(text string) []string
}

// Span is a chunk of source text: Text equals the source runes
// [Start, Start+len([]rune(Text))). Offsets count characters, not bytes.
type Span struct {
	Text  string
	Start int
}

// --- ChunkerOption for configuring chunkers ---

// ChunkerOption configures a RecursiveChunker.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	size    int
	overlap int
}

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.size = n }
}

// WithChunkOverlap sets how many trailing characters of one chunk may be
// repeated at the start of the next.
func WithChunkOverlap(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlap = n }
}

// --- RecursiveChunker ---

// RecursiveChunker splits text by paragraphs, then lines, then sentences,
// then whitespace, then a hard character cut. Sentence detection skips common
// abbreviations (Mr., Dr., vs., etc., e.g., i.e.) and decimal numbers
// (3.14, $1.50), and treats CJK punctuation (。！？) as sentence ends.
//
// Every chunk is an exact substring of the input, trimmed of surrounding
// whitespace, and at most Size characters long.
type RecursiveChunker struct {
	size    int
	overlap int
}

// NewRecursiveChunker creates a RecursiveChunker. Defaults are 1000/200.
func NewRecursiveChunker(opts ...ChunkerOption) *RecursiveChunker {
	cfg := chunkerConfig{size: 1000, overlap: 200}
	for _, o := range opts {
		o(&cfg)
	}
	return &RecursiveChunker{size: cfg.size, overlap: cfg.overlap}
}

// Size returns the maximum chunk length in characters.
func (rc *RecursiveChunker) Size() int { return rc.size }

// Overlap returns the configured overlap in characters.
func (rc *RecursiveChunker) Overlap() int { return rc.overlap }

// Validate reports an invalid size/overlap combination.
func (rc *RecursiveChunker) Validate() error {
	if rc.size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", rc.size)
	}
	if rc.overlap < 0 || rc.overlap >= rc.size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", rc.size, rc.overlap)
	}
	return nil
}

// Chunk splits text into overlapping chunks.
func (rc *RecursiveChunker) Chunk(text string) []string {
	spans := rc.ChunkSpans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

// ChunkSpans splits text and reports where each chunk starts. Whitespace-only
// input yields no spans.
func (rc *RecursiveChunker) ChunkSpans(text string) []Span {
	runes := []rune(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size, overlap := rc.size, rc.overlap
	if size <= 0 {
		size = 1
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	pieces := splitRecursive(runes, 0, len(runes), size, levelParagraph)
	return mergeWithOverlap(runes, pieces, size, overlap)
}

// piece is a half-open rune range [lo, hi).
type piece struct{ lo, hi int }

const (
	levelParagraph = iota
	levelLine
	levelSentence
	levelWord
	levelHardCut
)

// splitRecursive cuts runes[lo:hi] into contiguous pieces no longer than
// maxChars, trying coarser boundaries first. Separators stay attached to the
// piece they end, so the pieces always cover [lo, hi) exactly.
func splitRecursive(runes []rune, lo, hi, maxChars, level int) []piece {
	if hi-lo <= maxChars {
		return []piece{{lo, hi}}
	}
	if level >= levelHardCut {
		var out []piece
		for s := lo; s < hi; s += maxChars {
			out = append(out, piece{s, min(s+maxChars, hi)})
		}
		return out
	}

	var cuts []int
	switch level {
	case levelParagraph:
		cuts = separatorCuts(runes, lo, hi, "\n\n")
	case levelLine:
		cuts = separatorCuts(runes, lo, hi, "\n")
	case levelSentence:
		cuts = findSentenceBoundaries(runes, lo, hi)
	case levelWord:
		cuts = wordCuts(runes, lo, hi)
	}
	if len(cuts) == 0 {
		return splitRecursive(runes, lo, hi, maxChars, level+1)
	}

	var out []piece
	prev := lo
	for _, c := range append(cuts, hi) {
		if c <= prev {
			continue
		}
		out = append(out, splitRecursive(runes, prev, c, maxChars, level+1)...)
		prev = c
	}
	return out
}

// separatorCuts returns the positions just after each occurrence of sep in
// runes[lo:hi], excluding hi itself.
func separatorCuts(runes []rune, lo, hi int, sep string) []int {
	sr := []rune(sep)
	var cuts []int
	for i := lo; i+len(sr) <= hi; i++ {
		match := true
		for j, r := range sr {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		// Swallow runs of the separator so "\n\n\n" is one boundary.
		end := i + len(sr)
		for end < hi && runes[end] == sr[len(sr)-1] {
			end++
		}
		if end < hi {
			cuts = append(cuts, end)
		}
		i = end - 1
	}
	return cuts
}

// wordCuts returns the positions just after each run of whitespace.
func wordCuts(runes []rune, lo, hi int) []int {
	var cuts []int
	for i := lo; i < hi; i++ {
		if !unicode.IsSpace(runes[i]) {
			continue
		}
		end := i + 1
		for end < hi && unicode.IsSpace(runes[end]) {
			end++
		}
		if end < hi && i > lo {
			cuts = append(cuts, end)
		}
		i = end - 1
	}
	return cuts
}

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// maxAbbrevLen is the rune length of the longest key in abbreviations.
const maxAbbrevLen = 6

// isAbbreviation checks if the word ending at dotPos (the '.') is a common
// abbreviation. The backward scan stops after maxAbbrevLen+1 runes, so long
// dotted runs stay linear.
func isAbbreviation(runes []rune, lo, dotPos int) bool {
	start := dotPos
	for start > lo {
		r := runes[start-1]
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		if dotPos-start > maxAbbrevLen {
			return false
		}
		start--
	}
	return abbreviations[strings.ToLower(string(runes[start:dotPos]))]
}

// isDecimalDot checks if the dot at dotPos sits between two digits (3.14, $1.50).
func isDecimalDot(runes []rune, lo, hi, dotPos int) bool {
	if dotPos == lo || dotPos+1 >= hi {
		return false
	}
	return unicode.IsDigit(runes[dotPos-1]) && unicode.IsDigit(runes[dotPos+1])
}

// findSentenceBoundaries returns rune positions in runes[lo:hi] where a new
// sentence starts. The whitespace following the terminator stays with the
// preceding sentence.
func findSentenceBoundaries(runes []rune, lo, hi int) []int {
	var boundaries []int
	for i := lo; i < hi; i++ {
		r := runes[i]

		if r == '。' || r == '！' || r == '？' {
			if i+1 < hi {
				boundaries = append(boundaries, i+1)
			}
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if r == '.' && (isDecimalDot(runes, lo, hi, i) || isAbbreviation(runes, lo, i)) {
			continue
		}
		if i+1 >= hi || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if runes[i+1] == '\n' {
			boundaries = append(boundaries, i+1)
		} else if i+2 < hi && (unicode.IsUpper(runes[i+2]) || !unicode.IsLetter(runes[i+2])) {
			boundaries = append(boundaries, i+2)
		}
	}
	return boundaries
}

// mergeWithOverlap packs consecutive pieces into chunks of at most maxChars.
// Each following chunk restarts at the earliest piece that lies inside the
// last overlapChars characters of the previous chunk while still leaving room
// for the next unseen piece, so progress is guaranteed.
func mergeWithOverlap(runes []rune, pieces []piece, maxChars, overlapChars int) []Span {
	var spans []Span
	n := len(pieces)
	for i := 0; i < n; {
		start := pieces[i].lo
		j := i
		for j+1 < n && pieces[j+1].hi-start <= maxChars {
			j++
		}
		end := pieces[j].hi
		if s, ok := trimmedSpan(runes, start, end); ok {
			spans = append(spans, s)
		}
		if j == n-1 {
			break
		}

		next := j + 1
		for k := i + 1; k <= j; k++ {
			if end-pieces[k].lo <= overlapChars && pieces[j+1].hi-pieces[k].lo <= maxChars {
				next = k
				break
			}
		}
		i = next
	}
	return dedupeContained(spans)
}

// trimmedSpan trims whitespace from runes[lo:hi] and returns the remainder
// with its adjusted start.
func trimmedSpan(runes []rune, lo, hi int) (Span, bool) {
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	if lo == hi {
		return Span{}, false
	}
	return Span{Text: string(runes[lo:hi]), Start: lo}, true
}

// dedupeContained drops a span that adds no new characters beyond its
// predecessor, which can happen after trimming whitespace-heavy overlaps.
func dedupeContained(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	out := spans[:1]
	lastEnd := spans[0].Start + runeLen(spans[0].Text)
	for _, s := range spans[1:] {
		end := s.Start + runeLen(s.Text)
		if end <= lastEnd {
			continue
		}
		out = append(out, s)
		lastEnd = end
	}
	return out
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
