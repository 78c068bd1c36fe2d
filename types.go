package chunkindex

import "strings"

// --- Source documents ---

// Page is one unit of loaded text, usually a PDF page. Number is 1-based;
// zero means the source has no page structure.
type Page struct {
	Source string `json:"source"`
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Document is an ordered list of pages sharing one source path.
type Document struct {
	Source string `json:"source"`
	Pages  []Page `json:"pages"`
}

// NewTextDocument wraps plain text as a single-page document.
func NewTextDocument(source, text string) Document {
	return Document{Source: source, Pages: []Page{{Source: source, Text: text}}}
}

// Text returns the page texts concatenated in order.
func (d Document) Text() string {
	var b strings.Builder
	for _, p := range d.Pages {
		b.WriteString(p.Text)
	}
	return b.String()
}

// --- Chunks ---

// ParentChunk is a large context unit returned to callers. StartOffset is the
// character offset of Text inside the concatenated document text.
type ParentChunk struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	Source      string `json:"source"`
	PageNumber  int    `json:"page"`
	Index       int    `json:"parent_index"`
}

// ChildChunk is a small retrieval unit. StartOffset is relative to the parent text.
type ChildChunk struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	Source      string    `json:"source"`
	PageNumber  int       `json:"page"`
	Index       int       `json:"child_index"`
	Embedding   []float32 `json:"-"`
}

// --- Retrieval ---

// SearchMode selects how child candidates are ranked.
type SearchMode string

const (
	ModeSimilarity SearchMode = "similarity"
	ModeMMR        SearchMode = "mmr"
	ModeThreshold  SearchMode = "threshold"
)

// ParseSearchMode maps a user-facing name to a SearchMode. The empty string
// means similarity.
func ParseSearchMode(s string) (SearchMode, bool) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSimilarity:
		return ModeSimilarity, true
	case ModeMMR:
		return ModeMMR, true
	case ModeThreshold, "similarity_score_threshold":
		return ModeThreshold, true
	}
	return "", false
}

// SearchOptions controls a single retrieval call. Zero values take defaults
// (see DefaultSearchOptions).
type SearchOptions struct {
	Mode   SearchMode
	K      int
	FetchK int
	// LambdaMult weighs relevance against diversity in MMR mode, in [0, 1].
	// Nil means 0.5; use Float32(0) for pure diversity.
	LambdaMult *float32
	// ScoreThreshold is the minimum cosine score in threshold mode.
	// Nil means 0.8.
	ScoreThreshold *float32
	// Source restricts candidates to children whose source metadata matches.
	Source string
}

// DefaultSearchOptions returns k=4, fetch_k=20, lambda=0.5, threshold=0.8.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Mode:           ModeSimilarity,
		K:              4,
		FetchK:         20,
		LambdaMult:     Float32(0.5),
		ScoreThreshold: Float32(0.8),
	}
}

// Float32 returns a pointer to v, for the optional SearchOptions fields.
func Float32(v float32) *float32 { return &v }

// withDefaults fills unset fields from DefaultSearchOptions.
func (o SearchOptions) withDefaults() SearchOptions {
	d := DefaultSearchOptions()
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.K <= 0 {
		o.K = d.K
	}
	if o.FetchK <= 0 {
		o.FetchK = d.FetchK
	}
	if o.FetchK < o.K {
		o.FetchK = o.K
	}
	if o.LambdaMult == nil || *o.LambdaMult < 0 || *o.LambdaMult > 1 {
		o.LambdaMult = d.LambdaMult
	}
	if o.ScoreThreshold == nil {
		o.ScoreThreshold = d.ScoreThreshold
	}
	return o
}

// RetrievalResult is one parent chunk returned by a search. Score is the
// cosine similarity of the first-ranked child that mapped to this parent and
// is only meaningful when Scored is true.
type RetrievalResult struct {
	Parent  ParentChunk `json:"parent"`
	Score   float32     `json:"score,omitempty"`
	Scored  bool        `json:"scored"`
	ChildID string      `json:"child_id"`
}

// --- Ingestion and stats ---

// IngestResult reports what one ingest call wrote.
type IngestResult struct {
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	ParentCount int    `json:"parent_count"`
	ChildCount  int    `json:"child_count"`
}

// SourceSet lists the distinct source paths present in the index.
type SourceSet struct {
	Count   int      `json:"count"`
	Sources []string `json:"list"`
}

// Stats summarises both collections.
type Stats struct {
	ParentCount   int       `json:"parent_count"`
	ChildCount    int       `json:"child_count"`
	UniqueSources SourceSet `json:"unique_sources"`
}

// Total returns the number of chunks across both collections.
func (s Stats) Total() int { return s.ParentCount + s.ChildCount }

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
