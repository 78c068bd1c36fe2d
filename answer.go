package chunkindex

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSystemPrompt frames retrieved context for the completion provider.
// %s is replaced with the joined parent texts.
const DefaultSystemPrompt = `Use the following pieces of context to answer the user's question.
If you don't know the answer, say that you don't know; don't try to make up an answer.

Context:
%s`

// Answer is a completion grounded on retrieved parents.
type Answer struct {
	Text    string            `json:"answer"`
	Sources []RetrievalResult `json:"sources"`
	Usage   Usage             `json:"usage"`
}

// Answerer retrieves parents for a question and asks a Provider to answer
// from them.
type Answerer struct {
	retriever    *Retriever
	provider     Provider
	systemPrompt string
}

// AnswererOption configures an Answerer.
type AnswererOption func(*Answerer)

// WithSystemPrompt overrides DefaultSystemPrompt. The prompt must contain one %s.
func WithSystemPrompt(p string) AnswererOption {
	return func(a *Answerer) { a.systemPrompt = p }
}

// NewAnswerer creates an Answerer.
func NewAnswerer(r *Retriever, p Provider, opts ...AnswererOption) *Answerer {
	a := &Answerer{retriever: r, provider: p, systemPrompt: DefaultSystemPrompt}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ask retrieves context for question and returns the provider's answer with
// its sources. With no retrieved context the provider is still asked, with an
// empty context block.
func (a *Answerer) Ask(ctx context.Context, question string, opts SearchOptions) (Answer, error) {
	sources, err := a.retriever.Search(ctx, question, opts)
	if err != nil {
		return Answer{}, err
	}

	req := ChatRequest{Messages: []ChatMessage{
		SystemMessage(fmt.Sprintf(a.systemPrompt, FormatContext(sources))),
		UserMessage(question),
	}}
	resp, err := a.provider.Chat(ctx, req)
	if err != nil {
		return Answer{}, &ProviderError{Provider: a.provider.Name(), Err: err}
	}
	return Answer{Text: resp.Content, Sources: sources, Usage: resp.Usage}, nil
}

// FormatContext joins parent texts with blank lines.
func FormatContext(results []RetrievalResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Parent.Text
	}
	return strings.Join(parts, "\n\n")
}

// FormatSource renders a one-line provenance string for a result:
// "<source> (page N) [parent id]".
func FormatSource(r RetrievalResult) string {
	var b strings.Builder
	src := r.Parent.Source
	if src == "" {
		src = "unknown"
	}
	b.WriteString(src)
	if r.Parent.PageNumber > 0 {
		fmt.Fprintf(&b, " (page %d)", r.Parent.PageNumber)
	}
	fmt.Fprintf(&b, " [%s]", r.Parent.ID)
	if r.Scored {
		fmt.Fprintf(&b, " score=%.3f", r.Score)
	}
	return b.String()
}
