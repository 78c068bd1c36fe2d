package openaicompat

import (
	"github.com/nevindra/chunkindex"
)

// BuildBody converts chat messages and a model name into an OpenAI-format
// ChatRequest. Options configure generation parameters.
func BuildBody(messages []chunkindex.ChatMessage, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}
	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}
