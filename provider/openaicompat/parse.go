package openaicompat

import (
	"sort"

	"github.com/nevindra/chunkindex"
)

// ParseResponse converts an OpenAI-format ChatResponse, reading
// choices[0]. A refusal with no content is reported as an ErrLLM.
func ParseResponse(provider string, resp ChatResponse) (chunkindex.ChatResponse, error) {
	var out chunkindex.ChatResponse

	if resp.Usage != nil {
		out.Usage = chunkindex.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	if msg := resp.Choices[0].Message; msg != nil {
		if msg.Content == "" && msg.Refusal != "" {
			return out, &chunkindex.ErrLLM{Provider: provider, Message: "refused: " + msg.Refusal}
		}
		out.Content = msg.Content
	}
	return out, nil
}

// ParseEmbeddings orders the vectors of resp by input index and checks that
// exactly want vectors were returned.
func ParseEmbeddings(provider string, resp EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, &chunkindex.ErrLLM{Provider: provider, Message: "embedding count mismatch"}
	}
	data := append([]EmbeddingData(nil), resp.Data...)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, want)
	for i, d := range data {
		if d.Index != i {
			return nil, &chunkindex.ErrLLM{Provider: provider, Message: "embedding indexes are not contiguous"}
		}
		out[i] = d.Embedding
	}
	return out, nil
}
