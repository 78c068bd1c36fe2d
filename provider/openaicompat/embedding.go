package openaicompat

import (
	"context"

	"github.com/nevindra/chunkindex"
)

// Embedding implements chunkindex.EmbeddingProvider against the OpenAI
// /embeddings endpoint.
type Embedding struct {
	client
	model string
	dims  int
}

// NewEmbedding creates an embedding provider. dims is the vector size the
// model produces; it is also sent as the "dimensions" request field so
// models with adjustable output size return vectors of that length.
func NewEmbedding(apiKey, model, baseURL string, dims int, opts ...ProviderOption) *Embedding {
	return &Embedding{client: newClient(apiKey, baseURL, opts), model: model, dims: dims}
}

// Name returns the provider name.
func (e *Embedding) Name() string { return e.name }

// Dimensions returns the configured vector size.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed returns one vector per text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := EmbeddingRequest{
		Model:          e.model,
		Input:          texts,
		Dimensions:     e.dims,
		EncodingFormat: "float",
	}
	var resp EmbeddingResponse
	if err := e.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	return ParseEmbeddings(e.name, resp, len(texts))
}

// Compile-time interface check.
var _ chunkindex.EmbeddingProvider = (*Embedding)(nil)
