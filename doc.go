// Package chunkindex is a hierarchical parent/child chunk index for
// retrieval-augmented generation.
//
// Documents are split into large parent chunks and smaller child chunks
// re-split from each parent. Children are embedded and searched; every hit is
// mapped back to its parent and deduplicated so each parent appears at most
// once in a result list.
//
// # Quick Start
//
//	idx, err := index.Open(ctx, index.DefaultConfig(), index.WithStore(sqlite.New("chunks.db")),
//		index.WithEmbedding(openaicompat.NewEmbedding(key, "text-embedding-3-small", "https://api.openai.com/v1")))
//	defer idx.Close()
//
//	res, err := idx.IngestFile(ctx, "report.pdf")
//	hits, err := idx.Search(ctx, "quarterly revenue", chunkindex.SearchOptions{K: 4, Mode: chunkindex.ModeMMR})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: completion backend used by [Answerer]
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Store] and [Collection]: persistence with vector search
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs).
// Storage: store/sqlite (local), store/postgres (pgvector), store/qdrant.
package chunkindex
