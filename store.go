package chunkindex

import "context"

// Default collection names.
const (
	ParentCollection = "parent_chunks"
	ChildCollection  = "child_chunks"
)

// Metadata keys written alongside every record.
const (
	MetaSource      = "source"
	MetaPage        = "page"
	MetaParentID    = "parent_id"
	MetaStartOffset = "start_offset"
	MetaIndex       = "index"
)

// Record is one stored entry of a collection. Parent records carry no embedding.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// ScoredRecord is a query hit. Score is cosine similarity in [-1, 1].
type ScoredRecord struct {
	Record
	Score float32
}

// Filter restricts Query to records whose metadata Key equals Value.
type Filter struct {
	Key   string
	Value string
}

// BySource filters on the source metadata key.
func BySource(source string) Filter {
	return Filter{Key: MetaSource, Value: source}
}

// Collection is a named set of records with optional vector search.
//
// Upsert replaces records with the same ID in place. Query returns hits in
// descending score order; equal scores keep insertion order. Hits include
// their embeddings.
type Collection interface {
	Name() string
	Upsert(ctx context.Context, records []Record) error
	// Get returns the records that exist, in the order of ids. Missing ids
	// are omitted without error.
	Get(ctx context.Context, ids []string) ([]Record, error)
	Query(ctx context.Context, embedding []float32, topK int, filters ...Filter) ([]ScoredRecord, error)
	Count(ctx context.Context) (int, error)
	// DeleteWhere removes every record matching all filters. At least one
	// filter is required.
	DeleteWhere(ctx context.Context, filters ...Filter) error
	// Distinct returns the sorted distinct non-empty values of a metadata key.
	Distinct(ctx context.Context, key string) ([]string, error)
	// Drop deletes every record of the collection.
	Drop(ctx context.Context) error
}

// Store owns a backend connection and hands out collections.
type Store interface {
	Init(ctx context.Context) error
	Collection(name string) Collection
	Close() error
}
