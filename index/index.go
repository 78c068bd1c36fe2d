// Package index is the facade over the hierarchical parent/child chunk
// index: it owns the store for its lifetime and exposes ingestion, search,
// question answering, statistics and reset.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/chunkindex"
	"github.com/nevindra/chunkindex/ingest"
	"github.com/nevindra/chunkindex/observer"
)

// ErrNoProvider is returned by Ask when the index was opened without a
// completion provider.
var ErrNoProvider = errors.New("index: no completion provider configured")

// Option configures the collaborators of an Index.
type Option func(*Index)

// WithStore sets the backing store. Required.
func WithStore(s chunkindex.Store) Option {
	return func(ix *Index) { ix.store = s }
}

// WithEmbedding sets the embedding provider. Required.
func WithEmbedding(e chunkindex.EmbeddingProvider) Option {
	return func(ix *Index) { ix.embedding = e }
}

// WithProvider sets the completion provider used by Ask.
func WithProvider(p chunkindex.Provider) Option {
	return func(ix *Index) { ix.provider = p }
}

// WithLoader sets the document loader used by IngestFile and IngestURL.
func WithLoader(l *ingest.Loader) Option {
	return func(ix *Index) { ix.loader = l }
}

// WithInstruments enables OTEL instrumentation of collections, ingestion
// and search.
func WithInstruments(inst *observer.Instruments) Option {
	return func(ix *Index) { ix.inst = inst }
}

// WithLogger sets the structured logger. Default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Index ties a store, an embedding provider and an optional completion
// provider together. It is safe for concurrent use as far as its store is.
type Index struct {
	cfg       Config
	store     chunkindex.Store
	embedding chunkindex.EmbeddingProvider
	provider  chunkindex.Provider
	loader    *ingest.Loader
	inst      *observer.Instruments
	logger    *slog.Logger

	parents   chunkindex.Collection
	children  chunkindex.Collection
	ingestor  *ingest.Ingestor
	retriever *chunkindex.Retriever
	answerer  *chunkindex.Answerer
}

// Open initialises the store and returns a ready Index. The caller must
// Close it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ix := &Index{cfg: cfg}
	for _, o := range opts {
		o(ix)
	}
	if ix.store == nil {
		return nil, errors.New("index: a store is required")
	}
	if ix.embedding == nil {
		return nil, errors.New("index: an embedding provider is required")
	}
	if ix.logger == nil {
		ix.logger = chunkindex.NopLogger
	}
	if ix.loader == nil {
		ix.loader = ingest.NewLoader()
	}

	if err := ix.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("index: init store: %w", err)
	}

	ix.parents = ix.store.Collection(cfg.ParentCollection)
	ix.children = ix.store.Collection(cfg.ChildCollection)
	if ix.inst != nil {
		ix.parents = observer.WrapCollection(ix.parents, ix.inst)
		ix.children = observer.WrapCollection(ix.children, ix.inst)
	}

	ix.ingestor = ingest.NewIngestor(ix.parents, ix.children, ix.embedding,
		ingest.WithSplitter(ingest.NewSplitter(cfg.ParentSize, cfg.ParentOverlap, cfg.ChildSize, cfg.ChildOverlap)),
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithReplaceSource(cfg.ReplaceSource),
		ingest.WithLoader(ix.loader),
		ingest.WithLogger(ix.logger),
	)

	ropts := []chunkindex.RetrieverOption{chunkindex.WithRetrieverLogger(ix.logger)}
	if ix.inst != nil {
		ropts = append(ropts, chunkindex.WithLookupMissHook(ix.inst.RecordLookupMiss))
	}
	ix.retriever = chunkindex.NewRetriever(ix.parents, ix.children, ix.embedding, ropts...)
	if ix.provider != nil {
		ix.answerer = chunkindex.NewAnswerer(ix.retriever, ix.provider)
	}

	ix.logger.Debug("index opened",
		"parents", cfg.ParentCollection,
		"children", cfg.ChildCollection,
		"embedding", ix.embedding.Name())
	return ix, nil
}

// Close releases the store.
func (ix *Index) Close() error {
	return ix.store.Close()
}

// Config returns the configuration the index was opened with.
func (ix *Index) Config() Config { return ix.cfg }

// --- Ingestion ---

// Ingest splits doc and writes its parents, then its embedded children.
func (ix *Index) Ingest(ctx context.Context, doc chunkindex.Document) (chunkindex.IngestResult, error) {
	return ix.observeIngest(ctx, doc.Source, func() (chunkindex.IngestResult, error) {
		return ix.ingestor.Ingest(ctx, doc)
	})
}

// IngestText ingests plain text under the given source name.
func (ix *Index) IngestText(ctx context.Context, text, source string) (chunkindex.IngestResult, error) {
	return ix.Ingest(ctx, chunkindex.NewTextDocument(source, text))
}

// IngestFile loads and ingests the file at path.
func (ix *Index) IngestFile(ctx context.Context, path string) (chunkindex.IngestResult, error) {
	return ix.observeIngest(ctx, path, func() (chunkindex.IngestResult, error) {
		return ix.ingestor.IngestFile(ctx, path)
	})
}

// IngestReader ingests content read from r, typed by filename.
func (ix *Index) IngestReader(ctx context.Context, r io.Reader, filename string) (chunkindex.IngestResult, error) {
	return ix.observeIngest(ctx, filename, func() (chunkindex.IngestResult, error) {
		return ix.ingestor.IngestReader(ctx, r, filename)
	})
}

// IngestURL fetches a web page and ingests its readable text.
func (ix *Index) IngestURL(ctx context.Context, rawURL string) (chunkindex.IngestResult, error) {
	return ix.observeIngest(ctx, rawURL, func() (chunkindex.IngestResult, error) {
		return ix.ingestor.IngestURL(ctx, rawURL)
	})
}

// IngestAll ingests docs with up to Config.Workers documents in flight.
// Results are in input order; the first error cancels the rest.
func (ix *Index) IngestAll(ctx context.Context, docs []chunkindex.Document) ([]chunkindex.IngestResult, error) {
	return ix.parallel(ctx, len(docs), func(ctx context.Context, i int) (chunkindex.IngestResult, error) {
		return ix.Ingest(ctx, docs[i])
	})
}

// IngestFiles loads and ingests paths with up to Config.Workers files in
// flight. Results are in input order; the first error cancels the rest.
func (ix *Index) IngestFiles(ctx context.Context, paths []string) ([]chunkindex.IngestResult, error) {
	return ix.parallel(ctx, len(paths), func(ctx context.Context, i int) (chunkindex.IngestResult, error) {
		res, err := ix.IngestFile(ctx, paths[i])
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", paths[i], err)
		}
		return res, nil
	})
}

func (ix *Index) parallel(ctx context.Context, n int, fn func(context.Context, int) (chunkindex.IngestResult, error)) ([]chunkindex.IngestResult, error) {
	results := make([]chunkindex.IngestResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ix.cfg.Workers, 1))
	for i := range n {
		g.Go(func() error {
			res, err := fn(gctx, i)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (ix *Index) observeIngest(ctx context.Context, source string, fn func() (chunkindex.IngestResult, error)) (chunkindex.IngestResult, error) {
	res, err := fn()
	if ix.inst != nil {
		ix.inst.RecordIngest(ctx, source, res.ParentCount, res.ChildCount, err)
	}
	return res, err
}

// --- Retrieval ---

// Search returns at most K distinct parents for query. Zero fields of opts
// take the configured defaults.
func (ix *Index) Search(ctx context.Context, query string, opts chunkindex.SearchOptions) ([]chunkindex.RetrievalResult, error) {
	opts = ix.cfg.mergeSearch(opts)
	start := time.Now()
	results, err := ix.retriever.Search(ctx, query, opts)
	if ix.inst != nil {
		ix.inst.RecordSearch(ctx, opts.Mode, len(results), time.Since(start), err)
	}
	if err != nil {
		ix.logger.Error("search failed", "mode", opts.Mode, "error", err)
		return nil, err
	}
	ix.logger.Debug("search", "mode", opts.Mode, "k", opts.K, "results", len(results), "duration", time.Since(start))
	return results, nil
}

// Ask retrieves parents for question and asks the completion provider to
// answer from them.
func (ix *Index) Ask(ctx context.Context, question string, opts chunkindex.SearchOptions) (chunkindex.Answer, error) {
	if ix.answerer == nil {
		return chunkindex.Answer{}, ErrNoProvider
	}
	return ix.answerer.Ask(ctx, question, ix.cfg.mergeSearch(opts))
}

// --- Maintenance ---

// Stats counts both collections and lists the distinct sources across them.
func (ix *Index) Stats(ctx context.Context) (chunkindex.Stats, error) {
	var st chunkindex.Stats
	var err error
	if st.ParentCount, err = ix.parents.Count(ctx); err != nil {
		return st, &chunkindex.StorageError{Collection: ix.parents.Name(), Op: "count", Err: err}
	}
	if st.ChildCount, err = ix.children.Count(ctx); err != nil {
		return st, &chunkindex.StorageError{Collection: ix.children.Name(), Op: "count", Err: err}
	}

	seen := map[string]struct{}{}
	for _, c := range []chunkindex.Collection{ix.parents, ix.children} {
		vals, err := c.Distinct(ctx, chunkindex.MetaSource)
		if err != nil {
			return st, &chunkindex.StorageError{Collection: c.Name(), Op: "distinct", Err: err}
		}
		for _, v := range vals {
			seen[v] = struct{}{}
		}
	}
	st.UniqueSources.Sources = make([]string, 0, len(seen))
	for s := range seen {
		st.UniqueSources.Sources = append(st.UniqueSources.Sources, s)
	}
	sort.Strings(st.UniqueSources.Sources)
	st.UniqueSources.Count = len(st.UniqueSources.Sources)
	return st, nil
}

// Reset irreversibly deletes both collections and re-initialises them empty.
func (ix *Index) Reset(ctx context.Context) error {
	// Children first so no child outlives its parent.
	for _, c := range []chunkindex.Collection{ix.children, ix.parents} {
		if err := c.Drop(ctx); err != nil {
			return &chunkindex.StorageError{Collection: c.Name(), Op: "drop", Err: err}
		}
	}
	if err := ix.store.Init(ctx); err != nil {
		return fmt.Errorf("index: reinit store: %w", err)
	}
	ix.logger.Info("index reset", "parents", ix.parents.Name(), "children", ix.children.Name())
	return nil
}
