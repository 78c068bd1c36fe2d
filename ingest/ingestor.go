package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/chunkindex"
)

// Ingestor provides end-to-end ingestion: load → split → store parents →
// embed and store children.
type Ingestor struct {
	parents   chunkindex.Collection
	children  chunkindex.Collection
	embedding chunkindex.EmbeddingProvider

	splitter      *Splitter
	loader        *Loader
	batchSize     int
	replaceSource bool
	logger        *slog.Logger
}

// NewIngestor creates an Ingestor writing to the given collections.
func NewIngestor(parents, children chunkindex.Collection, emb chunkindex.EmbeddingProvider, opts ...Option) *Ingestor {
	ing := &Ingestor{
		parents:   parents,
		children:  children,
		embedding: emb,
		splitter:  DefaultSplitter(),
		batchSize: 64,
	}
	for _, o := range opts {
		o(ing)
	}
	if ing.splitter == nil {
		ing.splitter = DefaultSplitter()
	}
	if ing.loader == nil {
		ing.loader = NewLoader()
	}
	if ing.logger == nil {
		ing.logger = chunkindex.NopLogger
	}
	return ing
}

// Splitter returns the splitter in use.
func (ing *Ingestor) Splitter() *Splitter { return ing.splitter }

// IngestText ingests plain text under the given source name.
func (ing *Ingestor) IngestText(ctx context.Context, text, source string) (chunkindex.IngestResult, error) {
	return ing.Ingest(ctx, chunkindex.NewTextDocument(source, text))
}

// IngestFile loads the file at path, detecting the content type from its extension.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (chunkindex.IngestResult, error) {
	doc, err := ing.loader.LoadFile(path)
	if err != nil {
		return chunkindex.IngestResult{Source: path}, err
	}
	return ing.Ingest(ctx, doc)
}

// IngestBytes ingests content named filename.
func (ing *Ingestor) IngestBytes(ctx context.Context, content []byte, filename string) (chunkindex.IngestResult, error) {
	doc, err := ing.loader.LoadBytes(content, filename)
	if err != nil {
		return chunkindex.IngestResult{Source: filename}, err
	}
	return ing.Ingest(ctx, doc)
}

// IngestReader reads all content from r and ingests it, detecting content type from filename.
func (ing *Ingestor) IngestReader(ctx context.Context, r io.Reader, filename string) (chunkindex.IngestResult, error) {
	doc, err := ing.loader.LoadReader(r, filename)
	if err != nil {
		return chunkindex.IngestResult{Source: filename}, err
	}
	return ing.Ingest(ctx, doc)
}

// IngestURL fetches a web page and ingests its readable text.
func (ing *Ingestor) IngestURL(ctx context.Context, rawURL string) (chunkindex.IngestResult, error) {
	doc, err := ing.loader.FetchURL(ctx, rawURL)
	if err != nil {
		return chunkindex.IngestResult{Source: rawURL}, err
	}
	return ing.Ingest(ctx, doc)
}

// Ingest splits doc and writes its chunks. All parents are written before
// any child. Failures after the split return a *chunkindex.StorageError
// reporting how many records were persisted; embedding failures wrap a
// *chunkindex.ProviderError naming the first chunk of the failing batch.
func (ing *Ingestor) Ingest(ctx context.Context, doc chunkindex.Document) (chunkindex.IngestResult, error) {
	runID := chunkindex.NewRunID()
	res := chunkindex.IngestResult{RunID: runID, Source: doc.Source}
	log := ing.logger.With("run_id", runID, "source", doc.Source)
	start := time.Now()

	parents, children, err := ing.splitter.Split(doc)
	if err != nil {
		log.Error("split failed", "error", err)
		return res, err
	}

	if ing.replaceSource && doc.Source != "" {
		if err := ing.deleteSource(ctx, doc.Source); err != nil {
			log.Error("replace source failed", "error", err)
			return res, err
		}
	}
	if len(parents) == 0 {
		log.Debug("empty document")
		return res, nil
	}

	precords := make([]chunkindex.Record, len(parents))
	for i, p := range parents {
		precords[i] = chunkindex.ParentRecord(p)
	}
	if err := ing.parents.Upsert(ctx, precords); err != nil {
		log.Error("write parents failed", "error", err)
		return res, &chunkindex.StorageError{Collection: ing.parents.Name(), Op: "upsert", Err: err}
	}
	res.ParentCount = len(parents)

	var flat []chunkindex.ChildChunk
	for _, cs := range children {
		flat = append(flat, cs...)
	}
	written, err := ing.writeChildren(ctx, flat, res.ParentCount)
	res.ChildCount = written
	if err != nil {
		log.Error("write children failed",
			"parents_written", res.ParentCount,
			"children_written", written,
			"error", err)
		return res, err
	}

	log.Info("ingested",
		"parents", res.ParentCount,
		"children", res.ChildCount,
		"duration", time.Since(start))
	return res, nil
}

// writeChildren embeds and upserts children batch by batch and returns how
// many were persisted. parentsWritten is only reported in errors.
func (ing *Ingestor) writeChildren(ctx context.Context, children []chunkindex.ChildChunk, parentsWritten int) (int, error) {
	written := 0
	for i := 0; i < len(children); i += ing.batchSize {
		end := min(i+ing.batchSize, len(children))
		batch := children[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		embeddings, err := ing.embedding.Embed(ctx, texts)
		if err == nil && len(embeddings) != len(batch) {
			err = fmt.Errorf("got %d embeddings for %d texts", len(embeddings), len(batch))
		}
		if err != nil {
			return written, &chunkindex.StorageError{
				Collection:      ing.children.Name(),
				Op:              "embed",
				ParentsWritten:  parentsWritten,
				ChildrenWritten: written,
				Err:             &chunkindex.ProviderError{Provider: ing.embedding.Name(), ChunkID: batch[0].ID, Err: err},
			}
		}

		records := make([]chunkindex.Record, len(batch))
		for j, c := range batch {
			c.Embedding = embeddings[j]
			records[j] = chunkindex.ChildRecord(c)
		}
		if err := ing.children.Upsert(ctx, records); err != nil {
			return written, &chunkindex.StorageError{
				Collection:      ing.children.Name(),
				Op:              "upsert",
				ParentsWritten:  parentsWritten,
				ChildrenWritten: written,
				Err:             err,
			}
		}
		written += len(batch)
	}
	return written, nil
}

// deleteSource removes children before parents so no child is left pointing
// at a deleted parent.
func (ing *Ingestor) deleteSource(ctx context.Context, source string) error {
	if err := ing.children.DeleteWhere(ctx, chunkindex.BySource(source)); err != nil {
		return &chunkindex.StorageError{Collection: ing.children.Name(), Op: "delete", Err: err}
	}
	if err := ing.parents.DeleteWhere(ctx, chunkindex.BySource(source)); err != nil {
		return &chunkindex.StorageError{Collection: ing.parents.Name(), Op: "delete", Err: err}
	}
	return nil
}

// IngestAll ingests docs with up to workers documents in flight. Results are
// returned in input order. The first error cancels the remaining work.
func (ing *Ingestor) IngestAll(ctx context.Context, docs []chunkindex.Document, workers int) ([]chunkindex.IngestResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]chunkindex.IngestResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := ing.Ingest(gctx, doc)
			results[i] = res
			if err != nil {
				return fmt.Errorf("ingest %s: %w", doc.Source, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
