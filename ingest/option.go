package ingest

import "log/slog"

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSplitter sets the parent/child splitter (default DefaultSplitter).
// A nil splitter keeps the default.
func WithSplitter(s *Splitter) Option {
	return func(ing *Ingestor) { ing.splitter = s }
}

// WithParentSize sets the parent chunk size and overlap in characters.
// A splitter passed to WithSplitter is copied, not modified.
func WithParentSize(size, overlap int) Option {
	return func(ing *Ingestor) {
		s := ing.splitterCopy()
		s.Parent = NewRecursiveChunker(WithChunkSize(size), WithChunkOverlap(overlap))
		ing.splitter = s
	}
}

// WithChildSize sets the child chunk size and overlap in characters.
// A splitter passed to WithSplitter is copied, not modified.
func WithChildSize(size, overlap int) Option {
	return func(ing *Ingestor) {
		s := ing.splitterCopy()
		s.Child = NewRecursiveChunker(WithChunkSize(size), WithChunkOverlap(overlap))
		ing.splitter = s
	}
}

func (ing *Ingestor) splitterCopy() *Splitter {
	if ing.splitter == nil {
		return DefaultSplitter()
	}
	s := *ing.splitter
	return &s
}

// WithBatchSize sets the number of children per Embed call (default 64).
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithLoader sets the loader used by IngestFile, IngestBytes and IngestURL.
func WithLoader(l *Loader) Option {
	return func(ing *Ingestor) { ing.loader = l }
}

// WithReplaceSource makes every ingest first delete the chunks previously
// stored for the same source, so chunks of an edited document do not linger.
func WithReplaceSource(on bool) Option {
	return func(ing *Ingestor) { ing.replaceSource = on }
}

// WithLogger sets the structured logger. Default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}
