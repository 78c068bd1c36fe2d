package index

import (
	"fmt"

	"github.com/nevindra/chunkindex"
)

// Config is the explicit configuration of an Index. Collaborators (store,
// embedding, completion provider) are passed to Open as options.
type Config struct {
	ParentCollection string
	ChildCollection  string

	ParentSize    int
	ParentOverlap int
	ChildSize     int
	ChildOverlap  int

	// BatchSize is the number of children per Embed call.
	BatchSize int
	// ReplaceSource deletes a source's previous chunks before re-ingesting it.
	ReplaceSource bool
	// Workers bounds concurrent documents in IngestAll and IngestFiles.
	Workers int

	// Search holds defaults for fields left zero in Search and Ask calls.
	Search chunkindex.SearchOptions
}

// DefaultConfig returns parents of 1000/200 and children of 100/20
// characters, stored in parent_chunks and child_chunks.
func DefaultConfig() Config {
	return Config{
		ParentCollection: chunkindex.ParentCollection,
		ChildCollection:  chunkindex.ChildCollection,
		ParentSize:       1000,
		ParentOverlap:    200,
		ChildSize:        100,
		ChildOverlap:     20,
		BatchSize:        64,
		ReplaceSource:    true,
		Workers:          4,
		Search:           chunkindex.DefaultSearchOptions(),
	}
}

func (c Config) validate() error {
	if c.ParentCollection == "" || c.ChildCollection == "" {
		return fmt.Errorf("index: collection names must not be empty")
	}
	if c.ParentCollection == c.ChildCollection {
		return fmt.Errorf("index: parent and child collections must differ, both are %q", c.ParentCollection)
	}
	if c.ParentSize <= 0 || c.ParentOverlap < 0 || c.ParentOverlap >= c.ParentSize {
		return fmt.Errorf("index: invalid parent size/overlap %d/%d", c.ParentSize, c.ParentOverlap)
	}
	if c.ChildSize <= 0 || c.ChildOverlap < 0 || c.ChildOverlap >= c.ChildSize {
		return fmt.Errorf("index: invalid child size/overlap %d/%d", c.ChildSize, c.ChildOverlap)
	}
	return nil
}

// mergeSearch fills the zero fields of opts from the configured defaults.
func (c Config) mergeSearch(opts chunkindex.SearchOptions) chunkindex.SearchOptions {
	d := c.Search
	if opts.Mode == "" {
		opts.Mode = d.Mode
	}
	if opts.K == 0 {
		opts.K = d.K
	}
	if opts.FetchK == 0 {
		opts.FetchK = d.FetchK
	}
	if opts.LambdaMult == nil {
		opts.LambdaMult = d.LambdaMult
	}
	if opts.ScoreThreshold == nil {
		opts.ScoreThreshold = d.ScoreThreshold
	}
	return opts
}
