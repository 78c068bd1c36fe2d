package chunkindex

import (
	"context"
	"fmt"
	"log/slog"
)

// RetrieverOption configures a Retriever.
type RetrieverOption func(*retrieverConfig)

type retrieverConfig struct {
	logger              *slog.Logger
	overfetchMultiplier int
	onMiss              func(ctx context.Context, childID, parentID string)
}

// WithRetrieverLogger sets the logger used for lookup-miss warnings.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(c *retrieverConfig) { c.logger = l }
}

// WithOverfetchMultiplier makes similarity mode fetch K*n children, so that
// duplicate or missing parents are backfilled from lower-ranked hits.
// Default is 1 (exactly K children).
func WithOverfetchMultiplier(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.overfetchMultiplier = n }
}

// WithLookupMissHook registers fn to be called for every child whose parent
// is absent from the parents collection.
func WithLookupMissHook(fn func(ctx context.Context, childID, parentID string)) RetrieverOption {
	return func(c *retrieverConfig) { c.onMiss = fn }
}

// Retriever searches child chunks and returns their deduplicated parents.
type Retriever struct {
	parents   Collection
	children  Collection
	embedding EmbeddingProvider
	cfg       retrieverConfig
}

// NewRetriever creates a Retriever over the given parent and child collections.
func NewRetriever(parents, children Collection, embedding EmbeddingProvider, opts ...RetrieverOption) *Retriever {
	cfg := retrieverConfig{overfetchMultiplier: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	if cfg.overfetchMultiplier < 1 {
		cfg.overfetchMultiplier = 1
	}
	return &Retriever{parents: parents, children: children, embedding: embedding, cfg: cfg}
}

// Search embeds query, ranks child chunks according to opts.Mode, and maps
// the ranked children to at most opts.K distinct parents in first-occurrence
// order. An empty result is not an error.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]RetrievalResult, error) {
	opts = opts.withDefaults()

	embs, err := r.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, &ProviderError{Provider: r.embedding.Name(), Err: fmt.Errorf("embed query: %w", err)}
	}
	if len(embs) == 0 {
		return nil, &ProviderError{Provider: r.embedding.Name(), Err: fmt.Errorf("embed query: no embedding returned")}
	}
	q := embs[0]

	var filters []Filter
	if opts.Source != "" {
		filters = append(filters, BySource(opts.Source))
	}

	var hits []ScoredRecord
	scored := true
	switch opts.Mode {
	case ModeSimilarity:
		hits, err = r.children.Query(ctx, q, opts.K*r.cfg.overfetchMultiplier, filters...)
	case ModeMMR:
		hits, err = r.children.Query(ctx, q, opts.FetchK, filters...)
		if err == nil {
			hits = selectMMR(hits, opts.K, *opts.LambdaMult)
		}
		scored = false
	case ModeThreshold:
		hits, err = r.children.Query(ctx, q, opts.FetchK, filters...)
		if err == nil {
			hits = aboveThreshold(hits, *opts.ScoreThreshold)
		}
	default:
		return nil, fmt.Errorf("unknown search mode %q", opts.Mode)
	}
	if err != nil {
		return nil, &StorageError{Collection: r.children.Name(), Op: "query", Err: err}
	}

	return r.resolveParents(ctx, hits, opts.K, scored)
}

// resolveParents maps child hits to parents, keeping the first occurrence of
// each parent id. Hits whose parent is missing are skipped and do not count
// toward k.
func (r *Retriever) resolveParents(ctx context.Context, hits []ScoredRecord, k int, scored bool) ([]RetrievalResult, error) {
	if len(hits) == 0 {
		return []RetrievalResult{}, nil
	}

	seen := make(map[string]bool)
	var pIDs []string
	for _, h := range hits {
		pid := h.Metadata[MetaParentID]
		if pid != "" && !seen[pid] {
			seen[pid] = true
			pIDs = append(pIDs, pid)
		}
	}

	parents, err := r.parents.Get(ctx, pIDs)
	if err != nil {
		return nil, &StorageError{Collection: r.parents.Name(), Op: "get", Err: err}
	}
	parentMap := make(map[string]Record, len(parents))
	for _, p := range parents {
		parentMap[p.ID] = p
	}

	emitted := make(map[string]bool)
	results := make([]RetrievalResult, 0, k)
	for _, h := range hits {
		if len(results) == k {
			break
		}
		pid := h.Metadata[MetaParentID]
		if emitted[pid] {
			continue
		}
		p, ok := parentMap[pid]
		if !ok {
			r.cfg.logger.Warn("parent lookup miss",
				"child_id", h.ID,
				"parent_id", pid,
				"collection", r.parents.Name())
			if r.cfg.onMiss != nil {
				r.cfg.onMiss(ctx, h.ID, pid)
			}
			continue
		}
		emitted[pid] = true
		res := RetrievalResult{Parent: ParentFromRecord(p), ChildID: h.ID, Scored: scored}
		if scored {
			res.Score = h.Score
		}
		results = append(results, res)
	}
	return results, nil
}

// aboveThreshold keeps hits with Score >= threshold, preserving order.
func aboveThreshold(hits []ScoredRecord, threshold float32) []ScoredRecord {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// selectMMR greedily picks k candidates by maximal marginal relevance:
// lambda*sim(q, c) - (1-lambda)*max sim(c, s) over already selected s.
// Candidate order must be descending relevance; ties keep the earlier one.
func selectMMR(cands []ScoredRecord, k int, lambda float32) []ScoredRecord {
	if k > len(cands) {
		k = len(cands)
	}
	if k <= 1 {
		return cands[:k]
	}
	selected := make([]ScoredRecord, 0, k)
	used := make([]bool, len(cands))
	// maxSim[i] caches the highest similarity of candidate i to any selected one.
	maxSim := make([]float32, len(cands))

	for len(selected) < k {
		best := -1
		var bestScore float32
		for i, c := range cands {
			if used[i] {
				continue
			}
			score := lambda*c.Score - (1-lambda)*maxSim[i]
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		pick := cands[best]
		selected = append(selected, pick)
		for i, c := range cands {
			if used[i] {
				continue
			}
			if s := CosineSimilarity(c.Embedding, pick.Embedding); len(selected) == 1 || s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected
}
