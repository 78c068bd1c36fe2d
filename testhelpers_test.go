package chunkindex

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
)

// stubProvider is a test Provider that returns pre-configured results in order.
type stubProvider struct {
	calls    int
	results  []stubResult
	requests []ChatRequest
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.results) {
		return s.results[i].resp, s.results[i].err
	}
	return ChatResponse{}, nil
}

var _ Provider = (*stubProvider)(nil)

// wordEmbedding hashes lower-cased words into a fixed number of buckets.
// Texts sharing words get a positive cosine similarity.
type wordEmbedding struct {
	dims  int
	calls int
	err   error
}

func (w *wordEmbedding) Name() string    { return "words" }
func (w *wordEmbedding) Dimensions() int { return w.dims }

func (w *wordEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, w.dims)
		for _, word := range strings.Fields(strings.ToLower(t)) {
			word = strings.Trim(word, ".,;:!?")
			h := fnv.New32a()
			h.Write([]byte(word))
			v[int(h.Sum32())%w.dims]++
		}
		out[i] = v
	}
	return out, nil
}

// memCollection is an in-memory Collection with insertion-ordered ties.
type memCollection struct {
	name    string
	order   []string
	records map[string]Record
	failGet error
}

func newMemCollection(name string) *memCollection {
	return &memCollection{name: name, records: make(map[string]Record)}
}

func (m *memCollection) Name() string { return m.name }

func (m *memCollection) Upsert(_ context.Context, recs []Record) error {
	for _, r := range recs {
		if _, ok := m.records[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = r
	}
	return nil
}

func (m *memCollection) Get(_ context.Context, ids []string) ([]Record, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	var out []Record
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memCollection) Query(_ context.Context, emb []float32, topK int, filters ...Filter) ([]ScoredRecord, error) {
	var out []ScoredRecord
	for _, id := range m.order {
		r := m.records[id]
		if !MatchFilters(r.Metadata, filters) {
			continue
		}
		out = append(out, ScoredRecord{Record: r, Score: CosineSimilarity(emb, r.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memCollection) Count(_ context.Context) (int, error) { return len(m.records), nil }

func (m *memCollection) DeleteWhere(_ context.Context, filters ...Filter) error {
	if len(filters) == 0 {
		return errors.New("no filters")
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if MatchFilters(m.records[id].Metadata, filters) {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

func (m *memCollection) Distinct(_ context.Context, key string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, r := range m.records {
		if v := r.Metadata[key]; v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memCollection) Drop(_ context.Context) error {
	m.order = nil
	m.records = make(map[string]Record)
	return nil
}

var _ Collection = (*memCollection)(nil)
