package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nevindra/chunkindex"
)

// --- test doubles ---

type mockEmbedding struct {
	mu         sync.Mutex
	callCount  int
	batchSizes []int
	failOn     int // 1-based call number that fails; 0 = never
}

func (m *mockEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.failOn == m.callCount {
		return nil, &chunkindex.ErrHTTP{Status: 429, Body: "slow down"}
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{float32(len(texts[i])), 1, 0, 0}
	}
	return result, nil
}
func (m *mockEmbedding) Dimensions() int { return 4 }
func (m *mockEmbedding) Name() string    { return "mock" }

// recordingCollection keeps upserted records in a map and logs the order of writes.
type recordingCollection struct {
	name    string
	mu      *sync.Mutex
	log     *[]string
	records map[string]chunkindex.Record
	fail    error
	// failAfter makes every upsert after the first failAfter ones return fail.
	failAfter int
	upserts   int
}

func newCollections() (*recordingCollection, *recordingCollection) {
	mu := &sync.Mutex{}
	log := &[]string{}
	return &recordingCollection{name: chunkindex.ParentCollection, mu: mu, log: log, records: map[string]chunkindex.Record{}},
		&recordingCollection{name: chunkindex.ChildCollection, mu: mu, log: log, records: map[string]chunkindex.Record{}}
}

func (c *recordingCollection) Name() string { return c.name }

func (c *recordingCollection) Upsert(_ context.Context, recs []chunkindex.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil && c.upserts >= c.failAfter {
		return c.fail
	}
	c.upserts++
	*c.log = append(*c.log, c.name)
	for _, r := range recs {
		c.records[r.ID] = r
	}
	return nil
}

func (c *recordingCollection) Get(_ context.Context, ids []string) ([]chunkindex.Record, error) {
	return nil, nil
}

func (c *recordingCollection) Query(context.Context, []float32, int, ...chunkindex.Filter) ([]chunkindex.ScoredRecord, error) {
	return nil, nil
}

func (c *recordingCollection) Count(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records), nil
}

func (c *recordingCollection) DeleteWhere(_ context.Context, filters ...chunkindex.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.log = append(*c.log, "delete "+c.name)
	for id, r := range c.records {
		if chunkindex.MatchFilters(r.Metadata, filters) {
			delete(c.records, id)
		}
	}
	return nil
}

func (c *recordingCollection) Distinct(context.Context, string) ([]string, error) { return nil, nil }
func (c *recordingCollection) Drop(context.Context) error                         { return nil }

// --- tests ---

func TestIngestTextWritesParentsBeforeChildren(t *testing.T) {
	parents, children := newCollections()
	emb := &mockEmbedding{}
	ing := NewIngestor(parents, children, emb)

	res, err := ing.IngestText(context.Background(), strings.Repeat("Sentence one. Sentence two. ", 50), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.ParentCount != 2 || res.ChildCount == 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID == "" || res.Source != "a.txt" {
		t.Errorf("result metadata = %+v", res)
	}
	if (*parents.log)[0] != chunkindex.ParentCollection {
		t.Errorf("first write went to %s", (*parents.log)[0])
	}
	for _, name := range (*parents.log)[1:] {
		if name == chunkindex.ParentCollection {
			t.Error("parents written after children")
		}
	}
	if len(parents.records) != res.ParentCount || len(children.records) != res.ChildCount {
		t.Errorf("stored %d/%d, reported %d/%d", len(parents.records), len(children.records), res.ParentCount, res.ChildCount)
	}

	for _, r := range children.records {
		pid := r.Metadata[chunkindex.MetaParentID]
		if _, ok := parents.records[pid]; !ok {
			t.Errorf("child %s references unknown parent %s", r.ID, pid)
		}
		if len(r.Embedding) != 4 {
			t.Errorf("child %s has no embedding", r.ID)
		}
	}
	for _, r := range parents.records {
		if r.Embedding != nil {
			t.Errorf("parent %s must not be embedded", r.ID)
		}
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	parents, children := newCollections()
	emb := &mockEmbedding{}
	res, err := NewIngestor(parents, children, emb).IngestText(context.Background(), "", "empty.txt")
	if err != nil {
		t.Fatal(err)
	}
	if res.ParentCount != 0 || res.ChildCount != 0 {
		t.Errorf("result = %+v", res)
	}
	if emb.callCount != 0 || len(*parents.log) != 0 {
		t.Error("empty document must not touch providers or storage")
	}
}

func TestIngestBatchSize(t *testing.T) {
	parents, children := newCollections()
	emb := &mockEmbedding{}
	ing := NewIngestor(parents, children, emb, WithBatchSize(5))

	res, err := ing.IngestText(context.Background(), strings.Repeat("word ", 400), "w.txt")
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, n := range emb.batchSizes {
		if n > 5 {
			t.Errorf("batch of %d exceeds 5", n)
		}
		total += n
	}
	if total != res.ChildCount {
		t.Errorf("embedded %d, stored %d", total, res.ChildCount)
	}
}

func TestIngestEmbeddingFailureReportsProgress(t *testing.T) {
	parents, children := newCollections()
	emb := &mockEmbedding{failOn: 2}
	ing := NewIngestor(parents, children, emb, WithBatchSize(3))

	res, err := ing.IngestText(context.Background(), strings.Repeat("Sentence one. Sentence two. ", 50), "a.txt")
	var se *chunkindex.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StorageError", err)
	}
	if se.ParentsWritten != 2 || se.ChildrenWritten != 3 {
		t.Errorf("progress = %d/%d, want 2/3", se.ParentsWritten, se.ChildrenWritten)
	}
	var pe *chunkindex.ProviderError
	if !errors.As(err, &pe) || !strings.HasPrefix(pe.ChunkID, "child_") {
		t.Errorf("err = %v, want ProviderError naming a child", err)
	}
	var he *chunkindex.ErrHTTP
	if !errors.As(err, &he) || he.Status != 429 {
		t.Errorf("underlying HTTP error lost: %v", err)
	}
	if res.ChildCount != 3 || len(children.records) != 3 {
		t.Errorf("children persisted = %d (result %d), want 3", len(children.records), res.ChildCount)
	}
}

func TestIngestParentFailure(t *testing.T) {
	parents, children := newCollections()
	parents.fail = errors.New("disk full")
	emb := &mockEmbedding{}

	_, err := NewIngestor(parents, children, emb).IngestText(context.Background(), "Some text.", "a.txt")
	var se *chunkindex.StorageError
	if !errors.As(err, &se) || se.Collection != chunkindex.ParentCollection || se.ParentsWritten != 0 {
		t.Fatalf("err = %v", err)
	}
	if emb.callCount != 0 {
		t.Error("children must not be embedded when parents fail")
	}
}

func TestIngestChildUpsertFailureReportsProgress(t *testing.T) {
	parents, children := newCollections()
	diskFull := errors.New("disk full")
	children.fail = diskFull
	children.failAfter = 1
	emb := &mockEmbedding{}
	ing := NewIngestor(parents, children, emb, WithBatchSize(3))

	res, err := ing.IngestText(context.Background(), strings.Repeat("Sentence one. Sentence two. ", 50), "a.txt")
	var se *chunkindex.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StorageError", err)
	}
	if se.Op != "upsert" || se.Collection != chunkindex.ChildCollection {
		t.Errorf("op = %s on %s, want upsert on %s", se.Op, se.Collection, chunkindex.ChildCollection)
	}
	if se.ParentsWritten != 2 || se.ChildrenWritten != 3 {
		t.Errorf("progress = %d/%d, want 2/3", se.ParentsWritten, se.ChildrenWritten)
	}
	if !errors.Is(err, diskFull) {
		t.Errorf("underlying store error lost: %v", err)
	}
	if res.ChildCount != 3 || len(children.records) != 3 {
		t.Errorf("children persisted = %d (result %d), want 3", len(children.records), res.ChildCount)
	}
}

func TestSizeOptionsDoNotMutateSharedSplitter(t *testing.T) {
	parents, children := newCollections()
	shared := NewSplitter(500, 50, 80, 10)
	origParent, origChild := shared.Parent, shared.Child

	ing := NewIngestor(parents, children, &mockEmbedding{}, WithSplitter(shared), WithParentSize(300, 30), WithChildSize(60, 5))
	if shared.Parent != origParent || shared.Child != origChild {
		t.Error("WithParentSize/WithChildSize modified the caller's splitter")
	}
	if ing.Splitter() == shared {
		t.Error("ingestor should hold its own splitter copy")
	}

	ing = NewIngestor(parents, children, &mockEmbedding{}, WithSplitter(nil), WithChildSize(60, 5))
	if ing.Splitter() == nil || ing.Splitter().Parent == nil || ing.Splitter().Child == nil {
		t.Fatal("nil splitter should fall back to the default")
	}
	if _, err := ing.IngestText(context.Background(), "Some text to split.", "n.txt"); err != nil {
		t.Fatal(err)
	}
}

func TestIngestIdempotent(t *testing.T) {
	parents, children := newCollections()
	ing := NewIngestor(parents, children, &mockEmbedding{})
	text := strings.Repeat("Repeatable content. ", 90)

	first, err := ing.IngestText(context.Background(), text, "r.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ing.IngestText(context.Background(), text, "r.txt"); err != nil {
		t.Fatal(err)
	}
	if len(parents.records) != first.ParentCount || len(children.records) != first.ChildCount {
		t.Errorf("re-ingest grew the index: %d/%d vs %d/%d",
			len(parents.records), len(children.records), first.ParentCount, first.ChildCount)
	}
}

func TestIngestReplaceSource(t *testing.T) {
	parents, children := newCollections()
	ing := NewIngestor(parents, children, &mockEmbedding{}, WithReplaceSource(true))
	ctx := context.Background()

	if _, err := ing.IngestText(ctx, strings.Repeat("Old version text. ", 100), "doc.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.IngestText(ctx, "Other source.", "other.txt"); err != nil {
		t.Fatal(err)
	}
	res, err := ing.IngestText(ctx, "New version.", "doc.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(parents.records) != res.ParentCount+1 {
		t.Errorf("got %d parents, want %d (new doc.txt + other.txt)", len(parents.records), res.ParentCount+1)
	}
	for _, r := range parents.records {
		if strings.Contains(r.Text, "Old version") {
			t.Error("stale parent survived re-ingest")
		}
	}
}

func TestIngestAllParallel(t *testing.T) {
	parents, children := newCollections()
	ing := NewIngestor(parents, children, &mockEmbedding{})
	text := strings.Repeat("Shared document body. ", 100)
	docs := []chunkindex.Document{
		chunkindex.NewTextDocument("same.txt", text),
		chunkindex.NewTextDocument("same.txt", text),
		chunkindex.NewTextDocument("same.txt", text),
	}

	results, err := ing.IngestAll(context.Background(), docs, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if len(parents.records) != results[0].ParentCount || len(children.records) != results[0].ChildCount {
		t.Errorf("concurrent ingest left %d/%d records, want %d/%d",
			len(parents.records), len(children.records), results[0].ParentCount, results[0].ChildCount)
	}
}

func TestIngestFileAndURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# Title\n\nSome **markdown** body."), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Plain body from the web."))
	}))
	defer srv.Close()

	parents, children := newCollections()
	ing := NewIngestor(parents, children, &mockEmbedding{})

	res, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.ParentCount != 1 {
		t.Errorf("file parents = %d", res.ParentCount)
	}
	res, err = ing.IngestURL(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != srv.URL+"/page" || res.ParentCount != 1 {
		t.Errorf("url result = %+v", res)
	}

	var sawMarkdown bool
	for _, r := range parents.records {
		if r.Metadata[chunkindex.MetaSource] == path {
			sawMarkdown = true
			if strings.Contains(r.Text, "**") || strings.Contains(r.Text, "#") {
				t.Errorf("markdown syntax left in %q", r.Text)
			}
		}
	}
	if !sawMarkdown {
		t.Error("file parent not stored")
	}
}
