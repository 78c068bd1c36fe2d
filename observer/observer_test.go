package observer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/chunkindex"

	lognoop "go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockProvider for observer tests.
type mockProvider struct {
	name     string
	chatResp chunkindex.ChatResponse
	chatErr  error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Chat(_ context.Context, _ chunkindex.ChatRequest) (chunkindex.ChatResponse, error) {
	return m.chatResp, m.chatErr
}

// mockEmbedding for observer tests.
type mockEmbedding struct {
	name string
	dims int
	vecs [][]float32
	err  error
}

func (m *mockEmbedding) Name() string    { return m.name }
func (m *mockEmbedding) Dimensions() int { return m.dims }
func (m *mockEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return m.vecs, m.err
}

// mockCollection records the last call and fails when err is set.
type mockCollection struct {
	last string
	err  error
}

func (m *mockCollection) Name() string { return "child_chunks" }
func (m *mockCollection) Upsert(context.Context, []chunkindex.Record) error {
	m.last = "upsert"
	return m.err
}
func (m *mockCollection) Get(_ context.Context, ids []string) ([]chunkindex.Record, error) {
	m.last = "get"
	out := make([]chunkindex.Record, len(ids))
	for i, id := range ids {
		out[i] = chunkindex.Record{ID: id}
	}
	return out, m.err
}
func (m *mockCollection) Query(context.Context, []float32, int, ...chunkindex.Filter) ([]chunkindex.ScoredRecord, error) {
	m.last = "query"
	return []chunkindex.ScoredRecord{{Record: chunkindex.Record{ID: "c1"}, Score: 0.9}}, m.err
}
func (m *mockCollection) Count(context.Context) (int, error) {
	m.last = "count"
	return 7, m.err
}
func (m *mockCollection) DeleteWhere(context.Context, ...chunkindex.Filter) error {
	m.last = "delete"
	return m.err
}
func (m *mockCollection) Distinct(context.Context, string) ([]string, error) {
	m.last = "distinct"
	return []string{"a"}, m.err
}
func (m *mockCollection) Drop(context.Context) error {
	m.last = "drop"
	return m.err
}

// testInstruments creates Instruments backed by the global OTEL providers
// (no-ops by default). This is safe for testing delegation behavior without
// any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// recordingInstruments returns Instruments whose metrics land in reader and
// whose spans land in spans.
func recordingInstruments(t *testing.T) (*Instruments, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	inst, err := NewInstruments(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		lognoop.NewLoggerProvider(),
		nil,
	)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	return inst, reader, spans
}

// sumOf returns the summed value of an int64 counter.
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

// histogramCount returns the number of observations of a float64 histogram.
func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var n uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if h, ok := m.Data.(metricdata.Histogram[float64]); ok && m.Name == name {
				for _, dp := range h.DataPoints {
					n += dp.Count
				}
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// ObservedProvider tests
// ---------------------------------------------------------------------------

func TestObservedProviderName(t *testing.T) {
	inner := &mockProvider{name: "test-provider"}
	op := WrapProvider(inner, "test-model", testInstruments(t))

	if got := op.Name(); got != "test-provider" {
		t.Errorf("Name() = %q, want %q", got, "test-provider")
	}
}

func TestObservedProviderChat(t *testing.T) {
	want := chunkindex.ChatResponse{
		Content: "hello from LLM",
		Usage:   chunkindex.Usage{InputTokens: 10, OutputTokens: 5},
	}
	inst, reader, spans := recordingInstruments(t)
	op := WrapProvider(&mockProvider{name: "p", chatResp: want}, "m", inst)

	got, err := op.Chat(context.Background(), chunkindex.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat returned unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("Chat = %+v, want %+v", got, want)
	}
	if n := sumOf(t, reader, "llm.token.usage"); n != 15 {
		t.Errorf("llm.token.usage = %d, want 15", n)
	}
	if n := len(spans.Ended()); n != 1 || spans.Ended()[0].Name() != "llm.chat" {
		t.Errorf("expected one llm.chat span, got %d", n)
	}
}

func TestObservedProviderChatError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	op := WrapProvider(&mockProvider{name: "p", chatErr: wantErr}, "m", testInstruments(t))

	_, err := op.Chat(context.Background(), chunkindex.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedEmbedding tests
// ---------------------------------------------------------------------------

func TestObservedEmbeddingNameAndDimensions(t *testing.T) {
	oe := WrapEmbedding(&mockEmbedding{name: "embed", dims: 768}, "m", testInstruments(t))
	if oe.Name() != "embed" {
		t.Errorf("Name() = %q, want %q", oe.Name(), "embed")
	}
	if oe.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", oe.Dimensions())
	}
}

func TestObservedEmbeddingEmbed(t *testing.T) {
	vecs := [][]float32{{0.1, 0.2}, {0.3, 0.4}}
	inst, reader, _ := recordingInstruments(t)
	oe := WrapEmbedding(&mockEmbedding{name: "e", dims: 2, vecs: vecs}, "m", inst)

	got, err := oe.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed returned unexpected error: %v", err)
	}
	if len(got) != 2 || got[1][1] != 0.4 {
		t.Errorf("Embed = %v, want %v", got, vecs)
	}
	if n := sumOf(t, reader, "embedding.requests"); n != 1 {
		t.Errorf("embedding.requests = %d, want 1", n)
	}
}

func TestObservedEmbeddingEmbedError(t *testing.T) {
	wantErr := errors.New("embedding failed")
	oe := WrapEmbedding(&mockEmbedding{name: "e", err: wantErr}, "m", testInstruments(t))

	if _, err := oe.Embed(context.Background(), []string{"x"}); !errors.Is(err, wantErr) {
		t.Errorf("Embed error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedCollection tests
// ---------------------------------------------------------------------------

func TestObservedCollectionDelegates(t *testing.T) {
	inst, reader, spans := recordingInstruments(t)
	inner := &mockCollection{}
	oc := WrapCollection(inner, inst)
	ctx := context.Background()

	if oc.Name() != "child_chunks" {
		t.Errorf("Name() = %q", oc.Name())
	}
	if err := oc.Upsert(ctx, []chunkindex.Record{{ID: "a"}}); err != nil || inner.last != "upsert" {
		t.Errorf("Upsert: %v, last=%s", err, inner.last)
	}
	if got, err := oc.Get(ctx, []string{"a", "b"}); err != nil || len(got) != 2 {
		t.Errorf("Get = %v, %v", got, err)
	}
	if hits, err := oc.Query(ctx, []float32{1}, 3); err != nil || len(hits) != 1 || hits[0].ID != "c1" {
		t.Errorf("Query = %v, %v", hits, err)
	}
	if n, err := oc.Count(ctx); err != nil || n != 7 {
		t.Errorf("Count = %d, %v", n, err)
	}
	if err := oc.DeleteWhere(ctx, chunkindex.BySource("a")); err != nil || inner.last != "delete" {
		t.Errorf("DeleteWhere: %v", err)
	}
	if vals, err := oc.Distinct(ctx, chunkindex.MetaSource); err != nil || len(vals) != 1 {
		t.Errorf("Distinct = %v, %v", vals, err)
	}
	if err := oc.Drop(ctx); err != nil || inner.last != "drop" {
		t.Errorf("Drop: %v", err)
	}

	if n := sumOf(t, reader, "store.operations"); n != 7 {
		t.Errorf("store.operations = %d, want 7", n)
	}
	if n := len(spans.Ended()); n != 7 {
		t.Errorf("ended spans = %d, want 7", n)
	}
	if name := spans.Ended()[2].Name(); name != "store.query" {
		t.Errorf("third span = %q, want store.query", name)
	}
}

func TestObservedCollectionError(t *testing.T) {
	wantErr := errors.New("disk full")
	inst, _, spans := recordingInstruments(t)
	oc := WrapCollection(&mockCollection{err: wantErr}, inst)

	if err := oc.Upsert(context.Background(), nil); !errors.Is(err, wantErr) {
		t.Errorf("Upsert error = %v, want %v", err, wantErr)
	}
	ended := spans.Ended()
	if len(ended) != 1 || len(ended[0].Events()) == 0 {
		t.Error("expected the error to be recorded on the span")
	}
}

// ---------------------------------------------------------------------------
// Index instruments
// ---------------------------------------------------------------------------

func TestIndexInstruments(t *testing.T) {
	inst, reader, _ := recordingInstruments(t)
	ctx := context.Background()

	inst.RecordIngest(ctx, "a.txt", 2, 17, nil)
	inst.RecordIngest(ctx, "b.txt", 1, 3, errors.New("partial"))
	inst.RecordSearch(ctx, chunkindex.ModeMMR, 4, 12*time.Millisecond, nil)
	inst.RecordLookupMiss(ctx, "child_x_p0_c0", "parent_x_0")
	inst.RecordLookupMiss(ctx, "child_y_p0_c0", "parent_y_0")

	if n := sumOf(t, reader, "index.ingest.parents"); n != 3 {
		t.Errorf("index.ingest.parents = %d, want 3", n)
	}
	if n := sumOf(t, reader, "index.ingest.children"); n != 20 {
		t.Errorf("index.ingest.children = %d, want 20", n)
	}
	if n := sumOf(t, reader, "index.search.lookup_miss"); n != 2 {
		t.Errorf("index.search.lookup_miss = %d, want 2", n)
	}
	if n := histogramCount(t, reader, "index.search.duration"); n != 1 {
		t.Errorf("index.search.duration observations = %d, want 1", n)
	}
}

func TestNoopInstruments(t *testing.T) {
	inst, err := NewInstruments(tracenoop.NewTracerProvider(), sdkmetric.NewMeterProvider(), lognoop.NewLoggerProvider(), nil)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	// Must not panic without readers.
	inst.RecordLookupMiss(context.Background(), "c", "p")
}
