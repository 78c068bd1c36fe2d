package observer

import (
	"context"
	"time"

	"github.com/nevindra/chunkindex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedCollection wraps a chunkindex.Collection with a span and duration
// metric per operation.
type ObservedCollection struct {
	inner chunkindex.Collection
	inst  *Instruments
}

// WrapCollection returns an instrumented collection.
func WrapCollection(inner chunkindex.Collection, inst *Instruments) *ObservedCollection {
	return &ObservedCollection{inner: inner, inst: inst}
}

func (o *ObservedCollection) Name() string { return o.inner.Name() }

// observe starts a span for op and returns a func that ends it and records
// the outcome.
func (o *ObservedCollection) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	base := []attribute.KeyValue{AttrCollection.String(o.inner.Name()), AttrStoreOp.String(op)}
	ctx, span := o.inst.Tracer.Start(ctx, "store."+op, trace.WithAttributes(append(base, attrs...)...))
	start := time.Now()

	return ctx, func(err error) {
		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.inst.StoreOps.Add(ctx, 1, metric.WithAttributes(append(base, AttrStatus.String(status))...))
		o.inst.StoreDuration.Record(ctx, durationMs, metric.WithAttributes(base...))
	}
}

func (o *ObservedCollection) Upsert(ctx context.Context, records []chunkindex.Record) (err error) {
	ctx, done := o.observe(ctx, "upsert", AttrRecordCount.Int(len(records)))
	defer func() { done(err) }()
	return o.inner.Upsert(ctx, records)
}

func (o *ObservedCollection) Get(ctx context.Context, ids []string) (out []chunkindex.Record, err error) {
	ctx, done := o.observe(ctx, "get", AttrRecordCount.Int(len(ids)))
	defer func() { done(err) }()
	return o.inner.Get(ctx, ids)
}

func (o *ObservedCollection) Query(ctx context.Context, embedding []float32, topK int, filters ...chunkindex.Filter) (out []chunkindex.ScoredRecord, err error) {
	ctx, done := o.observe(ctx, "query", AttrTopK.Int(topK), AttrFilterCount.Int(len(filters)))
	defer func() { done(err) }()
	return o.inner.Query(ctx, embedding, topK, filters...)
}

func (o *ObservedCollection) Count(ctx context.Context) (n int, err error) {
	ctx, done := o.observe(ctx, "count")
	defer func() { done(err) }()
	return o.inner.Count(ctx)
}

func (o *ObservedCollection) DeleteWhere(ctx context.Context, filters ...chunkindex.Filter) (err error) {
	ctx, done := o.observe(ctx, "delete", AttrFilterCount.Int(len(filters)))
	defer func() { done(err) }()
	return o.inner.DeleteWhere(ctx, filters...)
}

func (o *ObservedCollection) Distinct(ctx context.Context, key string) (out []string, err error) {
	ctx, done := o.observe(ctx, "distinct")
	defer func() { done(err) }()
	return o.inner.Distinct(ctx, key)
}

func (o *ObservedCollection) Drop(ctx context.Context) (err error) {
	ctx, done := o.observe(ctx, "drop")
	defer func() { done(err) }()
	return o.inner.Drop(ctx)
}

var _ chunkindex.Collection = (*ObservedCollection)(nil)
