package observer

import (
	"context"
	"time"

	"github.com/nevindra/chunkindex"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedEmbedding wraps a chunkindex.EmbeddingProvider with OTEL instrumentation.
type ObservedEmbedding struct {
	inner chunkindex.EmbeddingProvider
	inst  *Instruments
	model string
}

// WrapEmbedding returns an instrumented embedding provider.
func WrapEmbedding(inner chunkindex.EmbeddingProvider, model string, inst *Instruments) *ObservedEmbedding {
	return &ObservedEmbedding{inner: inner, inst: inst, model: model}
}

func (o *ObservedEmbedding) Name() string    { return o.inner.Name() }
func (o *ObservedEmbedding) Dimensions() int { return o.inner.Dimensions() }

func (o *ObservedEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.embed", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrEmbedTextCount.Int(len(texts)),
		AttrEmbedDimensions.Int(o.inner.Dimensions()),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Embed(ctx, texts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrStatus.String(status),
	))
	o.inst.EmbedDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))

	o.inst.emit(ctx, otellog.SeverityInfo, "embedding completed",
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.Int("llm.embed.text_count", len(texts)),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	return result, err
}

var _ chunkindex.EmbeddingProvider = (*ObservedEmbedding)(nil)
