package observer

import (
	"context"
	"time"

	"github.com/nevindra/chunkindex"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// RecordIngest adds the chunks one ingest call wrote to the
// index.ingest.parents and index.ingest.children counters. Partial writes
// are counted too.
func (inst *Instruments) RecordIngest(ctx context.Context, source string, parents, children int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(AttrStatus.String(status))
	inst.IngestParents.Add(ctx, int64(parents), attrs)
	inst.IngestChildren.Add(ctx, int64(children), attrs)

	inst.emit(ctx, otellog.SeverityInfo, "ingest completed",
		otellog.String("index.source", source),
		otellog.Int("index.ingest.parents", parents),
		otellog.Int("index.ingest.children", children),
		otellog.String("status", status),
	)
}

// RecordSearch records the duration of one search in index.search.duration.
func (inst *Instruments) RecordSearch(ctx context.Context, mode chunkindex.SearchMode, results int, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	inst.SearchDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		AttrSearchMode.String(string(mode)),
		AttrStatus.String(status),
	))
}

// RecordLookupMiss counts a child hit whose parent could not be found. Its
// signature matches chunkindex.WithLookupMissHook.
func (inst *Instruments) RecordLookupMiss(ctx context.Context, childID, parentID string) {
	inst.LookupMiss.Add(ctx, 1)
	inst.emit(ctx, otellog.SeverityWarn, "parent lookup miss",
		otellog.String("child_id", childID),
		otellog.String("parent_id", parentID),
	)
}
