// Package otelexport bridges the OpenTelemetry SDK into the batching
// pipeline: ended spans are converted into normalized span records and
// enqueued without blocking the SDK's export path.
package otelexport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/seliseblocks/lmt/activity"
	"github.com/seliseblocks/lmt/pipeline"
	"github.com/seliseblocks/lmt/record"
)

// SpanExporter implements sdktrace.SpanExporter on top of a pipeline
// controller. Register it with sdktrace.WithSyncer or WithBatcher; either
// way ExportSpans only enqueues, the pipeline does the real batching.
type SpanExporter struct {
	p *pipeline.Pipeline
}

// New creates the exporter.
func New(p *pipeline.Pipeline) *SpanExporter {
	return &SpanExporter{p: p}
}

// ExportSpans converts and enqueues the spans. It always reports success;
// admission drops are the pipeline's documented best-effort behavior and
// must not fail the SDK processor.
func (e *SpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		_ = e.p.EnqueueSpan(ctx, convert(s))
	}
	return nil
}

// Shutdown drains nothing itself; the pipeline's own Stop owns the drain.
func (e *SpanExporter) Shutdown(context.Context) error {
	return nil
}

func convert(s sdktrace.ReadOnlySpan) record.Span {
	sc := s.SpanContext()

	sp := record.Span{
		Timestamp:         s.EndTime(),
		TraceID:           sc.TraceID().String(),
		SpanID:            sc.SpanID().String(),
		Name:              s.Name(),
		Kind:              s.SpanKind().String(),
		StartTime:         s.StartTime(),
		EndTime:           s.EndTime(),
		Status:            s.Status().Code.String(),
		StatusDescription: s.Status().Description,
	}
	if parent := s.Parent(); parent.HasSpanID() {
		sp.ParentSpanID = parent.SpanID().String()
	}

	attrs := s.Attributes()
	if len(attrs) > 0 {
		sp.Attributes = make(map[string]interface{}, len(attrs))
		for _, kv := range attrs {
			sp.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			if kv.Key == attribute.Key(activity.TenantAttribute) {
				sp.TenantID = kv.Value.Emit()
			}
		}
	}
	return sp
}
