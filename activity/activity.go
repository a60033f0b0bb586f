// Package activity is a thin wrapper over the OpenTelemetry trace API: it
// starts spans, sets properties, events, status and baggage, and exposes
// the ambient trace/span ids the pipeline uses to backfill records whose
// producers did not supply them. Trace context travels in context.Context,
// not in any package-level state.
package activity

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TenantAttribute is the span attribute carrying tenant attribution.
const TenantAttribute = "TenantId"

var tracer = otel.Tracer("blocks.activity")

// Activity is one in-progress span.
type Activity struct {
	span trace.Span
}

// Start begins a span under whatever span the context already carries and
// returns the derived context plus the activity handle.
func Start(ctx context.Context, name string) (context.Context, *Activity) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, &Activity{span: span}
}

// SetProperty sets a single attribute on the span.
func (a *Activity) SetProperty(key string, value interface{}) {
	if a.span.IsRecording() {
		a.span.SetAttributes(toAttribute(key, value))
	}
}

// SetProperties sets multiple attributes on the span.
func (a *Activity) SetProperties(props map[string]interface{}) {
	if !a.span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(props))
	for k, v := range props {
		attrs = append(attrs, toAttribute(k, v))
	}
	a.span.SetAttributes(attrs...)
}

// SetTenant tags the span with its tenant id.
func (a *Activity) SetTenant(tenantID string) {
	a.SetProperty(TenantAttribute, tenantID)
}

// AddEvent records an event on the span.
func (a *Activity) AddEvent(name string, attrs map[string]interface{}) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, toAttribute(k, v))
	}
	a.span.AddEvent(name, trace.WithAttributes(kvs...))
}

// SetStatus sets the span status.
func (a *Activity) SetStatus(code codes.Code, description string) {
	a.span.SetStatus(code, description)
}

// RecordError marks the span failed and records the error.
func (a *Activity) RecordError(err error) {
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, err.Error())
}

// Stop ends the span.
func (a *Activity) Stop() {
	a.span.End()
}

// SetBaggage returns a context carrying the baggage member key=value,
// propagated to child activities and readable via GetBaggage.
func SetBaggage(ctx context.Context, key, value string) (context.Context, error) {
	member, err := baggage.NewMember(key, value)
	if err != nil {
		return ctx, err
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx, err
	}
	return baggage.ContextWithBaggage(ctx, bag), nil
}

// GetBaggage returns the baggage value for key, or "".
func GetBaggage(ctx context.Context, key string) string {
	return baggage.FromContext(ctx).Member(key).Value()
}

// AllBaggage returns every baggage member carried by the context.
func AllBaggage(ctx context.Context) map[string]string {
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return nil
	}
	out := make(map[string]string, len(members))
	for _, m := range members {
		out[m.Key()] = m.Value()
	}
	return out
}

// TraceID returns the ambient trace id, or "" when the context carries no
// sampled or recorded span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the ambient span id, or "".
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

// ContextProvider adapts this package to the pipeline's trace-context
// provider contract.
type ContextProvider struct{}

// CurrentTraceID implements the provider contract.
func (ContextProvider) CurrentTraceID(ctx context.Context) string { return TraceID(ctx) }

// CurrentSpanID implements the provider contract.
func (ContextProvider) CurrentSpanID(ctx context.Context) string { return SpanID(ctx) }

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
