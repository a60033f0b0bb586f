// Package record defines the normalized telemetry records that flow through
// the batching pipeline: one log entry or one trace span, tenant-tagged.
// Records are built once on the producer side and never mutated afterwards.
package record

import "time"

// DefaultTenant is the tenant attributed to records that carry no tenant id
// and for which no tenant key is configured.
const DefaultTenant = "miscellaneous"

// Log is one normalized log entry.
// Field names match the wire document shape expected by the sink.
type Log struct {
	Timestamp   time.Time              `json:"Timestamp"`
	Level       string                 `json:"Level"`
	Message     string                 `json:"Message"`
	Exception   string                 `json:"Exception,omitempty"`
	ServiceName string                 `json:"ServiceName"`
	TenantID    string                 `json:"TenantId"`
	TraceID     string                 `json:"TraceId,omitempty"`
	SpanID      string                 `json:"SpanId,omitempty"`
	Properties  map[string]interface{} `json:"Properties,omitempty"`
}

// Span is one normalized trace span.
type Span struct {
	Timestamp         time.Time              `json:"Timestamp"`
	TraceID           string                 `json:"TraceId"`
	SpanID            string                 `json:"SpanId"`
	ParentSpanID      string                 `json:"ParentSpanId,omitempty"`
	Name              string                 `json:"Name"`
	Kind              string                 `json:"Kind,omitempty"`
	StartTime         time.Time              `json:"StartTime"`
	EndTime           time.Time              `json:"EndTime"`
	DurationMS        float64                `json:"Duration"`
	Attributes        map[string]interface{} `json:"Attributes,omitempty"`
	Status            string                 `json:"Status,omitempty"`
	StatusDescription string                 `json:"StatusDescription,omitempty"`
	Baggage           map[string]string      `json:"Baggage,omitempty"`
	ServiceName       string                 `json:"ServiceName"`
	TenantID          string                 `json:"TenantId"`
}

// Duration returns the span duration derived from its start and end times.
func (s Span) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Tenant returns the span's tenant id, falling back to DefaultTenant.
func (s Span) Tenant() string {
	if s.TenantID == "" {
		return DefaultTenant
	}
	return s.TenantID
}

// LogBatch is a sealed, ordered group of log records handed to the delivery
// sender as one unit.
type LogBatch []Log

// SpanBatch maps tenant id to the ordered spans recorded for that tenant
// since the last flush. Spans are bucketed per tenant before transmission
// because the sink groups trace data by tenant.
type SpanBatch map[string][]Span

// Len returns the total number of spans across all tenants.
func (b SpanBatch) Len() int {
	n := 0
	for _, spans := range b {
		n += len(spans)
	}
	return n
}
