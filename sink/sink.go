// Package sink defines the delivery boundary of the pipeline: a client able
// to transmit one encoded payload to a remote system, plus the concrete
// Kafka, MongoDB and HTTP implementations. Heterogeneous producers share one
// sink, so every payload carries a correlation id identifying its category.
package sink

import (
	"context"
	"fmt"
)

// Correlation ids attached to transmitted payloads.
const (
	CorrelationLogs   = "blocks-lmt-service-logs"
	CorrelationTraces = "blocks-lmt-service-traces"
)

// ContentType of every payload.
const ContentType = "application/json"

// TopicName derives the broker topic for a service.
func TopicName(serviceName string) string {
	return "lmt-" + serviceName
}

// Sink transmits encoded payloads to the remote system. The pipeline's
// delivery sender is the only caller; implementations need not be safe for
// concurrent Transmit calls from multiple goroutines.
type Sink interface {
	Transmit(ctx context.Context, payload []byte, correlationID string) error
	Close() error
}

// StatusError is returned by the HTTP sink for non-2xx responses, carrying
// enough detail for the sender's error classification.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.StatusCode, e.Body)
}
