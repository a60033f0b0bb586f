// Package exporter implements the delivery sender: it encodes sealed
// batches into the sink's JSON envelope, transmits them with a bounded
// immediate-retry policy, and quarantines batches that exhaust their
// attempts. One sender goroutine consumes sealed batches in seal order, so
// a slow sink never stalls the accumulator building the next batch.
package exporter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seliseblocks/lmt/failover"
	"github.com/seliseblocks/lmt/logging"
	"github.com/seliseblocks/lmt/record"
	"github.com/seliseblocks/lmt/sink"
)

var (
	sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_send_attempts_total",
		Help: "Total transmit calls to the sink",
	}, []string{"kind"})

	sendErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_send_errors_total",
		Help: "Total transmit errors by error type",
	}, []string{"kind", "error_type"})

	batchesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_batches_sent_total",
		Help: "Total batches delivered to the sink",
	}, []string{"kind"})

	recordsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_records_sent_total",
		Help: "Total records delivered to the sink",
	}, []string{"kind"})

	encodeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_encode_errors_total",
		Help: "Total batches discarded due to encoding failure",
	}, []string{"kind"})

	redeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_quarantine_redelivered_total",
		Help: "Total quarantined batches successfully redelivered",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(sendAttemptsTotal)
	prometheus.MustRegister(sendErrorsTotal)
	prometheus.MustRegister(batchesSentTotal)
	prometheus.MustRegister(recordsSentTotal)
	prometheus.MustRegister(encodeErrorsTotal)
	prometheus.MustRegister(redeliveredTotal)
}

// payload is the envelope every transmitted batch is wrapped in. Data is a
// record sequence for logs and a tenant-to-sequence mapping for traces.
type payload struct {
	Type        string      `json:"Type"`
	ServiceName string      `json:"ServiceName"`
	Data        interface{} `json:"Data"`
}

// Config holds the sender configuration.
type Config struct {
	// ServiceName is stamped on the payload envelope.
	ServiceName string
	// MaxRetries is the total number of transmit calls per delivery cycle.
	// "3 retries" means at most 3 total send calls for that cycle.
	MaxRetries int
	// BackoffEnabled inserts a bounded exponential pause between attempts
	// within one cycle. Off by default: the baseline policy is immediate
	// retry.
	BackoffEnabled bool
	// BackoffInitial is the first pause (default 100ms).
	BackoffInitial time.Duration
	// BackoffMax caps the pause growth (default 2s).
	BackoffMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "unknown-service"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
}

// Sender delivers sealed batches of one kind (logs or traces) to the sink
// and owns that kind's quarantine interaction. The sink client is owned
// exclusively by the Sender and must not be used elsewhere.
type Sender[B any] struct {
	cfg         Config
	kind        string
	correlation string
	sink        sink.Sink
	failed      *failover.Store[B]
	count       func(B) int
}

// NewLogSender creates the sender for log batches.
func NewLogSender(cfg Config, snk sink.Sink, failed *failover.Store[record.LogBatch]) *Sender[record.LogBatch] {
	cfg.applyDefaults()
	return &Sender[record.LogBatch]{
		cfg:         cfg,
		kind:        "logs",
		correlation: sink.CorrelationLogs,
		sink:        snk,
		failed:      failed,
		count:       func(b record.LogBatch) int { return len(b) },
	}
}

// NewSpanSender creates the sender for tenant-bucketed span batches.
func NewSpanSender(cfg Config, snk sink.Sink, failed *failover.Store[record.SpanBatch]) *Sender[record.SpanBatch] {
	cfg.applyDefaults()
	return &Sender[record.SpanBatch]{
		cfg:         cfg,
		kind:        "traces",
		correlation: sink.CorrelationTraces,
		sink:        snk,
		failed:      failed,
		count:       record.SpanBatch.Len,
	}
}

// Run consumes sealed batches until the channel is closed. Batches are
// delivered in the order they were sealed.
func (s *Sender[B]) Run(ctx context.Context, in <-chan B) {
	for batch := range in {
		s.Send(ctx, batch, 0)
	}
}

// Send runs one delivery cycle for a batch: encode once, then up to
// MaxRetries transmit calls. A success at any attempt discards the batch;
// exhaustion quarantines it with retryCount+1. Encoding failure discards
// the batch outright, since quarantining would repeat the same failure.
func (s *Sender[B]) Send(ctx context.Context, batch B, retryCount int) {
	n := s.count(batch)
	if n == 0 {
		return
	}

	data, err := json.Marshal(payload{
		Type:        s.kind,
		ServiceName: s.cfg.ServiceName,
		Data:        batch,
	})
	if err != nil {
		encodeErrorsTotal.WithLabelValues(s.kind).Inc()
		logging.Error("batch discarded: encoding failed", logging.F(
			"kind", s.kind,
			"records", n,
			"error", err.Error(),
		))
		return
	}

	var bo backoff.BackOff
	if s.cfg.BackoffEnabled {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = s.cfg.BackoffInitial
		ebo.MaxInterval = s.cfg.BackoffMax
		ebo.MaxElapsedTime = 0
		bo = ebo
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		sendAttemptsTotal.WithLabelValues(s.kind).Inc()
		err := s.sink.Transmit(ctx, data, s.correlation)
		if err == nil {
			batchesSentTotal.WithLabelValues(s.kind).Inc()
			recordsSentTotal.WithLabelValues(s.kind).Add(float64(n))
			if retryCount > 0 {
				redeliveredTotal.WithLabelValues(s.kind).Inc()
			}
			return
		}
		lastErr = err
		sendErrorsTotal.WithLabelValues(s.kind, string(classify(err))).Inc()

		if ctx.Err() != nil {
			break
		}
		if bo != nil && attempt < s.cfg.MaxRetries {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
			}
		}
	}

	kept := s.failed.Push(batch, retryCount+1)
	logging.Warn("batch quarantined after failed delivery cycle", logging.F(
		"kind", s.kind,
		"records", n,
		"retry_count", retryCount+1,
		"kept", kept,
		"error", lastErr.Error(),
	))
}

// RetryFailed re-runs one delivery cycle for every quarantined batch.
// Batches that fail again go back with an incremented retry count; the
// store discards them once the count exceeds its ceiling.
func (s *Sender[B]) RetryFailed(ctx context.Context) {
	entries := s.failed.TakeAll()
	for _, e := range entries {
		if ctx.Err() != nil {
			// Re-quarantine untouched entries rather than dropping them.
			s.failed.Push(e.Batch, e.RetryCount)
			continue
		}
		s.Send(ctx, e.Batch, e.RetryCount)
	}
}

// FailedLen returns the number of quarantined batches for this kind.
func (s *Sender[B]) FailedLen() int {
	return s.failed.Len()
}
