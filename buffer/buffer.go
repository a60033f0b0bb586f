// Package buffer implements the batch accumulator: a single background loop
// per record kind that drains the ingestion queue and seals batches on
// whichever trigger fires first, record count or flush interval. Sealed
// batches are handed to the delivery sender over a small buffered channel,
// so accumulation and delivery proceed concurrently.
package buffer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seliseblocks/lmt/record"
)

// Flush trigger labels.
const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerShutdown = "shutdown"
)

var flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "lmt_flushes_total",
	Help: "Total batch flushes by trigger",
}, []string{"kind", "trigger"})

func init() {
	prometheus.MustRegister(flushesTotal)
}

// outDepth bounds how many sealed batches may await delivery. When the
// sender falls behind, the accumulator blocks here and backpressure moves
// to the bounded ingestion queue.
const outDepth = 16

// Config holds the accumulator configuration.
type Config struct {
	// BatchSize is the record count that seals a batch immediately.
	BatchSize int
	// FlushInterval seals a non-empty batch after this long regardless of
	// its size. Empty intervals are skipped, no empty batch is ever sealed.
	FlushInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
}

// Logs accumulates log records into ordered batches.
type Logs struct {
	cfg  Config
	out  chan record.LogBatch
	done chan struct{}
}

// NewLogs creates a log accumulator.
func NewLogs(cfg Config) *Logs {
	cfg.applyDefaults()
	return &Logs{
		cfg:  cfg,
		out:  make(chan record.LogBatch, outDepth),
		done: make(chan struct{}),
	}
}

// Out returns the sealed-batch channel consumed by the delivery sender.
// It is closed after the final shutdown flush.
func (b *Logs) Out() <-chan record.LogBatch {
	return b.out
}

// Start runs the accumulator loop until the ingestion channel is closed or
// ctx is cancelled. Both paths drain whatever is still pending and seal it
// exactly once before closing the output.
func (b *Logs) Start(ctx context.Context, in <-chan record.Log) {
	defer close(b.done)
	defer close(b.out)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make(record.LogBatch, 0, b.cfg.BatchSize)

	flush := func(trigger string) {
		if len(batch) == 0 {
			return
		}
		flushesTotal.WithLabelValues("logs", trigger).Inc()
		b.out <- batch
		batch = make(record.LogBatch, 0, b.cfg.BatchSize)
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				flush(triggerShutdown)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= b.cfg.BatchSize {
				flush(triggerSize)
				ticker.Reset(b.cfg.FlushInterval)
			}
		case <-ticker.C:
			flush(triggerInterval)
		case <-ctx.Done():
			batch = drainLogs(in, batch)
			flush(triggerShutdown)
			return
		}
	}
}

// Wait blocks until the accumulator loop has exited.
func (b *Logs) Wait() {
	<-b.done
}

// drainLogs empties whatever the ingestion queue still holds without
// blocking, so no record enqueued before shutdown is silently dropped.
func drainLogs(in <-chan record.Log, batch record.LogBatch) record.LogBatch {
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return batch
			}
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

// Spans accumulates span records, partitioned by tenant. One flush seals a
// single tenant-to-spans mapping covering every tenant that recorded at
// least one span since the previous flush.
type Spans struct {
	cfg  Config
	out  chan record.SpanBatch
	done chan struct{}
}

// NewSpans creates a span accumulator.
func NewSpans(cfg Config) *Spans {
	cfg.applyDefaults()
	return &Spans{
		cfg:  cfg,
		out:  make(chan record.SpanBatch, outDepth),
		done: make(chan struct{}),
	}
}

// Out returns the sealed-batch channel consumed by the delivery sender.
func (b *Spans) Out() <-chan record.SpanBatch {
	return b.out
}

// Start runs the accumulator loop; see Logs.Start for the trigger rules.
func (b *Spans) Start(ctx context.Context, in <-chan record.Span) {
	defer close(b.done)
	defer close(b.out)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make(record.SpanBatch)
	count := 0

	flush := func(trigger string) {
		if count == 0 {
			return
		}
		flushesTotal.WithLabelValues("traces", trigger).Inc()
		b.out <- batch
		batch = make(record.SpanBatch)
		count = 0
	}

	add := func(sp record.Span) {
		tenant := sp.Tenant()
		batch[tenant] = append(batch[tenant], sp)
		count++
	}

	for {
		select {
		case sp, ok := <-in:
			if !ok {
				flush(triggerShutdown)
				return
			}
			add(sp)
			if count >= b.cfg.BatchSize {
				flush(triggerSize)
				ticker.Reset(b.cfg.FlushInterval)
			}
		case <-ticker.C:
			flush(triggerInterval)
		case <-ctx.Done():
		drain:
			for {
				select {
				case sp, ok := <-in:
					if !ok {
						break drain
					}
					add(sp)
				default:
					break drain
				}
			}
			flush(triggerShutdown)
			return
		}
	}
}

// Wait blocks until the accumulator loop has exited.
func (b *Spans) Wait() {
	<-b.done
}
