// Package queue provides the bounded multi-producer/single-consumer
// ingestion queue between request-path producers and the batch accumulator.
// Enqueue never blocks the caller beyond a mutex acquisition; overflow is
// resolved by the configured drop policy, never by unbounded growth.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// FullBehavior defines what happens when the queue is full.
type FullBehavior string

const (
	// DropNewest drops the incoming record when the queue is full.
	DropNewest FullBehavior = "drop_newest"
	// DropOldest evicts the oldest pending record to make room.
	DropOldest FullBehavior = "drop_oldest"
)

// Errors returned by queue operations.
var (
	ErrQueueClosed = errors.New("ingestion queue is closed")
	ErrQueueFull   = errors.New("ingestion queue is full")
)

var queueDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "lmt_ingestion_queue_dropped_total",
	Help: "Total records dropped by the ingestion queue",
}, []string{"queue", "reason"})

func init() {
	prometheus.MustRegister(queueDroppedTotal)
}

// Config holds the queue configuration.
type Config struct {
	// Name labels this queue's metrics ("logs" or "traces").
	Name string
	// MaxPending is the maximum number of buffered records.
	MaxPending int
	// FullBehavior defines behavior when the queue is full.
	FullBehavior FullBehavior
}

// Queue is a bounded channel-backed queue. Any number of goroutines may
// Enqueue; exactly one consumer drains Chan, preserving unique ownership
// transfer of each record.
type Queue[T any] struct {
	ch     chan T
	name   string
	full   FullBehavior
	closed bool
	mu     sync.RWMutex

	enqueued atomic.Int64
	dropped  atomic.Int64
}

// New creates a bounded queue. Zero config values get defaults.
func New[T any](cfg Config) *Queue[T] {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}
	if cfg.FullBehavior == "" {
		cfg.FullBehavior = DropNewest
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Queue[T]{
		ch:   make(chan T, cfg.MaxPending),
		name: cfg.Name,
		full: cfg.FullBehavior,
	}
}

// Enqueue adds a record. It never blocks: when the queue is full the record
// is dropped (DropNewest) or the oldest pending record is evicted to make
// room (DropOldest). Returns ErrQueueClosed after Close, ErrQueueFull when
// a DropNewest queue rejects the record.
func (q *Queue[T]) Enqueue(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- v:
		q.enqueued.Add(1)
		return nil
	default:
	}

	switch q.full {
	case DropOldest:
		// Evict one and retry. The consumer may race us for the eviction;
		// either way one slot opens up.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			queueDroppedTotal.WithLabelValues(q.name, "oldest").Inc()
		default:
		}
		select {
		case q.ch <- v:
			q.enqueued.Add(1)
			return nil
		default:
			q.dropped.Add(1)
			queueDroppedTotal.WithLabelValues(q.name, "newest").Inc()
			return ErrQueueFull
		}
	default: // DropNewest
		q.dropped.Add(1)
		queueDroppedTotal.WithLabelValues(q.name, "newest").Inc()
		return ErrQueueFull
	}
}

// Chan returns the consumer side. Only one goroutine may receive from it.
// The channel is closed by Close once no producer can be mid-send.
func (q *Queue[T]) Chan() <-chan T {
	return q.ch
}

// Close marks the queue closed and closes the consumer channel. Pending
// records remain readable until drained. Safe to call once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of pending records.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Enqueued returns the lifetime count of accepted records.
func (q *Queue[T]) Enqueued() int64 {
	return q.enqueued.Load()
}

// Dropped returns the lifetime count of dropped records.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
