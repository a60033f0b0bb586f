// Package failover holds batches that exhausted their immediate send
// attempts until a periodic re-delivery cycle picks them up again. The store
// is strictly bounded: once capacity is exceeded the oldest entry is evicted,
// trading the oldest undeliverable data for bounded memory under a sustained
// sink outage.
package failover

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	quarantineSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lmt_quarantine_batches",
		Help: "Current number of quarantined batches",
	}, []string{"queue"})

	quarantineEvictedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_quarantine_evicted_total",
		Help: "Total quarantined batches evicted",
	}, []string{"queue", "reason"})
)

func init() {
	prometheus.MustRegister(quarantineSize)
	prometheus.MustRegister(quarantineEvictedTotal)
}

// Entry wraps a failed batch with its retry bookkeeping. RetryCount counts
// completed delivery cycles and strictly increases on each re-quarantine.
type Entry[T any] struct {
	ID            string
	Batch         T
	RetryCount    int
	QuarantinedAt time.Time
}

// Store is a bounded FIFO of failed batches. The delivery sender and the
// retry timer contend on it, so all access is mutex-guarded. Retry counters
// are single-writer: they change only between Pop/TakeAll and the following
// Push, while the entry is owned by exactly one goroutine.
type Store[T any] struct {
	mu         sync.Mutex
	entries    []*Entry[T]
	max        int
	maxRetries int
	name       string
}

// NewStore creates a quarantine store holding at most max entries.
// Batches whose RetryCount exceeds maxRetries on Push are discarded.
func NewStore[T any](name string, max, maxRetries int) *Store[T] {
	if max <= 0 {
		max = 100
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Store[T]{
		max:        max,
		maxRetries: maxRetries,
		name:       name,
	}
}

// Push quarantines a batch with the given retry count. Returns false when
// the batch was discarded because its retry count exceeded the ceiling.
// When the store is full the oldest entry is evicted first.
func (s *Store[T]) Push(batch T, retryCount int) bool {
	if retryCount > s.maxRetries {
		quarantineEvictedTotal.WithLabelValues(s.name, "retry_ceiling").Inc()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.entries) >= s.max {
		s.entries = s.entries[1:]
		quarantineEvictedTotal.WithLabelValues(s.name, "capacity").Inc()
	}
	s.entries = append(s.entries, &Entry[T]{
		ID:            uuid.NewString(),
		Batch:         batch,
		RetryCount:    retryCount,
		QuarantinedAt: time.Now(),
	})
	quarantineSize.WithLabelValues(s.name).Set(float64(len(s.entries)))
	return true
}

// TakeAll removes and returns every quarantined entry, oldest first. The
// caller owns the returned entries; anything that fails re-delivery must be
// pushed back with an incremented retry count.
func (s *Store[T]) TakeAll() []*Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.entries
	s.entries = nil
	quarantineSize.WithLabelValues(s.name).Set(0)
	return taken
}

// Len returns the number of quarantined batches.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Oldest returns the quarantine time of the oldest entry, or the zero time
// when the store is empty.
func (s *Store[T]) Oldest() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return time.Time{}
	}
	return s.entries[0].QuarantinedAt
}
