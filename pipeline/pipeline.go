// Package pipeline wires the ingestion queues, batch accumulators, delivery
// senders and quarantine stores into one controller with a single-shot
// lifecycle: Stopped, Running, Draining, Stopped. The controller owns the
// public ingress API; producers enqueue records and never see delivery
// errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seliseblocks/lmt/activity"
	"github.com/seliseblocks/lmt/buffer"
	"github.com/seliseblocks/lmt/config"
	"github.com/seliseblocks/lmt/exporter"
	"github.com/seliseblocks/lmt/failover"
	"github.com/seliseblocks/lmt/logging"
	"github.com/seliseblocks/lmt/queue"
	"github.com/seliseblocks/lmt/record"
	"github.com/seliseblocks/lmt/sink"
)

// State is the controller lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Errors surfaced by the controller.
var (
	ErrAlreadyStarted = errors.New("pipeline already started; controllers are single-shot")
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrEmptyMessage   = errors.New("log record has an empty message")
	ErrEmptySpanName  = errors.New("span record has an empty operation name")
)

// TraceContext supplies ambient trace/span ids used to backfill records
// whose producers did not set them explicitly.
type TraceContext interface {
	CurrentTraceID(ctx context.Context) string
	CurrentSpanID(ctx context.Context) string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSink supplies the sink client directly, overriding cfg.Sink.
func WithSink(s sink.Sink) Option {
	return func(p *Pipeline) { p.snk = s }
}

// WithTraceContext replaces the trace-context provider.
func WithTraceContext(tc TraceContext) Option {
	return func(p *Pipeline) { p.traceCtx = tc }
}

// Pipeline is the controller. Construct with New, then Start exactly once.
type Pipeline struct {
	cfg      config.Config
	snk      sink.Sink
	ownSink  bool
	traceCtx TraceContext

	logQueue  *queue.Queue[record.Log]
	spanQueue *queue.Queue[record.Span]
	logBuf    *buffer.Logs
	spanBuf   *buffer.Spans

	logSender  *exporter.Sender[record.LogBatch]
	spanSender *exporter.Sender[record.SpanBatch]

	state     atomic.Int32
	started   atomic.Bool
	group     *errgroup.Group
	stopAccum context.CancelFunc
	stopSend  context.CancelFunc
	stopOnce  sync.Once
}

// New creates a pipeline controller. No background work starts until Start.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		traceCtx: activity.ContextProvider{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.snk == nil && cfg.Sink.Kind == "" {
		return nil, fmt.Errorf("no sink: set cfg.Sink.Kind or use WithSink")
	}

	p.logQueue = queue.New[record.Log](queue.Config{
		Name:         "logs",
		MaxPending:   cfg.MaxPendingRecords,
		FullBehavior: queue.FullBehavior(cfg.FullBehavior),
	})
	p.spanQueue = queue.New[record.Span](queue.Config{
		Name:         "traces",
		MaxPending:   cfg.MaxPendingRecords,
		FullBehavior: queue.FullBehavior(cfg.FullBehavior),
	})

	bufCfg := buffer.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval.Std(),
	}
	p.logBuf = buffer.NewLogs(bufCfg)
	p.spanBuf = buffer.NewSpans(bufCfg)
	return p, nil
}

// Start builds the sink (unless one was supplied), spawns the accumulator
// loops, the delivery senders and the quarantine retry timer, and moves the
// controller to Running. A sink construction failure is returned here and
// the controller stays Stopped; the host decides whether to proceed without
// telemetry.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if p.snk == nil {
		snk, err := buildSink(ctx, p.cfg)
		if err != nil {
			p.state.Store(int32(StateStopped))
			return fmt.Errorf("create sink: %w", err)
		}
		p.snk = snk
		p.ownSink = true
	}

	sendCfg := exporter.Config{
		ServiceName:    p.cfg.ServiceName,
		MaxRetries:     p.cfg.MaxRetries,
		BackoffEnabled: p.cfg.Backoff.On(),
		BackoffInitial: p.cfg.Backoff.Initial.Std(),
		BackoffMax:     p.cfg.Backoff.MaxInterval.Std(),
	}
	p.logSender = exporter.NewLogSender(sendCfg, p.snk,
		failover.NewStore[record.LogBatch]("logs", p.cfg.MaxFailedBatches, p.cfg.MaxRetryCycles))
	p.spanSender = exporter.NewSpanSender(sendCfg, p.snk,
		failover.NewStore[record.SpanBatch]("traces", p.cfg.MaxFailedBatches, p.cfg.MaxRetryCycles))

	// Background tasks get lifecycles owned by the controller, not by the
	// caller's ctx: accumulators stop first on drain, senders keep going
	// until the shutdown deadline.
	accumCtx, stopAccum := context.WithCancel(context.Background())
	sendCtx, stopSend := context.WithCancel(context.Background())
	p.stopAccum = stopAccum
	p.stopSend = stopSend

	g := &errgroup.Group{}
	p.group = g
	g.Go(func() error {
		p.logBuf.Start(accumCtx, p.logQueue.Chan())
		return nil
	})
	g.Go(func() error {
		p.spanBuf.Start(accumCtx, p.spanQueue.Chan())
		return nil
	})
	g.Go(func() error {
		p.logSender.Run(sendCtx, p.logBuf.Out())
		return nil
	})
	g.Go(func() error {
		p.spanSender.Run(sendCtx, p.spanBuf.Out())
		return nil
	})
	g.Go(func() error {
		p.retryLoop(accumCtx, sendCtx)
		return nil
	})

	p.state.Store(int32(StateRunning))
	logging.Info("telemetry pipeline started", logging.F(
		"service", p.cfg.ServiceName,
		"batch_size", p.cfg.BatchSize,
		"flush_interval", p.cfg.FlushInterval.Std().String(),
		"sink", p.cfg.Sink.Kind,
	))
	return nil
}

// retryLoop periodically re-submits quarantined batches. It runs on its own
// timer, independent of the flush interval.
func (p *Pipeline) retryLoop(ctx, sendCtx context.Context) {
	ticker := time.NewTicker(p.cfg.RetryInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logSender.RetryFailed(sendCtx)
			p.spanSender.RetryFailed(sendCtx)
		}
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// EnqueueLog validates and admits one log record. It never blocks beyond a
// mutex acquisition and never surfaces delivery errors; a full queue drops
// per the configured overflow policy. Missing fields are backfilled: the
// timestamp, the service name, the tenant (config tenant key, then the
// default tenant) and the trace/span ids from the ambient context.
func (p *Pipeline) EnqueueLog(ctx context.Context, rec record.Log) error {
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	if rec.Message == "" {
		return ErrEmptyMessage
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Level == "" {
		rec.Level = "INFO"
	}
	rec.ServiceName = p.cfg.ServiceName
	if rec.TenantID == "" {
		rec.TenantID = p.defaultTenant()
	}
	if rec.TraceID == "" {
		rec.TraceID = p.traceCtx.CurrentTraceID(ctx)
	}
	if rec.SpanID == "" {
		rec.SpanID = p.traceCtx.CurrentSpanID(ctx)
	}

	err := p.logQueue.Enqueue(rec)
	if errors.Is(err, queue.ErrQueueClosed) {
		return ErrNotRunning
	}
	// ErrQueueFull is not surfaced: admission drops are best-effort by
	// design and already counted by the queue.
	return nil
}

// EnqueueSpan validates and admits one span record, with the same
// non-blocking, non-surfacing semantics as EnqueueLog.
func (p *Pipeline) EnqueueSpan(ctx context.Context, sp record.Span) error {
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	if sp.Name == "" {
		return ErrEmptySpanName
	}
	if sp.EndTime.IsZero() {
		sp.EndTime = time.Now().UTC()
	}
	if sp.StartTime.IsZero() {
		sp.StartTime = sp.EndTime
	}
	if sp.Timestamp.IsZero() {
		sp.Timestamp = sp.EndTime
	}
	if sp.DurationMS == 0 {
		sp.DurationMS = float64(sp.EndTime.Sub(sp.StartTime)) / float64(time.Millisecond)
	}
	sp.ServiceName = p.cfg.ServiceName
	if sp.TenantID == "" {
		sp.TenantID = p.defaultTenant()
	}
	if sp.TraceID == "" {
		sp.TraceID = p.traceCtx.CurrentTraceID(ctx)
	}
	if sp.SpanID == "" {
		sp.SpanID = p.traceCtx.CurrentSpanID(ctx)
	}

	err := p.spanQueue.Enqueue(sp)
	if errors.Is(err, queue.ErrQueueClosed) {
		return ErrNotRunning
	}
	return nil
}

// Stop drains and stops the pipeline: no new records are admitted, pending
// queue contents are force-flushed exactly once, everything still in
// quarantine gets one final best-effort delivery cycle, and background
// tasks are joined. The whole drain is bounded by the shutdown timeout.
// Stop is idempotent; the second call observes the same outcome as the
// first. There is no transition back to Running.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.started.Load() {
		return nil
	}
	p.stopOnce.Do(func() {
		if p.group == nil {
			// Start failed before spawning tasks.
			p.state.Store(int32(StateStopped))
			return
		}
		p.state.Store(int32(StateDraining))
		deadline := time.Now().Add(p.cfg.ShutdownTimeout.Std())

		// Closing the queues rejects new records and lets the accumulators
		// finish their final drain and flush once the channels empty out.
		p.logQueue.Close()
		p.spanQueue.Close()
		p.stopAccum()

		joined := make(chan struct{})
		go func() {
			_ = p.group.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(time.Until(deadline)):
			// Unreachable sink: abandon in-flight sends so process exit
			// is not blocked.
			p.stopSend()
			<-joined
		case <-ctx.Done():
			p.stopSend()
			<-joined
		}

		// Final best-effort pass over the quarantine, bounded by whatever
		// time remains.
		if remaining := time.Until(deadline); remaining > 0 && ctx.Err() == nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), remaining)
			p.logSender.RetryFailed(drainCtx)
			p.spanSender.RetryFailed(drainCtx)
			cancel()
		}
		p.stopSend()

		if p.ownSink {
			if err := p.snk.Close(); err != nil {
				logging.Warn("sink close failed", logging.F("error", err.Error()))
			}
		}
		p.state.Store(int32(StateStopped))
		logging.Info("telemetry pipeline stopped", logging.F(
			"quarantined_logs", p.logSender.FailedLen(),
			"quarantined_traces", p.spanSender.FailedLen(),
		))
	})
	return nil
}

func (p *Pipeline) defaultTenant() string {
	if p.cfg.TenantKey != "" {
		return p.cfg.TenantKey
	}
	return record.DefaultTenant
}

// buildSink constructs the configured sink kind.
func buildSink(ctx context.Context, cfg config.Config) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case "kafka":
		topic := cfg.Sink.Kafka.Topic
		if topic == "" {
			topic = sink.TopicName(cfg.ServiceName)
		}
		return sink.NewKafka(sink.KafkaConfig{
			Brokers: cfg.Sink.Kafka.Brokers,
			Topic:   topic,
			Timeout: cfg.Sink.Kafka.Timeout.Std(),
		})
	case "mongo":
		return sink.NewMongo(ctx, sink.MongoConfig{
			URI:        cfg.Sink.Mongo.URI,
			Database:   cfg.Sink.Mongo.Database,
			Collection: cfg.Sink.Mongo.Collection,
			Timeout:    cfg.Sink.Mongo.Timeout.Std(),
		})
	case "http":
		return sink.NewHTTP(sink.HTTPConfig{
			Endpoint:    cfg.Sink.HTTP.Endpoint,
			Timeout:     cfg.Sink.HTTP.Timeout.Std(),
			Compression: cfg.Sink.HTTP.Compression,
			Headers:     cfg.Sink.HTTP.Headers,
		})
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}
