// Package slogbridge adapts the pipeline to log/slog so host applications
// ship their logs through the batching pipeline with their usual logger.
package slogbridge

import (
	"context"
	"log/slog"

	"github.com/seliseblocks/lmt/pipeline"
	"github.com/seliseblocks/lmt/record"
)

// Handler is a slog.Handler that enqueues every record into the pipeline.
// Handle never blocks on the sink; admission follows the pipeline's
// best-effort policy.
type Handler struct {
	p     *pipeline.Pipeline
	level slog.Leveler
	attrs []slog.Attr
}

// NewHandler creates a handler emitting records at or above level
// (nil means slog.LevelInfo).
func NewHandler(p *pipeline.Pipeline, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{p: p, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	rec := record.Log{
		Timestamp: r.Time,
		Level:     levelText(r.Level),
		Message:   r.Message,
	}

	props := make(map[string]interface{}, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		props[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "error" || a.Key == "err" {
			if err, ok := a.Value.Any().(error); ok {
				rec.Exception = err.Error()
				return true
			}
		}
		props[a.Key] = a.Value.Any()
		return true
	})
	if len(props) > 0 {
		rec.Properties = props
	}

	return h.p.EnqueueLog(ctx, rec)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{p: h.p, level: h.level, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened; the pipeline's
// property bag is a single level deep.
func (h *Handler) WithGroup(string) slog.Handler {
	return h
}

func levelText(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
