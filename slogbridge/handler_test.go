package slogbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seliseblocks/lmt/config"
	"github.com/seliseblocks/lmt/pipeline"
	"github.com/seliseblocks/lmt/record"
)

type captureSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureSink) Transmit(_ context.Context, payload []byte, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) logs(t *testing.T) []record.Log {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []record.Log
	for _, raw := range c.payloads {
		var env struct {
			Data []record.Log `json:"Data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		out = append(out, env.Data...)
	}
	return out
}

func newPipeline(t *testing.T, snk *captureSink) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(config.Config{
		ServiceName:     "host-app",
		FlushInterval:   config.Duration(20 * time.Millisecond),
		ShutdownTimeout: config.Duration(2 * time.Second),
	}, pipeline.WithSink(snk))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHandlerShipsRecords(t *testing.T) {
	snk := &captureSink{}
	p := newPipeline(t, snk)
	logger := slog.New(NewHandler(p, nil))

	logger.Info("order placed", "order_id", "o-1", "items", 3)
	logger.Error("payment failed", "err", errors.New("declined"))

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	logs := snk.logs(t)
	if len(logs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(logs))
	}
	if logs[0].Level != "INFO" || logs[0].Message != "order placed" {
		t.Errorf("first record wrong: %+v", logs[0])
	}
	if logs[0].Properties["order_id"] != "o-1" {
		t.Errorf("attrs not carried: %v", logs[0].Properties)
	}
	if logs[1].Level != "ERROR" || logs[1].Exception != "declined" {
		t.Errorf("error record wrong: %+v", logs[1])
	}
	if logs[0].ServiceName != "host-app" {
		t.Errorf("service not stamped: %q", logs[0].ServiceName)
	}
}

func TestHandlerLevelFiltering(t *testing.T) {
	snk := &captureSink{}
	p := newPipeline(t, snk)
	logger := slog.New(NewHandler(p, slog.LevelWarn))

	logger.Debug("noise")
	logger.Info("still noise")
	logger.Warn("kept")

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	logs := snk.logs(t)
	if len(logs) != 1 || logs[0].Message != "kept" {
		t.Fatalf("level filter broken: %+v", logs)
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	snk := &captureSink{}
	p := newPipeline(t, snk)
	logger := slog.New(NewHandler(p, nil)).With("component", "checkout")

	logger.Info("step done", "step", 2)

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	logs := snk.logs(t)
	if len(logs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(logs))
	}
	props := logs[0].Properties
	if props["component"] != "checkout" {
		t.Errorf("bound attrs lost: %v", props)
	}
	if props["step"] != float64(2) {
		t.Errorf("call attrs lost: %v", props)
	}
}

func TestHandlerGroupsFlattened(t *testing.T) {
	snk := &captureSink{}
	p := newPipeline(t, snk)
	logger := slog.New(NewHandler(p, nil)).WithGroup("req")

	logger.Info("handled", "path", "/orders")

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	logs := snk.logs(t)
	if len(logs) != 1 || logs[0].Properties["path"] != "/orders" {
		t.Fatalf("grouped attrs must flatten into the property bag: %+v", logs)
	}
}
