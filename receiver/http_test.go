package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

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

func (c *captureSink) logCount(t *testing.T) int {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, raw := range c.payloads {
		var env struct {
			Type string          `json:"Type"`
			Data json.RawMessage `json:"Data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != "logs" {
			continue
		}
		var recs []record.Log
		if err := json.Unmarshal(env.Data, &recs); err != nil {
			t.Fatal(err)
		}
		total += len(recs)
	}
	return total
}

func setup(t *testing.T) (*httptest.Server, *pipeline.Pipeline, *captureSink) {
	t.Helper()
	snk := &captureSink{}
	p, err := pipeline.New(config.Config{
		ServiceName:     "ingest-svc",
		FlushInterval:   config.Duration(20 * time.Millisecond),
		ShutdownTimeout: config.Duration(2 * time.Second),
	}, pipeline.WithSink(snk))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := NewHTTP("127.0.0.1:0", p)
	srv := httptest.NewServer(r.server.Handler)
	t.Cleanup(srv.Close)
	return srv, p, snk
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngestLogs(t *testing.T) {
	srv, p, snk := setup(t)

	resp := postJSON(t, srv.URL+"/v1/logs", []record.Log{
		{Message: "one"}, {Message: "two"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var ack struct{ Accepted, Rejected int }
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Accepted != 2 || ack.Rejected != 0 {
		t.Fatalf("ack wrong: %+v", ack)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := snk.logCount(t); got != 2 {
		t.Fatalf("expected 2 records delivered, got %d", got)
	}
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	srv, p, _ := setup(t)
	defer p.Stop(context.Background())

	resp := postJSON(t, srv.URL+"/v1/logs", []record.Log{
		{Message: "ok"}, {Message: ""},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var ack struct{ Accepted, Rejected int }
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Accepted != 1 || ack.Rejected != 1 {
		t.Fatalf("ack wrong: %+v", ack)
	}
}

func TestIngestGzipBody(t *testing.T) {
	srv, p, snk := setup(t)

	data, _ := json.Marshal([]record.Log{{Message: "zipped"}})
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/logs", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := snk.logCount(t); got != 1 {
		t.Fatalf("expected 1 record delivered, got %d", got)
	}
}

func TestIngestTraces(t *testing.T) {
	srv, p, snk := setup(t)

	resp := postJSON(t, srv.URL+"/v1/traces", []record.Span{
		{Name: "op", TenantID: "acme"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	snk.mu.Lock()
	n := len(snk.payloads)
	snk.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 payload, got %d", n)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	srv, p, _ := setup(t)
	defer p.Stop(context.Background())

	resp, err := http.Get(srv.URL + "/v1/logs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestIngestBadBody(t *testing.T) {
	srv, p, _ := setup(t)
	defer p.Stop(context.Background())

	resp, err := http.Post(srv.URL+"/v1/logs", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestIngestAfterStop(t *testing.T) {
	srv, p, _ := setup(t)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/v1/logs", []record.Log{{Message: "late"}})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, p, _ := setup(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct{ State string }
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.State != "running" {
		t.Fatalf("expected running health, got %d %q", resp.StatusCode, health.State)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after stop, got %d", resp.StatusCode)
	}
}
