package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/http2"
)

// HTTPConfig configures the HTTP sink.
type HTTPConfig struct {
	// Endpoint is the full URL payloads are POSTed to.
	Endpoint string
	// Timeout bounds one request including body read.
	Timeout time.Duration
	// Compression is "gzip" or "" for no compression.
	Compression string
	// Headers are extra request headers (auth tokens and the like).
	Headers map[string]string
}

// HTTP POSTs payloads to a collector endpoint, optionally gzip-compressed,
// over a keep-alive HTTP/2-capable client.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP creates the HTTP sink.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http sink: no endpoint configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Compression != "" && cfg.Compression != "gzip" {
		return nil, fmt.Errorf("http sink: unsupported compression %q", cfg.Compression)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("http sink: configure http2: %w", err)
	}

	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Transmit POSTs one payload. Non-2xx responses are returned as *StatusError
// with a truncated response body.
func (h *HTTP) Transmit(ctx context.Context, payload []byte, correlationID string) error {
	body := payload
	encoding := ""
	if h.cfg.Compression == "gzip" {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("http sink: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("http sink: compress: %w", err)
		}
		body = buf.Bytes()
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("X-Correlation-Id", correlationID)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http sink: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
