package sink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestHTTPTransmit(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{
		Endpoint: srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer tok"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := h.Transmit(context.Background(), []byte(`{"Type":"logs"}`), CorrelationLogs); err != nil {
		t.Fatal(err)
	}
	if string(gotBody) != `{"Type":"logs"}` {
		t.Errorf("body wrong: %s", gotBody)
	}
	if gotHeaders.Get("Content-Type") != ContentType {
		t.Errorf("content type wrong: %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get("X-Correlation-Id") != CorrelationLogs {
		t.Errorf("correlation header wrong: %q", gotHeaders.Get("X-Correlation-Id"))
	}
	if gotHeaders.Get("Authorization") != "Bearer tok" {
		t.Errorf("extra header lost: %q", gotHeaders.Get("Authorization"))
	}
}

func TestHTTPTransmitGzip(t *testing.T) {
	var gotBody []byte
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("body not gzipped: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBody, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{Endpoint: srv.URL, Compression: "gzip"})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if err := h.Transmit(context.Background(), []byte(`{"Type":"traces"}`), CorrelationTraces); err != nil {
		t.Fatal(err)
	}
	if gotEncoding != "gzip" {
		t.Errorf("encoding header wrong: %q", gotEncoding)
	}
	if string(gotBody) != `{"Type":"traces"}` {
		t.Errorf("decompressed body wrong: %s", gotBody)
	}
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	err = h.Transmit(context.Background(), []byte(`{}`), CorrelationLogs)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status wrong: %d", statusErr.StatusCode)
	}
	if statusErr.Body == "" {
		t.Error("response body not captured")
	}
}

func TestHTTPConfigValidation(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{}); err == nil {
		t.Fatal("expected an error without an endpoint")
	}
	if _, err := NewHTTP(HTTPConfig{Endpoint: "http://x", Compression: "zstd"}); err == nil {
		t.Fatal("expected an error for unsupported compression")
	}
}
