// Package receiver exposes the pipeline over HTTP so out-of-process
// producers can submit records. The receiver only validates and enqueues;
// batching and delivery stay in the pipeline.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seliseblocks/lmt/logging"
	"github.com/seliseblocks/lmt/pipeline"
	"github.com/seliseblocks/lmt/record"
)

var (
	receivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_receiver_records_total",
		Help: "Total records accepted over HTTP",
	}, []string{"kind"})

	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lmt_receiver_rejected_total",
		Help: "Total records rejected over HTTP",
	}, []string{"kind", "reason"})
)

func init() {
	prometheus.MustRegister(receivedTotal)
	prometheus.MustRegister(rejectedTotal)
}

// HTTPReceiver accepts JSON record arrays over HTTP and feeds the pipeline.
type HTTPReceiver struct {
	server *http.Server
	p      *pipeline.Pipeline
	addr   string
}

// NewHTTP creates the receiver. It serves:
//
//	POST /v1/logs    JSON array of log records
//	POST /v1/traces  JSON array of span records
//	GET  /healthz    pipeline lifecycle state
//	GET  /metrics    prometheus metrics
func NewHTTP(addr string, p *pipeline.Pipeline) *HTTPReceiver {
	r := &HTTPReceiver{p: p, addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", r.handleLogs)
	mux.HandleFunc("/v1/traces", r.handleTraces)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	r.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return r
}

func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	var recs []record.Log
	if !decodeBody(w, req, &recs) {
		return
	}
	accepted := 0
	for _, rec := range recs {
		err := r.p.EnqueueLog(req.Context(), rec)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, pipeline.ErrNotRunning):
			rejectedTotal.WithLabelValues("logs", "not_running").Inc()
			http.Error(w, "pipeline is not running", http.StatusServiceUnavailable)
			return
		default:
			rejectedTotal.WithLabelValues("logs", "invalid").Inc()
		}
	}
	receivedTotal.WithLabelValues("logs").Add(float64(accepted))
	writeAccepted(w, accepted, len(recs))
}

func (r *HTTPReceiver) handleTraces(w http.ResponseWriter, req *http.Request) {
	var recs []record.Span
	if !decodeBody(w, req, &recs) {
		return
	}
	accepted := 0
	for _, rec := range recs {
		err := r.p.EnqueueSpan(req.Context(), rec)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, pipeline.ErrNotRunning):
			rejectedTotal.WithLabelValues("traces", "not_running").Inc()
			http.Error(w, "pipeline is not running", http.StatusServiceUnavailable)
			return
		default:
			rejectedTotal.WithLabelValues("traces", "invalid").Inc()
		}
	}
	receivedTotal.WithLabelValues("traces").Add(float64(accepted))
	writeAccepted(w, accepted, len(recs))
}

func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := r.p.State()
	code := http.StatusOK
	if state != pipeline.StateRunning {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
}

func decodeBody(w http.ResponseWriter, req *http.Request, out interface{}) bool {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	defer req.Body.Close()

	var body io.Reader = req.Body
	if req.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			http.Error(w, "bad gzip body", http.StatusBadRequest)
			return false
		}
		defer zr.Close()
		body = zr
	}

	if err := json.NewDecoder(body).Decode(out); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeAccepted(w http.ResponseWriter, accepted, total int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"rejected": total - accepted,
	})
}

// Start blocks serving requests until Stop or a listener error.
func (r *HTTPReceiver) Start() error {
	logging.Info("http receiver listening", logging.F("addr", r.addr))
	return r.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
