// Command sample_target is a local service to point stampede at. It serves
// the default endpoint mix and exposes the cpp_service_* metrics the monitor
// watches.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/torosent/stampede/internal/payload"
)

type targetOptions struct {
	latency     time.Duration
	failureRate float64
}

type target struct {
	opt      targetOptions
	requests *prometheus.CounterVec
	active   prometheus.Gauge
	registry *prometheus.Registry
}

func main() {
	port := pflag.Int("port", 8080, "Listening port")
	latency := pflag.Duration("latency", 0, "Added latency per request")
	failureRate := pflag.Float64("failure-rate", 0, "Fraction of record requests answered with success=false")
	pflag.Parse()

	t := newTarget(targetOptions{latency: *latency, failureRate: *failureRate})
	addr := fmt.Sprintf(":%d", *port)
	log.Printf("sample target listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: t.handler(), ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(srv.ListenAndServe())
}

func newTarget(opt targetOptions) *target {
	t := &target{
		opt: opt,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cpp_service_requests_total",
			Help: "Requests handled, by endpoint.",
		}, []string{"endpoint"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpp_service_active_connections",
			Help: "Requests currently being handled.",
		}),
		registry: prometheus.NewRegistry(),
	}
	t.registry.MustRegister(t.requests, t.active)
	return t
}

func (t *target) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", t.track("process", t.handleRecord))
	mux.HandleFunc("POST /process-async", t.track("process-async", t.handleRecord))
	mux.HandleFunc("GET /health", t.track("health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	return mux
}

func (t *target) track(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.active.Inc()
		defer t.active.Dec()
		t.requests.WithLabelValues(endpoint).Inc()
		if t.opt.latency > 0 {
			time.Sleep(t.opt.latency)
		}
		next(w, r)
	}
}

func (t *target) handleRecord(w http.ResponseWriter, r *http.Request) {
	var rec payload.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if t.opt.failureRate > 0 && rand.Float64() < t.opt.failureRate {
		respondJSON(w, http.StatusOK, map[string]any{"success": false, "id": rec.ID})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": rec.ID})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
