package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "stampede"

// Exporter publishes live request metrics in the Prometheus format. Register
// it on a Collector with WithObserver.
type Exporter struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	logger   *zap.Logger
}

// NewExporter creates an exporter backed by its own registry.
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests dispatched, by endpoint and outcome class.",
		}, []string{"endpoint", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency, by endpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"endpoint"}),
		logger: logger,
	}
	e.registry.MustRegister(e.requests, e.latency)
	return e
}

// Observe implements Observer.
func (e *Exporter) Observe(o Outcome) {
	outcome := "success"
	if !o.Success {
		outcome = string(o.Class)
	}
	e.requests.WithLabelValues(o.Endpoint, outcome).Inc()
	e.latency.WithLabelValues(o.Endpoint).Observe(o.Latency.Seconds())
}

// RegisterGauge exposes fn as a gauge, sampled at scrape time.
func (e *Exporter) RegisterGauge(name, help string, fn func() float64) error {
	return e.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx ends.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.serve(ctx, ln)
}

func (e *Exporter) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	e.logger.Info("serving live metrics", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
