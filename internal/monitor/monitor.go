// Package monitor polls a service's Prometheus endpoint while it is under
// load and keeps a history of selected metric values.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

const scrapeTimeout = 5 * time.Second

// Sample is one scrape: the value of every watched metric at Timestamp.
// Metrics absent from the scrape read as 0.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Options configure a Monitor.
type Options struct {
	URL      string        // full metrics URL (required)
	Metrics  []string      // metric family names to extract (required)
	Interval time.Duration // scrape interval, 5s if zero
	Client   *http.Client
	Logger   *zap.Logger
	Output   io.Writer // one line per successful scrape, if set
}

// Monitor scrapes a Prometheus text endpoint.
type Monitor struct {
	opt Options

	mu      sync.Mutex
	history []Sample
}

// New validates opt and returns a Monitor.
func New(opt Options) (*Monitor, error) {
	if opt.URL == "" {
		return nil, errors.New("monitor: url is required")
	}
	if len(opt.Metrics) == 0 {
		return nil, errors.New("monitor: at least one metric is required")
	}
	if opt.Interval <= 0 {
		opt.Interval = 5 * time.Second
	}
	if opt.Client == nil {
		opt.Client = &http.Client{Timeout: scrapeTimeout}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Monitor{opt: opt}, nil
}

// Scrape fetches the endpoint once and appends the result to the history.
func (m *Monitor) Scrape(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opt.URL, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: build request: %w", err)
	}
	req.Header.Set("Accept", "text/plain;version=0.0.4")

	resp, err := m.opt.Client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: scrape %s: %w", m.opt.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Sample{}, fmt.Errorf("monitor: scrape %s: unexpected status %d", m.opt.URL, resp.StatusCode)
	}

	families, err := Parse(resp.Body)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Timestamp: time.Now(), Values: make(map[string]float64, len(m.opt.Metrics))}
	for _, name := range m.opt.Metrics {
		s.Values[name] = Value(families[name])
	}

	m.mu.Lock()
	m.history = append(m.history, s)
	m.mu.Unlock()
	return s, nil
}

// Run scrapes immediately and then every interval until ctx is done. Scrape
// failures are logged and do not stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	m.opt.Logger.Info("monitoring started",
		zap.String("url", m.opt.URL),
		zap.Duration("interval", m.opt.Interval),
		zap.Strings("metrics", m.opt.Metrics))

	ticker := time.NewTicker(m.opt.Interval)
	defer ticker.Stop()
	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			m.opt.Logger.Info("monitoring stopped", zap.Int("samples", len(m.History())))
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	s, err := m.Scrape(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.opt.Logger.Warn("scrape failed", zap.Error(err))
		}
		return
	}
	if m.opt.Output == nil {
		return
	}
	fmt.Fprintf(m.opt.Output, "[%s]", s.Timestamp.Format(time.TimeOnly))
	for _, name := range m.opt.Metrics {
		fmt.Fprintf(m.opt.Output, " %s=%g", name, s.Values[name])
	}
	fmt.Fprintln(m.opt.Output)
}

// History returns a copy of the collected samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Save writes the history as indented JSON to path.
func (m *Monitor) Save(path string) error {
	data, err := json.MarshalIndent(m.History(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("monitor: save history: %w", err)
	}
	return nil
}

// Parse decodes a Prometheus text exposition into metric families by name.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("monitor: parse metrics: %w", err)
	}
	return families, nil
}

// Value sums the family's counter, gauge or untyped values across all label
// sets. Histograms and summaries contribute their sample count. A nil family
// is 0.
func Value(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, metric := range mf.GetMetric() {
		switch {
		case metric.Counter != nil:
			total += metric.GetCounter().GetValue()
		case metric.Gauge != nil:
			total += metric.GetGauge().GetValue()
		case metric.Untyped != nil:
			total += metric.GetUntyped().GetValue()
		case metric.Histogram != nil:
			total += float64(metric.GetHistogram().GetSampleCount())
		case metric.Summary != nil:
			total += float64(metric.GetSummary().GetSampleCount())
		}
	}
	return total
}
