package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/scenario"
)

// Snapshotter provides partial summaries while a run is in progress.
type Snapshotter interface {
	Snapshot() metrics.Summary
}

// ProgressReporter displays real-time progress updates. It also implements
// scenario.Observer so the line shows the current phase.
type ProgressReporter struct {
	source   Snapshotter
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	phase    atomic.Value // string
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source Snapshotter, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	p := &ProgressReporter{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
	p.phase.Store("")
	return p
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) PhaseStarted(index int, ph scenario.Phase) {
	name := ph.Name
	if name == "" {
		name = fmt.Sprintf("#%d", index+1)
	}
	p.phase.Store(fmt.Sprintf("%s (%s %d)", name, ph.Kind(), ph.BatchSize()))
}

func (p *ProgressReporter) PhaseFinished(scenario.PhaseReport) {}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, p.line(p.source.Snapshot()))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(s metrics.Summary) string {
	line := fmt.Sprintf("\rRequests: %d | Successes: %d | Failures: %d | RPS: %.1f | P95: %.1fms",
		s.Total, s.Successes, s.Failures, s.Throughput, s.P95LatencyMs)
	if phase, _ := p.phase.Load().(string); phase != "" {
		line += " | Phase: " + phase
	}
	if name, ok := topEndpoint(s); ok && s.Total > 0 {
		ep := s.Endpoints[name]
		share := (float64(ep.Total) / float64(s.Total)) * 100
		line += fmt.Sprintf(" | Top Endpoint: %s (%.0f%%, P99 %.1fms)", name, share, ep.P99LatencyMs)
	}
	return line
}

func topEndpoint(s metrics.Summary) (string, bool) {
	if len(s.Endpoints) == 0 {
		return "", false
	}
	return endpointsByTotal(s.Endpoints)[0], true
}
