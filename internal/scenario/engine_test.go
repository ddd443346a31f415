package scenario_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/scenario"
)

// fakeDispatcher records a fixed-latency success after sleeping.
type fakeDispatcher struct {
	latency   time.Duration
	collector *metrics.Collector
	calls     atomic.Int64
	inflight  atomic.Int64
	peak      atomic.Int64
}

func (f *fakeDispatcher) DispatchNext(ctx context.Context) metrics.Outcome {
	f.calls.Add(1)
	cur := f.inflight.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)

	start := time.Now()
	select {
	case <-time.After(f.latency):
	case <-ctx.Done():
	}
	out := metrics.Succeeded("fake", time.Since(start), 200)
	if ctx.Err() != nil {
		out = metrics.Failed("fake", time.Since(start), metrics.ClassTimeout, 0)
	}
	f.collector.Record(out)
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []int
	finished []scenario.PhaseReport
}

func (r *recordingObserver) PhaseStarted(index int, _ scenario.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, index)
}

func (r *recordingObserver) PhaseFinished(rep scenario.PhaseReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, rep)
}

func newEngine(phases []scenario.Phase, d *fakeDispatcher, mutate ...func(*scenario.Options)) *scenario.Engine {
	opts := scenario.Options{
		Phases:      phases,
		Dispatcher:  d,
		Collector:   d.collector,
		MaxBatch:    1000,
		CyclePeriod: 100 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return scenario.New(opts)
}

func TestConcurrencyPhaseRepeatsBatches(t *testing.T) {
	d := &fakeDispatcher{latency: 5 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{{Name: "steady", Concurrency: 5, Duration: 200 * time.Millisecond}}, d,
		func(o *scenario.Options) { o.Observer = obs })

	start := time.Now()
	summary, err := e.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(obs.finished) != 1 || obs.finished[0].Batches < 2 {
		t.Fatalf("expected at least 2 batches, got %+v", obs.finished)
	}
	if summary.Total%5 != 0 || summary.Total < 10 {
		t.Errorf("Total = %d, want a multiple of 5 and >= 10", summary.Total)
	}
	if summary.Total != d.calls.Load() {
		t.Errorf("Total = %d, dispatcher saw %d", summary.Total, d.calls.Load())
	}
	if d.peak.Load() > 5 {
		t.Errorf("peak in flight %d, want <= 5", d.peak.Load())
	}
	if elapsed < 200*time.Millisecond || elapsed > time.Second {
		t.Errorf("phase took %s, want about 200ms", elapsed)
	}
	if e.State() != scenario.StateCompleted {
		t.Errorf("State() = %s, want completed", e.State())
	}
}

func TestTwoPhaseScenario(t *testing.T) {
	d := &fakeDispatcher{latency: 10 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	phases := []scenario.Phase{
		{Name: "warm", Concurrency: 5, Duration: 100 * time.Millisecond},
		{Name: "main", Concurrency: 6, Duration: 100 * time.Millisecond},
	}
	e := newEngine(phases, d, func(o *scenario.Options) { o.Observer = obs })

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total != 11 {
		t.Errorf("Total = %d, want 11 (one batch per phase)", summary.Total)
	}
	if summary.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100", summary.SuccessRate)
	}
	if summary.P50Latency < 10*time.Millisecond || summary.P50Latency > 40*time.Millisecond {
		t.Errorf("P50 = %s, want about 10ms", summary.P50Latency)
	}
	if len(obs.started) != 2 || obs.started[0] != 0 || obs.started[1] != 1 {
		t.Errorf("phases started %v, want [0 1]", obs.started)
	}
	if summary.Endpoints["fake"].Total != summary.Total {
		t.Errorf("endpoint breakdown does not match total")
	}
}

func TestRatePhaseLaunchesRatePerCycle(t *testing.T) {
	d := &fakeDispatcher{latency: time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{{Name: "rps", Rate: 40, Duration: 300 * time.Millisecond}}, d,
		func(o *scenario.Options) { o.Observer = obs })

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	batches := obs.finished[0].Batches
	if batches != 3 {
		t.Errorf("Batches = %d, want 3", batches)
	}
	if summary.Total != int64(batches*40) {
		t.Errorf("Total = %d, want %d", summary.Total, batches*40)
	}
}

func TestMaxBatchBoundsInFlight(t *testing.T) {
	d := &fakeDispatcher{latency: 5 * time.Millisecond, collector: metrics.NewCollector()}
	e := newEngine([]scenario.Phase{{Rate: 50, Duration: 50 * time.Millisecond}}, d,
		func(o *scenario.Options) { o.MaxBatch = 8 })

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d.peak.Load() > 8 {
		t.Errorf("peak in flight %d, want <= 8", d.peak.Load())
	}
	if summary.Total != 50 {
		t.Errorf("Total = %d, want the full batch of 50", summary.Total)
	}
}

func TestOverlongBatchHasNoBacklog(t *testing.T) {
	d := &fakeDispatcher{latency: 60 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{{Rate: 3, Duration: 100 * time.Millisecond}}, d, func(o *scenario.Options) {
		o.CyclePeriod = 20 * time.Millisecond
		o.Observer = obs
	})

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Each 60ms batch overruns the 20ms cycle; only consecutive batches fit.
	if got := obs.finished[0].Batches; got != 2 {
		t.Errorf("Batches = %d, want 2", got)
	}
}

func TestCancellationReturnsPartialSummary(t *testing.T) {
	d := &fakeDispatcher{latency: 30 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{
		{Name: "long", Concurrency: 4, Duration: 10 * time.Second},
		{Name: "never", Concurrency: 4, Duration: 10 * time.Second},
	}, d, func(o *scenario.Options) { o.Observer = obs })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	summary, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("cancellation not observed promptly")
	}
	if summary.Total == 0 {
		t.Fatal("expected partial results")
	}
	if summary.Failures != 0 {
		t.Errorf("in-flight requests were cut short: %d failures", summary.Failures)
	}
	if summary.Total != d.calls.Load() {
		t.Errorf("Total = %d, dispatched %d", summary.Total, d.calls.Load())
	}
	if e.State() != scenario.StateCancelled {
		t.Errorf("State() = %s, want cancelled", e.State())
	}
	if len(obs.started) != 1 || !obs.finished[0].Cancelled {
		t.Errorf("expected only the first phase, cancelled; got %+v", obs.finished)
	}
}

func TestCancellationStopsLaunchingWaves(t *testing.T) {
	d := &fakeDispatcher{latency: 100 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	// A batch of 100 split into waves of 10 takes a full second.
	e := newEngine([]scenario.Phase{{Rate: 100, Duration: 10 * time.Second}}, d, func(o *scenario.Options) {
		o.MaxBatch = 10
		o.Observer = obs
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	summary, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("Run() took %s after cancel at 150ms", elapsed)
	}
	if summary.Total == 0 || summary.Total > 30 {
		t.Errorf("Total = %d, want the waves started before cancel (about 20)", summary.Total)
	}
	if summary.Failures != 0 {
		t.Errorf("started waves were cut short: %d failures", summary.Failures)
	}
	if e.Dispatched() != summary.Total {
		t.Errorf("Dispatched() = %d, Total = %d", e.Dispatched(), summary.Total)
	}
	if rep := obs.finished[0]; !rep.Cancelled || rep.Dispatched != summary.Total {
		t.Errorf("phase report = %+v, want cancelled with %d dispatched", rep, summary.Total)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	d := &fakeDispatcher{collector: metrics.NewCollector()}
	e := newEngine([]scenario.Phase{{Concurrency: 1, Duration: time.Second}}, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 0 || d.calls.Load() != 0 {
		t.Errorf("expected no traffic, got %d", summary.Total)
	}
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	d := &fakeDispatcher{collector: metrics.NewCollector()}
	tests := []struct {
		name   string
		phases []scenario.Phase
		mutate func(*scenario.Options)
		target error
	}{
		{name: "no phases", phases: nil, target: scenario.ErrNoPhases},
		{name: "zero duration", phases: []scenario.Phase{{Concurrency: 1}}},
		{name: "zero concurrency and rate", phases: []scenario.Phase{{Duration: time.Second}}},
		{name: "both set", phases: []scenario.Phase{{Concurrency: 1, Rate: 1, Duration: time.Second}}},
		{name: "negative", phases: []scenario.Phase{{Concurrency: -1, Duration: time.Second}}},
		{name: "negative batches", phases: []scenario.Phase{{Concurrency: 1, Batches: -1, Duration: time.Second}}},
		{
			name:   "above max batch without splitting",
			phases: []scenario.Phase{{Concurrency: 20, Duration: time.Second}},
			mutate: func(o *scenario.Options) { o.MaxBatch = 10; o.NoSplit = true },
		},
		{
			name:   "missing dispatcher",
			phases: []scenario.Phase{{Concurrency: 1, Duration: time.Second}},
			mutate: func(o *scenario.Options) { o.Dispatcher = nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutate := func(*scenario.Options) {}
			if tt.mutate != nil {
				mutate = tt.mutate
			}
			e := newEngine(tt.phases, d, mutate)
			_, err := e.Run(context.Background())
			if err == nil {
				t.Fatal("Run() error = nil")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Run() error = %v, want %v", err, tt.target)
			}
			if d.calls.Load() != 0 {
				t.Error("traffic sent despite invalid options")
			}
		})
	}
}

func TestFixedBatchPhaseRunsBackToBack(t *testing.T) {
	d := &fakeDispatcher{latency: 5 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{{Name: "load", Concurrency: 10, Batches: 20}}, d,
		func(o *scenario.Options) { o.Observer = obs })

	start := time.Now()
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Paced at one batch per 100ms cycle this would take two seconds.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("20 batches took %s, want no pacing between them", elapsed)
	}
	if summary.Total != 200 {
		t.Errorf("Total = %d, want 10 users x 20 requests", summary.Total)
	}
	if rep := obs.finished[0]; rep.Batches != 20 || rep.Dispatched != 200 || rep.Cancelled {
		t.Errorf("phase report = %+v", rep)
	}
	if d.peak.Load() > 10 {
		t.Errorf("peak in flight %d, want <= 10", d.peak.Load())
	}
}

func TestFixedBatchPhaseHonoursDurationCap(t *testing.T) {
	d := &fakeDispatcher{latency: 20 * time.Millisecond, collector: metrics.NewCollector()}
	obs := &recordingObserver{}
	e := newEngine([]scenario.Phase{{Concurrency: 2, Batches: 1000, Duration: 100 * time.Millisecond}}, d,
		func(o *scenario.Options) { o.Observer = obs })

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := obs.finished[0].Batches; got < 2 || got > 10 {
		t.Errorf("Batches = %d, want the cap to stop the phase after about 5", got)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	d := &fakeDispatcher{collector: metrics.NewCollector()}
	e := newEngine([]scenario.Phase{{Concurrency: 1, Duration: 10 * time.Millisecond}}, d)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if _, err := e.Run(context.Background()); !errors.Is(err, scenario.ErrAlreadyRun) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

func TestPhasesFromConfig(t *testing.T) {
	got := scenario.PhasesFromConfig([]config.PhaseConfig{
		{Name: "a", Concurrency: 3, Duration: time.Second},
		{Name: "b", Rate: 10, Duration: 2 * time.Second},
		{Name: "c", Concurrency: 4, Batches: 7},
	})
	if len(got) != 3 || got[0].Kind() != "concurrency" || got[1].Kind() != "rate" || got[1].BatchSize() != 10 {
		t.Errorf("PhasesFromConfig() = %+v", got)
	}
	if got[2].Batches != 7 || got[2].Duration != 0 {
		t.Errorf("fixed-count phase = %+v", got[2])
	}
}
