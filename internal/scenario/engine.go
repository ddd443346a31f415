package scenario

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/stampede/internal/metrics"
)

// Dispatcher executes a single request against an endpoint of its choosing.
type Dispatcher interface {
	DispatchNext(ctx context.Context) metrics.Outcome
}

// State is the engine lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Engine runs phases sequentially. An Engine runs at most once.
type Engine struct {
	opt        Options
	state      atomic.Int32
	dispatched atomic.Int64
}

func New(opt Options) *Engine {
	opt.normalize()
	return &Engine{opt: opt}
}

// State reports where the engine is in its lifecycle.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Dispatched is the number of requests launched so far.
func (e *Engine) Dispatched() int64 {
	return e.dispatched.Load()
}

// Run executes every phase and returns the final summary, or a partial one
// if ctx is cancelled first.
func (e *Engine) Run(ctx context.Context) (metrics.Summary, error) {
	if err := e.opt.validate(); err != nil {
		return metrics.Summary{}, err
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return metrics.Summary{}, ErrAlreadyRun
	}

	// In-flight requests must outlive cancellation of the run.
	inflight := context.WithoutCancel(ctx)

	e.opt.Collector.Start()
	final := StateCompleted
	for i, phase := range e.opt.Phases {
		if ctx.Err() != nil {
			final = StateCancelled
			break
		}
		e.opt.Observer.PhaseStarted(i, phase)
		report := e.runPhase(ctx, inflight, i, phase)
		e.opt.Observer.PhaseFinished(report)
		if report.Cancelled {
			final = StateCancelled
			break
		}
	}
	e.opt.Collector.Finish()
	e.state.Store(int32(final))

	if final == StateCancelled {
		e.opt.Logger.Warn("scenario cancelled, reporting partial results",
			zap.Int64("dispatched", e.dispatched.Load()))
	}
	return e.opt.Collector.Summarize(), nil
}

func (e *Engine) runPhase(ctx, inflight context.Context, index int, phase Phase) PhaseReport {
	start := time.Now()
	var deadline time.Time
	if phase.Duration > 0 {
		deadline = start.Add(phase.Duration)
	}
	report := PhaseReport{Phase: phase, Index: index}
	size := phase.BatchSize()

	for {
		if phase.Batches > 0 && report.Batches >= phase.Batches {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}

		cycleStart := time.Now()
		report.Dispatched += int64(e.runBatch(ctx, inflight, size))
		report.Batches++

		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if phase.Batches > 0 {
			continue
		}

		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		wait := e.opt.CyclePeriod - now.Sub(cycleStart)
		if wait <= 0 {
			continue
		}
		if untilEnd := deadline.Sub(now); untilEnd < wait {
			wait = untilEnd
		}
		if !sleep(ctx, wait) {
			report.Cancelled = true
			break
		}
	}

	report.Elapsed = time.Since(start)
	return report
}

// runBatch launches up to n dispatches with at most MaxBatch in flight and
// waits for all of them, so every outcome of a batch is recorded before the
// next. Once ctx ends no further dispatch is launched; those already started
// run to completion on inflight. It returns the number launched.
func (e *Engine) runBatch(ctx, inflight context.Context, n int) int {
	limit := n
	if e.opt.MaxBatch > 0 && e.opt.MaxBatch < limit {
		limit = e.opt.MaxBatch
	}

	var g errgroup.Group
	g.SetLimit(limit)
	launched := 0
	for ; launched < n; launched++ {
		if ctx.Err() != nil {
			break
		}
		e.dispatched.Add(1)
		g.Go(func() error {
			e.opt.Dispatcher.DispatchNext(inflight)
			return nil
		})
	}
	_ = g.Wait()
	return launched
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
