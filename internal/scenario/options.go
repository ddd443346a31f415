package scenario

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/metrics"
)

const defaultCyclePeriod = time.Second

var (
	// ErrNoPhases is returned when the scenario has nothing to run.
	ErrNoPhases = errors.New("scenario: no phases")
	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("scenario: engine already ran")
)

// Phase is one traffic shape held for Duration. Exactly one of Concurrency
// and Rate is set. When Batches is set the phase instead runs that many
// batches back to back without pacing, bounded by Duration only if it is
// non-zero.
type Phase struct {
	Name        string
	Concurrency int
	Rate        int
	Duration    time.Duration
	Batches     int
}

// BatchSize is the number of requests launched per cycle.
func (p Phase) BatchSize() int {
	if p.Rate > 0 {
		return p.Rate
	}
	return p.Concurrency
}

// Kind names the pacing mode, for logs.
func (p Phase) Kind() string {
	if p.Rate > 0 {
		return "rate"
	}
	return "concurrency"
}

// PhasesFromConfig converts expanded configuration phases.
func PhasesFromConfig(phases []config.PhaseConfig) []Phase {
	out := make([]Phase, len(phases))
	for i, p := range phases {
		out[i] = Phase{Name: p.Name, Concurrency: p.Concurrency, Rate: p.Rate, Duration: p.Duration, Batches: p.Batches}
	}
	return out
}

// Options configure the Engine.
type Options struct {
	Phases     []Phase
	Dispatcher Dispatcher         // request executor (required)
	Collector  *metrics.Collector // outcome sink (required)
	// MaxBatch caps requests in flight. Larger batches are split into
	// sequential waves unless NoSplit is set. 0 means no cap.
	MaxBatch int
	// NoSplit rejects phases whose batch exceeds MaxBatch instead of
	// splitting them.
	NoSplit     bool
	CyclePeriod time.Duration // pacing cycle, 1s unless overridden for tests
	Observer    Observer
	Logger      *zap.Logger
}

func (o *Options) normalize() {
	if o.CyclePeriod <= 0 {
		o.CyclePeriod = defaultCyclePeriod
	}
	if o.MaxBatch < 0 {
		o.MaxBatch = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

func (o Options) validate() error {
	if o.Dispatcher == nil {
		return errors.New("scenario: dispatcher is required")
	}
	if o.Collector == nil {
		return errors.New("scenario: collector is required")
	}
	if len(o.Phases) == 0 {
		return ErrNoPhases
	}
	for i, p := range o.Phases {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		switch {
		case p.Batches < 0:
			return fmt.Errorf("scenario: phase %s: batches must be >= 0", label)
		case p.Duration < 0 || (p.Duration == 0 && p.Batches == 0):
			return fmt.Errorf("scenario: phase %s: duration must be > 0", label)
		case p.Concurrency < 0 || p.Rate < 0:
			return fmt.Errorf("scenario: phase %s: concurrency and rate must be >= 0", label)
		case p.Concurrency == 0 && p.Rate == 0:
			return fmt.Errorf("scenario: phase %s: concurrency or rate is required", label)
		case p.Concurrency > 0 && p.Rate > 0:
			return fmt.Errorf("scenario: phase %s: set concurrency or rate, not both", label)
		case o.NoSplit && o.MaxBatch > 0 && p.BatchSize() > o.MaxBatch:
			return fmt.Errorf("scenario: phase %s: batch of %d exceeds max_batch %d", label, p.BatchSize(), o.MaxBatch)
		}
	}
	return nil
}
