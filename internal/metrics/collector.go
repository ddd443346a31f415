package metrics

import (
	"sync"
	"time"
)

// Observer is notified of every recorded outcome, after it has been counted.
type Observer interface {
	Observe(Outcome)
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxSamples bounds the latency samples kept for percentiles. Past the
// bound the collector keeps a uniform random sample and reports summaries
// as approximate. 0 keeps every sample.
func WithMaxSamples(n int) Option {
	return func(c *Collector) {
		if n >= 0 {
			c.maxSamples = n
		}
	}
}

// WithObserver registers an observer of recorded outcomes.
func WithObserver(o Observer) Option {
	return func(c *Collector) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithClock replaces time.Now for the measurement window.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector records request outcomes in a thread-safe manner. Writes are
// spread over independently locked shards that are merged on read.
type Collector struct {
	stats      *shardedStats
	maxSamples int
	observers  []Observer
	now        func() time.Time

	mu       sync.Mutex
	start    time.Time
	end      time.Time
	finished bool
}

// NewCollector creates a collector whose measurement window starts now.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.stats = newShardedStats(c.maxSamples)
	c.start = c.now()
	return c
}

// Start (re)opens the measurement window.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
	c.end = time.Time{}
	c.finished = false
}

// Finish closes the measurement window. Later calls are no-ops.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finished {
		c.end = c.now()
		c.finished = true
	}
}

// Elapsed is the measurement window so far, or its final length after Finish.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return c.end.Sub(c.start)
	}
	return c.now().Sub(c.start)
}

// Record adds one outcome. Safe for concurrent use.
func (c *Collector) Record(o Outcome) {
	c.stats.record(o)
	for _, obs := range c.observers {
		obs.Observe(o)
	}
}

// Summarize merges every shard into a Summary with nearest-rank percentiles
// over the retained samples, globally and per endpoint.
func (c *Collector) Summarize() Summary {
	return c.summary(true)
}

// Snapshot is a cheaper partial summary for progress reporting. Percentiles
// are read from the latency histogram instead of the samples.
func (c *Collector) Snapshot() Summary {
	return c.summary(false)
}

func (c *Collector) summary(exact bool) Summary {
	elapsed := c.Elapsed()
	m := c.stats.collect(exact)

	s := summarize(m.global, elapsed, exact)
	if len(m.endpoints) > 0 {
		s.Endpoints = make(map[string]Summary, len(m.endpoints))
		for name, b := range m.endpoints {
			s.Endpoints[name] = summarize(b, elapsed, exact)
		}
	}
	return s
}
