package metrics

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Summary is the aggregate view of a run or of one endpoint within it.
type Summary struct {
	Total       int64           `json:"total" yaml:"total"`
	Successes   int64           `json:"successes" yaml:"successes"`
	Failures    int64           `json:"failures" yaml:"failures"`
	SuccessRate float64         `json:"success_rate" yaml:"success_rate"`
	Errors      map[Class]int64 `json:"errors,omitempty" yaml:"errors,omitempty"`

	MinLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P95Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`
	Elapsed     time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	ElapsedMs     float64 `json:"elapsed_ms" yaml:"elapsed_ms"`

	Throughput  float64 `json:"throughput_rps" yaml:"throughput_rps"`
	SampleCount int64   `json:"sample_count" yaml:"sample_count"`
	Approximate bool    `json:"approximate" yaml:"approximate"`

	Distribution []LatencyBucket   `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	Endpoints    map[string]Summary `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// LatencyBucket counts requests whose latency fell at or below UpperMs and
// above the previous bucket's bound. The last bucket has no upper bound and
// an UpperMs of 0.
type LatencyBucket struct {
	Range   string  `json:"range" yaml:"range"`
	UpperMs float64 `json:"le_ms,omitempty" yaml:"le_ms,omitempty"`
	Count   int64   `json:"count" yaml:"count"`
}

// distributionBoundsMs are the upper bounds of the reported latency buckets.
var distributionBoundsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Percentile returns the nearest-rank percentile of an ascending sample: the
// element at index floor(p*n), clamped to the last element. An empty sample
// yields 0.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(n)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// summarize derives a Summary from a merged bucket over elapsed.
// exact selects nearest-rank percentiles over the retained samples, sorting
// b.samples in place; otherwise percentiles come from the histogram.
func summarize(b *bucket, elapsed time.Duration, exact bool) Summary {
	total := b.successes + b.failures
	s := Summary{
		Total:       total,
		Successes:   b.successes,
		Failures:    b.failures,
		MinLatency:  b.min,
		MaxLatency:  b.max,
		Elapsed:     elapsed,
		Approximate: b.approximate(),
	}
	if total > 0 {
		s.SuccessRate = float64(b.successes) / float64(total) * 100
		s.MeanLatency = time.Duration(int64(b.sum) / total)
	}
	if elapsed > 0 {
		s.Throughput = float64(total) / elapsed.Seconds()
	}
	if len(b.errors) > 0 {
		s.Errors = make(map[Class]int64, len(b.errors))
		for k, v := range b.errors {
			s.Errors[k] = v
		}
	}

	if exact {
		samples := b.samples
		slices.Sort(samples)
		s.SampleCount = int64(len(samples))
		s.P50Latency = Percentile(samples, 0.50)
		s.P95Latency = Percentile(samples, 0.95)
		s.P99Latency = Percentile(samples, 0.99)
	} else if b.hist.TotalCount() > 0 {
		s.SampleCount = b.hist.TotalCount()
		s.P50Latency = time.Duration(b.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P95Latency = time.Duration(b.hist.ValueAtQuantile(95)) * time.Microsecond
		s.P99Latency = time.Duration(b.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	s.Distribution = distribution(b.hist)

	s.MinLatencyMs = ms(s.MinLatency)
	s.MeanLatencyMs = ms(s.MeanLatency)
	s.MaxLatencyMs = ms(s.MaxLatency)
	s.P50LatencyMs = ms(s.P50Latency)
	s.P95LatencyMs = ms(s.P95Latency)
	s.P99LatencyMs = ms(s.P99Latency)
	s.ElapsedMs = ms(elapsed)
	return s
}

func distribution(h *hdrhistogram.Histogram) []LatencyBucket {
	if h.TotalCount() == 0 {
		return nil
	}
	last := len(distributionBoundsMs)
	out := make([]LatencyBucket, last+1)
	for i, bound := range distributionBoundsMs {
		out[i].UpperMs = bound
		out[i].Range = "<=" + strconv.FormatFloat(bound, 'f', -1, 64) + "ms"
	}
	out[last].Range = ">" + strconv.FormatFloat(distributionBoundsMs[last-1], 'f', -1, 64) + "ms"

	for _, bar := range h.Distribution() {
		if bar.Count == 0 {
			continue
		}
		// Bars are in microseconds; bucket by the bar's lower edge.
		valueMs := float64(bar.From) / 1000
		idx, _ := slices.BinarySearch(distributionBoundsMs, valueMs)
		out[idx].Count += bar.Count
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
