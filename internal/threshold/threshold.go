package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/stampede/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Endpoint string  // empty for the whole run
	Metric   string  // e.g. "p95", "success_rate", "rps"
	Operator string  // e.g. "<", "<=", ">", ">=", "=="
	Value    float64 // latency metrics in milliseconds, rates in percent
	Raw      string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Raw       string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator evaluates thresholds against a summary.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the summary.
func (e *Evaluator) Evaluate(summary metrics.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, summary))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, summary metrics.Summary) Result {
	actual, err := extractMetricValue(t, summary)
	if err != nil {
		return Result{
			Threshold: t,
			Raw:       t.Raw,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^(?:([A-Za-z0-9_.\-/ ]+):)?([a-z0-9_]+)\s*(<=|>=|==|<|>)\s*([0-9.]+)\s*([a-zµ%]*)$`)

// Parse parses a threshold string into a Threshold.
// Supported forms:
//   - "p95 < 200ms"           (latency: p50, p95, p99, mean, min, max; bare numbers are ms)
//   - "success_rate >= 99.9"  (percent)
//   - "error_rate < 1%"       (percent)
//   - "rps > 100"             (requests per second)
//   - "failures == 0", "total > 1000"
//   - "process:p95 < 150ms"   (scoped to one endpoint)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected: [endpoint:]metric operator value, e.g. 'p95 < 200ms')", s)
	}

	endpoint := strings.TrimSpace(matches[1])
	metric := canonicalMetric(matches[2])
	operator := matches[3]
	valueStr := matches[4]
	unit := matches[5]

	kind, ok := metricKinds[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: p50, p95, p99, mean, min, max, success_rate, error_rate, rps, total, failures)", matches[2])
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	switch kind {
	case kindLatency:
		if unit != "" {
			d, err := time.ParseDuration(valueStr + unit)
			if err != nil {
				return Threshold{}, fmt.Errorf("invalid latency %q: %v", valueStr+unit, err)
			}
			value = float64(d) / float64(time.Millisecond)
		}
	case kindPercent:
		if unit != "" && unit != "%" {
			return Threshold{}, fmt.Errorf("unsupported unit %q for %s", unit, metric)
		}
	default:
		if unit != "" {
			return Threshold{}, fmt.Errorf("unsupported unit %q for %s", unit, metric)
		}
	}

	return Threshold{
		Endpoint: endpoint,
		Metric:   metric,
		Operator: operator,
		Value:    value,
		Raw:      s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

type metricKind int

const (
	kindLatency metricKind = iota
	kindPercent
	kindRate
	kindCount
)

var metricKinds = map[string]metricKind{
	"p50":          kindLatency,
	"p95":          kindLatency,
	"p99":          kindLatency,
	"mean":         kindLatency,
	"min":          kindLatency,
	"max":          kindLatency,
	"success_rate": kindPercent,
	"error_rate":   kindPercent,
	"rps":          kindRate,
	"total":        kindCount,
	"failures":     kindCount,
}

func canonicalMetric(m string) string {
	switch m {
	case "avg":
		return "mean"
	case "median":
		return "p50"
	case "throughput":
		return "rps"
	case "requests":
		return "total"
	default:
		return m
	}
}

func extractMetricValue(t Threshold, summary metrics.Summary) (float64, error) {
	s := summary
	if t.Endpoint != "" {
		ep, ok := summary.Endpoints[t.Endpoint]
		if !ok {
			return 0, fmt.Errorf("no requests recorded for endpoint %q", t.Endpoint)
		}
		s = ep
	}

	switch t.Metric {
	case "p50":
		return s.P50LatencyMs, nil
	case "p95":
		return s.P95LatencyMs, nil
	case "p99":
		return s.P99LatencyMs, nil
	case "mean":
		return s.MeanLatencyMs, nil
	case "min":
		return s.MinLatencyMs, nil
	case "max":
		return s.MaxLatencyMs, nil
	case "success_rate":
		return s.SuccessRate, nil
	case "error_rate":
		if s.Total == 0 {
			return 0, nil
		}
		return float64(s.Failures) / float64(s.Total) * 100, nil
	case "rps":
		return s.Throughput, nil
	case "total":
		return float64(s.Total), nil
	case "failures":
		return float64(s.Failures), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
