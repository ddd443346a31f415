package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/threshold"
)

// RunReport is everything reported about one run.
type RunReport struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	Scenario   string             `json:"scenario" yaml:"scenario"`
	Target     string             `json:"target" yaml:"target"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	Cancelled  bool               `json:"cancelled" yaml:"cancelled"`
	Rating     threshold.Rating   `json:"rating" yaml:"rating"`
	Summary    metrics.Summary    `json:"summary" yaml:"summary"`
	Thresholds []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r RunReport) {
	s := r.Summary
	title := "Load Test Results"
	if r.Scenario != "" {
		title = fmt.Sprintf("Load Test Results: %s", r.Scenario)
	}
	fmt.Fprintf(w, "\n--- %s ---\n", title)
	if r.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	}
	if r.Target != "" {
		fmt.Fprintf(w, "Target:            %s\n", r.Target)
	}
	if r.Cancelled {
		fmt.Fprintln(w, "Status:            cancelled (partial results)")
	}
	fmt.Fprintf(w, "Total Requests:    %d\n", s.Total)
	fmt.Fprintf(w, "Successful:        %d (%.2f%%)\n", s.Successes, s.SuccessRate)
	fmt.Fprintf(w, "Failed:            %d\n", s.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", s.Throughput)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", s.MinLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", s.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", s.P50Latency)
	fmt.Fprintf(w, "  P95:             %s\n", s.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99Latency)
	fmt.Fprintf(w, "  Max:             %s\n", s.MaxLatency)
	if s.Approximate {
		fmt.Fprintf(w, "  (percentiles from %d sampled latencies)\n", s.SampleCount)
	}

	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		writeErrors(w, s.Errors, s.Total, "  ")
	}

	if len(s.Distribution) > 0 {
		fmt.Fprintln(w, "\nLatency Distribution:")
		for _, b := range s.Distribution {
			if b.Count == 0 {
				continue
			}
			fmt.Fprintf(w, "  %-10s %d\n", b.Range, b.Count)
		}
	}

	if len(s.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoint Breakdown:")
		for _, name := range endpointsByTotal(s.Endpoints) {
			endpoint := s.Endpoints[name]
			share := 0.0
			if s.Total > 0 {
				share = (float64(endpoint.Total) / float64(s.Total)) * 100
			}

			fmt.Fprintf(
				w,
				"  - %s: total=%d (%.1f%%), successes=%d, failures=%d, rps=%.2f, p95=%s, p99=%s\n",
				name,
				endpoint.Total,
				share,
				endpoint.Successes,
				endpoint.Failures,
				endpoint.Throughput,
				endpoint.P95Latency,
				endpoint.P99Latency,
			)
			if len(endpoint.Errors) > 0 {
				writeErrors(w, endpoint.Errors, endpoint.Total, "      ")
			}
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}

	if r.Rating != "" {
		fmt.Fprintf(w, "\nPerformance Rating: %s\n", r.Rating)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r RunReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeErrors(w io.Writer, errs map[metrics.Class]int64, total int64, indent string) {
	classes := make([]metrics.Class, 0, len(errs))
	for class := range errs {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if errs[classes[i]] == errs[classes[j]] {
			return classes[i] < classes[j]
		}
		return errs[classes[i]] > errs[classes[j]]
	})
	for _, class := range classes {
		pct := 0.0
		if total > 0 {
			pct = float64(errs[class]) / float64(total) * 100
		}
		fmt.Fprintf(w, "%s%-20s %6d (%5.1f%%)\n", indent, strings.TrimSpace(string(class)), errs[class], pct)
	}
}

func endpointsByTotal(endpoints map[string]metrics.Summary) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if endpoints[names[i]].Total == endpoints[names[j]].Total {
			return names[i] < names[j]
		}
		return endpoints[names[i]].Total > endpoints[names[j]].Total
	})
	return names
}
