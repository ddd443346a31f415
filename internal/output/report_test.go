package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/threshold"
)

func sampleReport() RunReport {
	return RunReport{
		RunID:     "01J9ZQ3X5V6W7Y8Z9A0B1C2D3E",
		Scenario:  "stress",
		Target:    "http://localhost:8080",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Rating:    threshold.RatingGood,
		Summary: metrics.Summary{
			Total:        100,
			Successes:    95,
			Failures:     5,
			SuccessRate:  95,
			Errors:       map[metrics.Class]int64{metrics.ClassTimeout: 3, metrics.HTTPError(503): 2},
			P95Latency:   120 * time.Millisecond,
			P95LatencyMs: 120,
			Elapsed:      2 * time.Second,
			Throughput:   50,
			Distribution: []metrics.LatencyBucket{
				{Range: "<=100ms", UpperMs: 100, Count: 90},
				{Range: ">5000ms", Count: 10},
			},
			Endpoints: map[string]metrics.Summary{
				"process": {Total: 70, Successes: 68, Failures: 2, Errors: map[metrics.Class]int64{metrics.ClassTimeout: 2}},
				"health":  {Total: 30, Successes: 27, Failures: 3},
			},
		},
		Thresholds: []threshold.Result{
			{Raw: "p95 < 200ms", Actual: 120, Pass: true, Message: "✓ p95 < 200ms (actual: 120.00)"},
		},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	output := buf.String()
	for _, want := range []string{
		"Load Test Results: stress",
		"Total Requests:    100",
		"Successful:        95 (95.00%)",
		"Requests/sec:      50.00",
		"timeout",
		"http_error_503",
		"Latency Distribution:",
		"<=100ms",
		"Endpoint Breakdown:",
		"Thresholds:",
		"Performance Rating: GOOD",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestPrintReportOrdersEndpointsByTotal(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	output := buf.String()
	process := strings.Index(output, "- process:")
	health := strings.Index(output, "- health:")
	if process < 0 || health < 0 {
		t.Fatalf("expected both endpoints in output:\n%s", output)
	}
	if process > health {
		t.Errorf("expected busiest endpoint first")
	}
}

func TestPrintReportCancelled(t *testing.T) {
	r := sampleReport()
	r.Cancelled = true

	var buf bytes.Buffer
	PrintReport(&buf, r)
	if !strings.Contains(buf.String(), "cancelled") {
		t.Errorf("expected cancelled status in output")
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "01J9ZQ3X5V6W7Y8Z9A0B1C2D3E" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	summary, ok := decoded["summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary missing: %v", decoded)
	}
	if summary["total"] != float64(100) {
		t.Errorf("summary.total = %v, want 100", summary["total"])
	}
	if summary["p95_latency_ms"] != float64(120) {
		t.Errorf("summary.p95_latency_ms = %v, want 120", summary["p95_latency_ms"])
	}
	thresholds, ok := decoded["thresholds"].([]any)
	if !ok || len(thresholds) != 1 {
		t.Fatalf("thresholds = %v", decoded["thresholds"])
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}

	var decoded struct {
		Scenario string `yaml:"scenario"`
		Rating   string `yaml:"rating"`
		Summary  struct {
			Total  int64            `yaml:"total"`
			Errors map[string]int64 `yaml:"errors"`
		} `yaml:"summary"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded.Scenario != "stress" || decoded.Rating != "GOOD" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Summary.Total != 100 {
		t.Errorf("summary.total = %d, want 100", decoded.Summary.Total)
	}
	if decoded.Summary.Errors["timeout"] != 3 {
		t.Errorf("summary.errors = %v", decoded.Summary.Errors)
	}
}

func TestNewPrinter(t *testing.T) {
	tests := []struct {
		format  config.OutputFormat
		want    string
		wantErr bool
	}{
		{format: config.OutputText, want: "Total Requests"},
		{format: config.OutputJSON, want: `"run_id"`},
		{format: config.OutputYAML, want: "run_id:"},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			sink, err := NewPrinter(tt.format, &buf)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPrinter() error = %v", err)
			}
			if err := sink.Report(context.Background(), sampleReport()); err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, buf.String())
			}
		})
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	calls := 0
	sinks := MultiSink{
		SinkFunc(func(context.Context, RunReport) error { calls++; return errA }),
		nil,
		SinkFunc(func(context.Context, RunReport) error { calls++; return nil }),
	}

	err := sinks.Report(context.Background(), sampleReport())
	if !errors.Is(err, errA) {
		t.Errorf("error = %v, want %v", err, errA)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if len(a) != 26 {
		t.Errorf("len(run id) = %d, want 26", len(a))
	}
	if a == b {
		t.Errorf("expected distinct run ids, got %s twice", a)
	}
}
