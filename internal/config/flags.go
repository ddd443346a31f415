package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagKeys maps CLI flag names to their configuration keys.
var flagKeys = map[string]string{
	"target":           "target",
	"users":            "users",
	"requests":         "requests",
	"rps":              "target_rps",
	"duration":         "duration",
	"ramp-up":          "ramp_up",
	"timeout":          "timeout",
	"max-connections":  "max_connections",
	"max-batch":        "max_batch",
	"max-samples":      "max_samples",
	"threshold":        "thresholds",
	"metrics-listen":   "metrics_listen",
	"output":           "output.format",
	"output-dir":       "output.dir",
	"progress":         "output.progress",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"otel-endpoint":    "tracing.endpoint",
	"otel-protocol":    "tracing.protocol",
	"otel-insecure":    "tracing.insecure",
	"monitor-path":     "monitor.path",
	"monitor-interval": "monitor.interval",
	"monitor-history":  "monitor.history_file",
}

// RegisterFlags registers the configuration flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// RegisterPersistentFlags registers the config-file and logging flags shared by
// every subcommand.
func RegisterPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML or JSON)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
}

func configureFlags(flags *pflag.FlagSet) {
	// Target and traffic shape
	flags.String("target", "", "Base URL of the service under test")
	flags.IntP("users", "u", defaultUsers, "Concurrent users for stress, load, spike and endurance scenarios")
	flags.IntP("requests", "n", defaultRequests, "Requests per user for the load scenario")
	flags.IntP("rps", "r", defaultTargetRPS, "Target requests per second for the rps scenario")
	flags.DurationP("duration", "d", defaultDuration, "Scenario duration (e.g. 30s, 5m)")
	flags.Duration("ramp-up", defaultRampUp, "Ramp-up time of the stress scenario")

	// Resource bounds
	flags.Duration("timeout", defaultTimeout, "Per-request timeout")
	flags.Int("max-connections", defaultMaxConnections, "Maximum open connections to the target")
	flags.Int("max-batch", defaultMaxBatch, "Maximum in-flight requests of a single batch")
	flags.Int("max-samples", defaultMaxSamples, "Latency samples retained for percentiles (0 = unbounded)")

	// Output
	flags.StringSlice("threshold", nil, "Pass/fail threshold (repeatable, e.g. 'p95 < 200ms')")
	flags.String("metrics-listen", "", "Serve live Prometheus metrics on this address (e.g. :9090)")
	flags.StringP("output", "o", string(OutputText), "Report format: text, json or yaml")
	flags.String("output-dir", "", "Directory to persist the JSON report in")
	flags.Duration("progress", time.Second, "Progress update interval (0 disables)")

	// Tracing
	flags.String("otel-endpoint", "", "OTLP endpoint for request spans")
	flags.String("otel-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")
}

// RegisterMonitorFlags registers the flags of the monitor subcommand.
func RegisterMonitorFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("target", "", "Base URL of the service to monitor")
	flags.String("monitor-path", defaultMonitorPath, "Path of the Prometheus metrics endpoint")
	flags.Duration("monitor-interval", defaultMonitorInterval, "Scrape interval")
	flags.String("monitor-history", "", "Write the collected history to this JSON file on exit")
}
