// Package metrics aggregates request outcomes into run summaries.
//
// A [Collector] accepts [Outcome] values from many goroutines at once. Each
// outcome lands in one of several independently locked shards, and reads
// merge the shards into a [Summary] holding counts, the failure breakdown
// by [Class], latency extremes and mean, nearest-rank p50/p95/p99,
// throughput and a latency distribution, globally and per endpoint.
//
// Latency samples are kept exactly up to the configured bound and as a
// uniform reservoir after it; summaries computed from a reservoir set
// Approximate. Counts, mean and throughput are always exact.
//
// [Exporter] mirrors recorded outcomes into Prometheus metrics for live
// scraping.
package metrics
