// Package metric provides Prometheus metrics for SnapMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, request and snapshot metrics, HTTP handler
//   - collector.go: Collector that samples replicated state on scrape
//
// Metrics include:
//
//   - Management call counters and latency histograms
//   - Snapshot counts and memory gauges
//   - Subnet memory and heap-delta gauges
//   - Checkpoint and Raft apply statistics
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
