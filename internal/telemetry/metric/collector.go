package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/snapmesh-go/internal/core/service"
)

// StatsSource returns a consistent view of the replicated state.
type StatsSource func() service.Stats

// Collector samples replicated state on every scrape.
type Collector struct {
	source StatsSource

	round           *prometheus.Desc
	canisters       *prometheus.Desc
	snapshots       *prometheus.Desc
	snapshotMemory  *prometheus.Desc
	memoryCapacity  *prometheus.Desc
	memoryAvailable *prometheus.Desc
	heapDelta       *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "state", name), help, nil, nil)
	}
	return &Collector{
		source:          source,
		round:           desc("round", "Last executed round"),
		canisters:       desc("canisters", "Canisters in the state"),
		snapshots:       desc("snapshots", "Snapshots in the state"),
		snapshotMemory:  desc("snapshot_memory_bytes", "Memory held by snapshots"),
		memoryCapacity:  desc("memory_capacity_bytes", "Subnet execution memory capacity"),
		memoryAvailable: desc("memory_available_bytes", "Subnet execution memory still available"),
		heapDelta:       desc("heap_delta_estimate_bytes", "Heap delta produced in the current round"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.round
	ch <- c.canisters
	ch <- c.snapshots
	ch <- c.snapshotMemory
	ch <- c.memoryCapacity
	ch <- c.memoryAvailable
	ch <- c.heapDelta
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	ch <- prometheus.MustNewConstMetric(c.round, prometheus.CounterValue, float64(s.Round))
	gauge(c.canisters, float64(s.Canisters))
	gauge(c.snapshots, float64(s.Snapshots))
	gauge(c.snapshotMemory, float64(s.SnapshotMemory))
	gauge(c.memoryCapacity, float64(s.MemoryCapacity))
	gauge(c.memoryAvailable, float64(s.MemoryAvailable))
	gauge(c.heapDelta, float64(s.HeapDeltaEstimate))
}
