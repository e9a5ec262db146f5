package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapmesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Management call metrics
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	RejectsByCode *prometheus.CounterVec

	// Snapshot operations that reached the state
	SnapshotOps *prometheus.CounterVec

	// Checkpoint metrics
	CheckpointsWritten  prometheus.Counter
	CheckpointSize      prometheus.Gauge
	CheckpointWriteTime prometheus.Histogram

	// Cluster metrics
	RaftApplied prometheus.Counter
	FlushErrors prometheus.Counter
}

// NewRegistry creates a registry with Go and process collectors plus all
// SnapMesh metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "management",
			Name:      "calls_total",
			Help:      "Management calls by method and outcome",
		}, []string{"method", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "management",
			Name:      "call_duration_seconds",
			Help:      "Management call latency including consensus",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"method"}),
		RejectsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "management",
			Name:      "rejects_total",
			Help:      "Rejected management calls by error code",
		}, []string{"code"}),
		SnapshotOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "operations_total",
			Help:      "Snapshot store operations drained to durable storage",
		}, []string{"kind"}),
		CheckpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "written_total",
			Help:      "Checkpoints written",
		}),
		CheckpointSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "last_size_bytes",
			Help:      "Size of the last checkpoint file",
		}),
		CheckpointWriteTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing a checkpoint",
			Buckets:   prometheus.DefBuckets,
		}),
		RaftApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raft",
			Name:      "applied_total",
			Help:      "Log entries applied to the state machine",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "flush_errors_total",
			Help:      "Failed writes of snapshot operations to durable storage",
		}),
	}

	reg.MustRegister(
		r.CallsTotal,
		r.CallDuration,
		r.RejectsByCode,
		r.SnapshotOps,
		r.CheckpointsWritten,
		r.CheckpointSize,
		r.CheckpointWriteTime,
		r.RaftApplied,
		r.FlushErrors,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Prometheus exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RecordCall counts a management call. code is empty on success.
func (r *Registry) RecordCall(method, code string, seconds float64) {
	outcome := "ok"
	if code != "" {
		outcome = "rejected"
		r.RejectsByCode.WithLabelValues(code).Inc()
	}
	r.CallsTotal.WithLabelValues(method, outcome).Inc()
	r.CallDuration.WithLabelValues(method).Observe(seconds)
}

// RecordSnapshotOp counts a drained snapshot operation.
func (r *Registry) RecordSnapshotOp(kind string) {
	r.SnapshotOps.WithLabelValues(kind).Inc()
}

// RecordCheckpoint records a written checkpoint.
func (r *Registry) RecordCheckpoint(size int64, seconds float64) {
	r.CheckpointsWritten.Inc()
	r.CheckpointSize.Set(float64(size))
	r.CheckpointWriteTime.Observe(seconds)
}

// ObserveApply records one log entry applied to the state machine.
func (r *Registry) ObserveApply(method, rejectCode string, elapsed time.Duration) {
	r.RaftApplied.Inc()
	r.RecordCall(method, rejectCode, elapsed.Seconds())
}

// ObserveSnapshotOp records one drained snapshot operation.
func (r *Registry) ObserveSnapshotOp(kind string) {
	r.RecordSnapshotOp(kind)
}

// ObserveFlushError counts a failed mirror flush.
func (r *Registry) ObserveFlushError() {
	r.FlushErrors.Inc()
}
