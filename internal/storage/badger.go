package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("snapshot mirror closed")
)

// Key prefixes.
const (
	snapPrefix    = "snap/"
	restorePrefix = "restore/"
)

// SnapshotGetter looks up a stored snapshot. memory.SnapshotStore
// implements it.
type SnapshotGetter interface {
	Get(id domain.SnapshotID) (*domain.Snapshot, bool)
}

// RestoreRecord is one audit row written for a Restore operation.
type RestoreRecord struct {
	Canister domain.CanisterID `json:"canister"`
	Snapshot string            `json:"snapshot"`
	Round    uint64            `json:"round"`
}

// BadgerFlusher mirrors the snapshot store into Badger by replaying the
// store's unflushed-changes log. The mirror is write-only from the state
// machine's point of view: nothing read from it feeds back into
// replicated state.
type BadgerFlusher struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger logger.Logger
	closed atomic.Bool

	// Metrics (internal counters)
	lastGCTime       atomic.Int64  // Unix milliseconds
	gcBytesReclaimed atomic.Uint64 // Total bytes reclaimed by GC
	flushedOps       atomic.Uint64
	restoreSeq       atomic.Uint64

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsFlushedOps   prometheus.CounterFunc
	metricsLastGCTime   prometheus.Gauge
	metricsGCReclaimed  prometheus.Counter

	// Shutdown
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerFlusher opens (or creates) the mirror at cfg.Dir.
func NewBadgerFlusher(cfg BadgerConfig, log logger.Logger) (*BadgerFlusher, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if log == nil {
		log = logger.Default()
	}
	cfg = cfg.withDefaults()

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: log.With("component", "badger")}
	opts.BlockCacheSize = cfg.CacheSize
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	f := &BadgerFlusher{
		db:     db,
		cfg:    cfg,
		logger: log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	// Start background GC loop
	go f.gcLoop()

	log.Info("snapshot mirror started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)

	return f, nil
}

// Flush applies ops in order. Backup writes the snapshot looked up in
// snaps; a snapshot already gone from snaps was deleted later in the same
// batch and is skipped. All writes of one call commit together.
func (f *BadgerFlusher) Flush(round uint64, ops []domain.SnapshotOp, snaps SnapshotGetter) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if len(ops) == 0 {
		return nil
	}

	wb := f.db.NewWriteBatch()
	defer wb.Cancel()

	for _, op := range ops {
		switch op.Kind {
		case domain.OpBackup:
			snap, ok := snaps.Get(op.Snapshot)
			if !ok {
				continue
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode snapshot %s: %w", op.Snapshot, err)
			}
			if err := wb.Set(snapKey(op.Snapshot), data); err != nil {
				return fmt.Errorf("write snapshot %s: %w", op.Snapshot, err)
			}
		case domain.OpDelete:
			if err := wb.Delete(snapKey(op.Snapshot)); err != nil {
				return fmt.Errorf("delete snapshot %s: %w", op.Snapshot, err)
			}
		case domain.OpRestore:
			rec := RestoreRecord{Canister: op.Canister, Snapshot: op.Snapshot.Hex(), Round: round}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode restore record: %w", err)
			}
			if err := wb.Set(restoreKey(op.Canister, round, f.restoreSeq.Add(1)), data); err != nil {
				return fmt.Errorf("write restore record: %w", err)
			}
		default:
			f.logger.Warn("skipping unknown snapshot op", "kind", op.Kind.String(), "snapshot", op.Snapshot.String())
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger: flush: %w", err)
	}
	f.flushedOps.Add(uint64(len(ops)))
	return nil
}

// GetSnapshot returns the mirrored copy of a snapshot.
func (f *BadgerFlusher) GetSnapshot(id domain.SnapshotID) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SnapshotKeys returns the hex IDs of every mirrored snapshot.
func (f *BadgerFlusher) SnapshotKeys() ([]string, error) {
	var ids []string
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapPrefix)
		opts.PrefetchValues = false // Only need keys
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), snapPrefix))
		}
		return nil
	})
	return ids, err
}

// Restores returns the canister's restore audit rows in round order.
func (f *BadgerFlusher) Restores(canister domain.CanisterID) ([]RestoreRecord, error) {
	var out []RestoreRecord
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(restorePrefix + canister.String() + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec RestoreRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// GC triggers value log garbage collection.
//
// Badger uses a value log that needs periodic GC to reclaim space.
// Returns bytes reclaimed (approximate).
func (f *BadgerFlusher) GC(ctx context.Context) (uint64, error) {
	if f.cfg.InMemory {
		return 0, nil
	}
	startTime := time.Now()

	// Run GC until no more can be reclaimed (threshold-based)
	var totalReclaimed uint64
	for ctx.Err() == nil {
		err := f.db.RunValueLogGC(f.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return totalReclaimed, fmt.Errorf("gc: %w", err)
		}

		// Badger doesn't report the exact count; one rewrite is about one
		// value log file worth of stale data at the threshold.
		totalReclaimed += 1 << 20
	}

	f.lastGCTime.Store(time.Now().UnixMilli())
	f.gcBytesReclaimed.Add(totalReclaimed)
	if f.metricsGCReclaimed != nil {
		f.metricsGCReclaimed.Add(float64(totalReclaimed))
		f.metricsLastGCTime.Set(float64(time.Now().Unix()))
	}

	f.logger.Debug("mirror gc completed",
		"bytes_reclaimed", totalReclaimed,
		"elapsed", time.Since(startTime))

	return totalReclaimed, nil
}

// MirrorStats contains mirror statistics.
type MirrorStats struct {
	LSMSize          uint64 `json:"lsm_size"`
	ValueLogSize     uint64 `json:"value_log_size"`
	FlushedOps       uint64 `json:"flushed_ops"`
	LastGCTime       int64  `json:"last_gc_time"`
	GCBytesReclaimed uint64 `json:"gc_bytes_reclaimed"`
}

// Stats returns storage statistics.
func (f *BadgerFlusher) Stats() MirrorStats {
	lsm, vlog := f.db.Size()
	return MirrorStats{
		LSMSize:          uint64(lsm),
		ValueLogSize:     uint64(vlog),
		FlushedOps:       f.flushedOps.Load(),
		LastGCTime:       f.lastGCTime.Load(),
		GCBytesReclaimed: f.gcBytesReclaimed.Load(),
	}
}

// Close stops the GC loop and closes the database. Close is idempotent.
func (f *BadgerFlusher) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.logger.Info("shutting down snapshot mirror")

	close(f.stopCh)
	<-f.doneCh

	if err := f.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// RegisterMetrics registers mirror metrics with Prometheus.
//
// This should be called once during initialization.
// Returns the flusher for method chaining.
func (f *BadgerFlusher) RegisterMetrics(registry prometheus.Registerer) *BadgerFlusher {
	f.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapmesh",
		Subsystem: "mirror",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})

	f.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapmesh",
		Subsystem: "mirror",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	f.metricsFlushedOps = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "snapmesh",
		Subsystem: "mirror",
		Name:      "flushed_ops_total",
		Help:      "Snapshot operations written to the mirror",
	}, func() float64 { return float64(f.flushedOps.Load()) })

	f.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapmesh",
		Subsystem: "mirror",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})

	f.metricsGCReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "snapmesh",
		Subsystem: "mirror",
		Name:      "gc_bytes_reclaimed_total",
		Help:      "Total bytes reclaimed by Badger garbage collection",
	})

	registry.MustRegister(
		f.metricsLSMSize,
		f.metricsValueLogSize,
		f.metricsFlushedOps,
		f.metricsLastGCTime,
		f.metricsGCReclaimed,
	)

	go f.metricsUpdateLoop()

	return f
}

// metricsUpdateLoop periodically updates the size gauges.
func (f *BadgerFlusher) metricsUpdateLoop() {
	ticker := time.NewTicker(f.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if f.closed.Load() {
				return
			}
			stats := f.Stats()
			f.metricsLSMSize.Set(float64(stats.LSMSize))
			f.metricsValueLogSize.Set(float64(stats.ValueLogSize))
		case <-f.stopCh:
			return
		}
	}
}

// gcLoop runs periodic garbage collection.
func (f *BadgerFlusher) gcLoop() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := f.GC(ctx); err != nil {
				f.logger.Error("auto gc failed", "error", err)
			}
			cancel()

		case <-f.stopCh:
			return
		}
	}
}

func snapKey(id domain.SnapshotID) []byte {
	return []byte(snapPrefix + id.Hex())
}

func restoreKey(canister domain.CanisterID, round, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%020d", restorePrefix, canister.String(), round, seq))
}

// badgerLogger adapts logger.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
