package storage

import "time"

// BadgerConfig configures the snapshot mirror.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the mirror in memory only (tests, ephemeral nodes).
	InMemory bool

	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5 (rewrite a value log file when half of it is stale)
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// SyncWrites fsyncs after each flush.
	SyncWrites bool

	// MetricsInterval is how often size gauges are refreshed.
	// Default: 15s
	MetricsInterval time.Duration
}

// DefaultBadgerConfig returns the default mirror configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{Dir: dir}.withDefaults()
}

func (c BadgerConfig) withDefaults() BadgerConfig {
	if c.GCInterval <= 0 {
		c.GCInterval = 10 * time.Minute
	}
	if c.GCThreshold <= 0 || c.GCThreshold >= 1 {
		c.GCThreshold = 0.5
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 64 << 20
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 15 * time.Second
	}
	return c
}
