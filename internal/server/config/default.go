package config

import (
	"time"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
)

// Default configuration values.
const (
	DefaultHTTPAddr         = "127.0.0.1:5080"
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPBurst        = 20

	DefaultDataDir                  = "/var/lib/snapmesh-server/data"
	DefaultCheckpointIntervalRounds = 100
	DefaultCheckpointKeep           = checkpoint.DefaultKeep

	DefaultRaftAddr     = "127.0.0.1:5343"
	DefaultRPCAddr      = "127.0.0.1:5345"
	DefaultGossipPort   = 5344
	DefaultApplyTimeout = 5 * time.Second

	// DefaultMemoryCapacity is the subnet execution memory (2 TiB).
	DefaultMemoryCapacity = 2 << 40

	// DefaultReservationThreshold is where storage reservation starts (450 GiB).
	DefaultReservationThreshold = 450 << 30

	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	DefaultLogBackend = "slog"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:         DefaultHTTPAddr,
				Burst:        DefaultHTTPBurst,
				ReadTimeout:  DefaultHTTPReadTimeout,
				WriteTimeout: DefaultHTTPWriteTimeout,
			},
		},
		Storage: StorageSection{
			DataDir:                  DefaultDataDir,
			CheckpointIntervalRounds: DefaultCheckpointIntervalRounds,
			CheckpointKeep:           DefaultCheckpointKeep,
		},
		Cluster: ClusterSection{
			RaftAddr:     DefaultRaftAddr,
			RPCAddr:      DefaultRPCAddr,
			GossipPort:   DefaultGossipPort,
			ApplyTimeout: DefaultApplyTimeout,
		},
		Subnet: SubnetSection{
			MaxSnapshotsPerCanister:      service.DefaultMaxSnapshotsPerCanister,
			HeapDeltaRateLimit:           ratelimit.DefaultPerCanisterLimit,
			MemoryCapacity:               DefaultMemoryCapacity,
			ReservationThreshold:         DefaultReservationThreshold,
			ReservationCyclesPerByte:     uint64(ledger.DefaultReservationCyclesPerByte),
			SnapshotBaselineInstructions: service.DefaultBaselineInstructions,
			ExecutionBaseFee:             uint64(ledger.DefaultExecutionBaseFee),
			CyclesPerInstruction:         uint64(ledger.DefaultCyclesPerInstruction),
			MaxHistoryEntries:            domain.DefaultMaxHistoryEntries,
		},
		Security: SecuritySection{
			SealAlgorithm: checkpoint.AlgChaCha20Poly1305,
		},
		Log: LogSection{
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			Backend: DefaultLogBackend,
		},
	}
}
