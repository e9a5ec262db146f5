package config

import (
	"fmt"
	"path/filepath"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
)

// ToStateConfig maps the subnet section onto the replicated state
// configuration. Each knob maps to exactly one component.
func ToStateConfig(cfg *ServerConfig) service.StateConfig {
	s := cfg.Subnet
	return service.StateConfig{
		Manager: service.ManagerConfig{
			MaxSnapshotsPerCanister: s.MaxSnapshotsPerCanister,
			BaselineInstructions:    s.SnapshotBaselineInstructions,
			MaxHistoryEntries:       s.MaxHistoryEntries,
		},
		Ledger: ledger.Config{
			MemoryCapacity:       s.MemoryCapacity,
			ReservationThreshold: s.ReservationThreshold,
			Costs: &ledger.DefaultCostSchedule{
				ExecutionBaseFee:         domain.Cycles(s.ExecutionBaseFee),
				CyclesPerInstruction:     domain.Cycles(s.CyclesPerInstruction),
				ReservationCyclesPerByte: domain.Cycles(s.ReservationCyclesPerByte),
			},
		},
		Limiter: ratelimit.Config{
			PerCanisterLimit: s.HeapDeltaRateLimit,
			SubnetCapacity:   s.SubnetHeapDeltaCapacity,
		},
	}
}

// ToCheckpointConfig builds the checkpoint manager configuration. A
// configured encryption key turns on sealing.
func ToCheckpointConfig(cfg *ServerConfig, nodeID string) (checkpoint.Config, error) {
	out := checkpoint.Config{
		Dir:    filepath.Join(cfg.Storage.DataDir, "checkpoints"),
		Keep:   cfg.Storage.CheckpointKeep,
		NodeID: nodeID,
	}
	if cfg.Security.EncryptionKey == "" {
		return out, nil
	}
	key, err := checkpoint.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("parse encryption key: %w", err)
	}
	sealer, err := checkpoint.NewSealer(key, cfg.Security.SealAlgorithm)
	if err != nil {
		return checkpoint.Config{}, err
	}
	out.Sealer = sealer
	return out, nil
}

// MirrorDir is where the Badger snapshot mirror lives.
func MirrorDir(cfg *ServerConfig) string {
	return filepath.Join(cfg.Storage.DataDir, "mirror")
}
