package service

import (
	"fmt"

	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
	"github.com/yndnr/snapmesh-go/internal/storage/memory"
)

// StateConfig configures the replicated state. Every field must be the same
// on all replicas.
type StateConfig struct {
	Manager ManagerConfig
	Ledger  ledger.Config
	Limiter ratelimit.Config
}

// ReplicatedState is everything the replicas agree on: canisters,
// snapshots, the resource ledger, the heap-delta limiter, the round
// counter and the last batch time.
//
// It is not safe for concurrent use; the cluster state machine guards it.
type ReplicatedState struct {
	Canisters *memory.CanisterStore
	Snapshots *memory.SnapshotStore
	Ledger    *ledger.Ledger
	Limiter   *ratelimit.HeapDeltaLimiter
	Manager   *SnapshotManager

	// Round counts completed execution rounds.
	Round uint64

	// BatchTime is the time of the last applied batch, in nanoseconds.
	BatchTime uint64
}

// NewReplicatedState creates an empty replicated state.
func NewReplicatedState(cfg StateConfig) *ReplicatedState {
	s := &ReplicatedState{
		Canisters: memory.NewCanisterStore(),
		Snapshots: memory.NewSnapshotStore(),
		Ledger:    ledger.New(cfg.Ledger),
		Limiter:   ratelimit.New(cfg.Limiter),
	}
	s.Manager = NewSnapshotManager(cfg.Manager, s.Canisters, s.Snapshots, s.Ledger, s.Limiter)
	return s
}

// AdvanceTime moves the batch time forward. Batch time never goes back.
func (s *ReplicatedState) AdvanceTime(t uint64) {
	if t > s.BatchTime {
		s.BatchTime = t
	}
}

// EndRound closes the current round and returns the new round number.
func (s *ReplicatedState) EndRound() uint64 {
	s.Manager.EndRound()
	s.Round++
	return s.Round
}

// StateImage is the serializable form of a ReplicatedState.
type StateImage struct {
	Round           uint64                    `json:"round"`
	BatchTime       uint64                    `json:"batch_time"`
	AvailableMemory uint64                    `json:"available_memory"`
	Canisters       memory.CanisterStoreState `json:"canisters"`
	Snapshots       memory.SnapshotStoreState `json:"snapshots"`
	Limiter         ratelimit.State           `json:"limiter"`
}

// Export captures the state. Pending snapshot operations are not included;
// callers drain them before exporting.
func (s *ReplicatedState) Export() *StateImage {
	return &StateImage{
		Round:           s.Round,
		BatchTime:       s.BatchTime,
		AvailableMemory: s.Ledger.Available(),
		Canisters:       s.Canisters.Export(),
		Snapshots:       s.Snapshots.Export(),
		Limiter:         s.Limiter.Export(),
	}
}

// Import replaces the state with the image and verifies the result.
func (s *ReplicatedState) Import(img *StateImage) error {
	s.Round = img.Round
	s.BatchTime = img.BatchTime
	s.Ledger.Restore(img.AvailableMemory)
	s.Canisters.Import(img.Canisters)
	s.Snapshots.Import(img.Snapshots)
	s.Limiter.Import(img.Limiter)

	if err := s.Manager.CheckConsistency(); err != nil {
		return fmt.Errorf("imported state is inconsistent: %w", err)
	}
	return nil
}

// Stats is a point-in-time summary for metrics and status pages.
type Stats struct {
	Round             uint64 `json:"round"`
	BatchTime         uint64 `json:"batch_time"`
	Canisters         int    `json:"canisters"`
	Snapshots         int    `json:"snapshots"`
	SnapshotMemory    uint64 `json:"snapshot_memory_bytes"`
	MemoryCapacity    uint64 `json:"memory_capacity_bytes"`
	MemoryAvailable   uint64 `json:"memory_available_bytes"`
	HeapDeltaEstimate uint64 `json:"heap_delta_estimate_bytes"`
}

// Stats returns the current summary.
func (s *ReplicatedState) Stats() Stats {
	return Stats{
		Round:             s.Round,
		BatchTime:         s.BatchTime,
		Canisters:         s.Canisters.Len(),
		Snapshots:         s.Snapshots.Len(),
		SnapshotMemory:    s.Snapshots.TotalMemoryUsage(),
		MemoryCapacity:    s.Ledger.Capacity(),
		MemoryAvailable:   s.Ledger.Available(),
		HeapDeltaEstimate: s.Limiter.Estimate(),
	}
}
