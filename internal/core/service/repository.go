package service

import "github.com/yndnr/snapmesh-go/internal/core/domain"

// CanisterRepository stores the canister aggregates.
//
// Get lends the stored aggregate to the caller for one operation; the
// caller mutates it in place only after every check has passed.
type CanisterRepository interface {
	// Get retrieves a canister by ID.
	Get(id domain.CanisterID) (*domain.Canister, bool)

	// Create stores a new canister.
	Create(c *domain.Canister) error

	// Delete removes a canister and returns it.
	Delete(id domain.CanisterID) (*domain.Canister, bool)

	// NextID allocates an unused canister ID.
	NextID() domain.CanisterID

	// List returns copies of all canisters ordered by ID.
	List() []*domain.Canister

	// Len returns the number of canisters.
	Len() int
}

// SnapshotRepository stores snapshots and their operation log.
type SnapshotRepository interface {
	// NextID allocates a never-used snapshot ID for the canister.
	NextID(c domain.CanisterID) domain.SnapshotID

	// Get retrieves a snapshot by ID.
	Get(id domain.SnapshotID) (*domain.Snapshot, bool)

	// Insert stores a snapshot and logs a Backup operation.
	Insert(snap *domain.Snapshot)

	// Remove deletes a snapshot and logs a Delete operation.
	Remove(id domain.SnapshotID) (*domain.Snapshot, bool)

	// RemoveAll deletes every snapshot of the canister.
	RemoveAll(c domain.CanisterID) []*domain.Snapshot

	// RecordRestore logs a Restore operation.
	RecordRestore(id domain.SnapshotID)

	// ListByCanister returns the canister's snapshots ordered by local ID.
	ListByCanister(c domain.CanisterID) []*domain.Snapshot

	// Count returns the number of snapshots of the canister.
	Count(c domain.CanisterID) int

	// MemoryUsage recomputes the canister's snapshot memory usage.
	MemoryUsage(c domain.CanisterID) uint64

	// TotalMemoryUsage recomputes the memory usage of all snapshots.
	TotalMemoryUsage() uint64

	// Len returns the number of snapshots.
	Len() int

	// TakeUnflushedChanges drains the operation log.
	TakeUnflushedChanges() []domain.SnapshotOp
}
