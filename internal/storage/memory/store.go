// Package memory provides the in-memory replicated state stores.
package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// SnapshotStore holds every snapshot of the subnet, indexed by owner.
//
// Snapshots are immutable once inserted, so Get and List hand out the stored
// pointers. Usage figures are recomputed from live entries on every call.
type SnapshotStore struct {
	// Primary index: SnapshotID -> Snapshot
	snapshots map[domain.SnapshotID]*domain.Snapshot

	// Secondary index: CanisterID -> set of local ids
	byCanister *CanisterIndex

	// nextLocal is the next local id handed out. It only grows.
	nextLocal uint64

	// unflushed is the operation log drained by TakeUnflushedChanges.
	unflushed []domain.SnapshotOp

	mu sync.RWMutex
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots:  make(map[domain.SnapshotID]*domain.Snapshot),
		byCanister: NewCanisterIndex(),
	}
}

// NextID allocates a fresh snapshot id for the canister. Ids are never
// reused, including ids of deleted snapshots.
func (s *SnapshotStore) NextID(c domain.CanisterID) domain.SnapshotID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.NewSnapshotID(c, s.nextLocal)
	s.nextLocal++
	return id
}

// Get retrieves a snapshot by id.
func (s *SnapshotStore) Get(id domain.SnapshotID) (*domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	return snap, ok
}

// Insert stores a snapshot and logs a Backup operation.
func (s *SnapshotStore) Insert(snap *domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.ID] = snap
	s.byCanister.Add(snap.ID)
	s.unflushed = append(s.unflushed, domain.SnapshotOp{
		Kind: domain.OpBackup, Canister: snap.ID.Canister, Snapshot: snap.ID,
	})
}

// Remove deletes a snapshot and logs a Delete operation.
func (s *SnapshotStore) Remove(id domain.SnapshotID) (*domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(id)
}

func (s *SnapshotStore) removeLocked(id domain.SnapshotID) (*domain.Snapshot, bool) {
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, false
	}
	delete(s.snapshots, id)
	s.byCanister.Remove(id)
	s.unflushed = append(s.unflushed, domain.SnapshotOp{
		Kind: domain.OpDelete, Canister: id.Canister, Snapshot: id,
	})
	return snap, true
}

// RemoveAll deletes every snapshot of the canister, in local id order.
func (s *SnapshotStore) RemoveAll(c domain.CanisterID) []*domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byCanister.Get(c)
	removed := make([]*domain.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.removeLocked(id); ok {
			removed = append(removed, snap)
		}
	}
	s.byCanister.Clear(c)
	return removed
}

// RecordRestore logs that a snapshot was loaded into its canister.
func (s *SnapshotStore) RecordRestore(id domain.SnapshotID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unflushed = append(s.unflushed, domain.SnapshotOp{
		Kind: domain.OpRestore, Canister: id.Canister, Snapshot: id,
	})
}

// ListByCanister returns the canister's snapshots ordered by local id.
func (s *SnapshotStore) ListByCanister(c domain.CanisterID) []*domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byCanister.Get(c)
	if len(ids) == 0 {
		return nil
	}
	list := make([]*domain.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.snapshots[id]; ok {
			list = append(list, snap)
		}
	}
	return list
}

// Count returns the number of snapshots the canister owns.
func (s *SnapshotStore) Count(c domain.CanisterID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byCanister.Count(c)
}

// MemoryUsage sums the sizes of the canister's live snapshots.
func (s *SnapshotStore) MemoryUsage(c domain.CanisterID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, id := range s.byCanister.Get(c) {
		if snap, ok := s.snapshots[id]; ok {
			total += snap.Size()
		}
	}
	return total
}

// TotalMemoryUsage sums the sizes of all snapshots.
func (s *SnapshotStore) TotalMemoryUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, snap := range s.snapshots {
		total += snap.Size()
	}
	return total
}

// Len returns the number of stored snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snapshots)
}

// TakeUnflushedChanges returns the logged operations in order and clears
// the log, so each operation is returned exactly once.
func (s *SnapshotStore) TakeUnflushedChanges() []domain.SnapshotOp {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := s.unflushed
	s.unflushed = nil
	return ops
}

// SnapshotStoreState is the checkpointed store content.
type SnapshotStoreState struct {
	NextLocal uint64             `json:"next_local"`
	Snapshots []*domain.Snapshot `json:"snapshots"`
}

// Export returns the store content ordered by canister then local id.
// Pending operations are not part of the state.
func (s *SnapshotStore) Export() SnapshotStoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SnapshotStoreState{
		NextLocal: s.nextLocal,
		Snapshots: make([]*domain.Snapshot, 0, len(s.snapshots)),
	}
	for _, snap := range s.snapshots {
		st.Snapshots = append(st.Snapshots, snap)
	}
	slices.SortFunc(st.Snapshots, func(a, b *domain.Snapshot) int {
		return cmp.Or(cmp.Compare(a.ID.Canister, b.ID.Canister), cmp.Compare(a.ID.Local, b.ID.Local))
	})
	return st
}

// Import replaces the store content and drops any pending operations.
func (s *SnapshotStore) Import(st SnapshotStoreState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[domain.SnapshotID]*domain.Snapshot, len(st.Snapshots))
	s.byCanister = NewCanisterIndex()
	s.unflushed = nil
	s.nextLocal = st.NextLocal
	for _, snap := range st.Snapshots {
		s.snapshots[snap.ID] = snap
		s.byCanister.Add(snap.ID)
		if snap.ID.Local >= s.nextLocal {
			s.nextLocal = snap.ID.Local + 1
		}
	}
}
