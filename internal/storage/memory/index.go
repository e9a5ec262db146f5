package memory

import (
	"maps"
	"slices"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// LocalIDSet is a set of per-canister snapshot local ids.
type LocalIDSet struct {
	items map[uint64]struct{}
}

// NewLocalIDSet creates an empty set.
func NewLocalIDSet() *LocalIDSet {
	return &LocalIDSet{items: make(map[uint64]struct{})}
}

// Add adds an id to the set.
func (s *LocalIDSet) Add(id uint64) {
	s.items[id] = struct{}{}
}

// Remove removes an id from the set.
func (s *LocalIDSet) Remove(id uint64) {
	delete(s.items, id)
}

// Contains checks if an id is in the set.
func (s *LocalIDSet) Contains(id uint64) bool {
	_, ok := s.items[id]
	return ok
}

// Len returns the number of ids in the set.
func (s *LocalIDSet) Len() int {
	return len(s.items)
}

// Items returns the ids in ascending order.
func (s *LocalIDSet) Items() []uint64 {
	return slices.Sorted(maps.Keys(s.items))
}

// CanisterIndex maps each canister to the local ids of its snapshots.
//
// The index is not safe for concurrent use; Store guards it.
type CanisterIndex struct {
	index map[domain.CanisterID]*LocalIDSet
}

// NewCanisterIndex creates an empty index.
func NewCanisterIndex() *CanisterIndex {
	return &CanisterIndex{index: make(map[domain.CanisterID]*LocalIDSet)}
}

// Add records that id belongs to the canister.
func (i *CanisterIndex) Add(id domain.SnapshotID) {
	set, ok := i.index[id.Canister]
	if !ok {
		set = NewLocalIDSet()
		i.index[id.Canister] = set
	}
	set.Add(id.Local)
}

// Remove drops id from its canister's set.
func (i *CanisterIndex) Remove(id domain.SnapshotID) {
	set, ok := i.index[id.Canister]
	if !ok {
		return
	}
	set.Remove(id.Local)

	// Clean up empty sets
	if set.Len() == 0 {
		delete(i.index, id.Canister)
	}
}

// Get returns the canister's snapshot ids ordered by local id.
func (i *CanisterIndex) Get(c domain.CanisterID) []domain.SnapshotID {
	set, ok := i.index[c]
	if !ok {
		return nil
	}
	locals := set.Items()
	ids := make([]domain.SnapshotID, len(locals))
	for n, local := range locals {
		ids[n] = domain.NewSnapshotID(c, local)
	}
	return ids
}

// Count returns the number of snapshots of the canister.
func (i *CanisterIndex) Count(c domain.CanisterID) int {
	set, ok := i.index[c]
	if !ok {
		return 0
	}
	return set.Len()
}

// Clear removes the canister from the index.
func (i *CanisterIndex) Clear(c domain.CanisterID) {
	delete(i.index, c)
}
