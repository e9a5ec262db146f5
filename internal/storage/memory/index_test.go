package memory

import (
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

func TestLocalIDSet(t *testing.T) {
	set := NewLocalIDSet()

	// Add
	set.Add(7)
	set.Add(2)
	set.Add(7)

	// Len
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}

	// Contains
	if !set.Contains(2) {
		t.Fatal("Contains(2) = false, want true")
	}
	if set.Contains(3) {
		t.Fatal("Contains(3) = true, want false")
	}

	// Items are sorted
	items := set.Items()
	if len(items) != 2 || items[0] != 2 || items[1] != 7 {
		t.Fatalf("Items() = %v, want [2 7]", items)
	}

	// Remove
	set.Remove(2)
	if set.Contains(2) {
		t.Fatal("Contains(2) after remove = true, want false")
	}
}

func TestCanisterIndex(t *testing.T) {
	idx := NewCanisterIndex()
	c1 := domain.PrincipalID([]byte{0x01})
	c2 := domain.PrincipalID([]byte{0x02})

	idx.Add(domain.NewSnapshotID(c1, 5))
	idx.Add(domain.NewSnapshotID(c1, 1))
	idx.Add(domain.NewSnapshotID(c2, 3))

	if idx.Count(c1) != 2 {
		t.Errorf("Count(c1) = %d, want 2", idx.Count(c1))
	}

	ids := idx.Get(c1)
	if len(ids) != 2 || ids[0].Local != 1 || ids[1].Local != 5 {
		t.Errorf("Get(c1) = %v, want locals [1 5]", ids)
	}
	for _, id := range ids {
		if id.Canister != c1 {
			t.Errorf("Get(c1) returned id of canister %s", id.Canister)
		}
	}

	idx.Remove(domain.NewSnapshotID(c1, 1))
	idx.Remove(domain.NewSnapshotID(c1, 5))
	if idx.Count(c1) != 0 {
		t.Errorf("Count(c1) after remove = %d, want 0", idx.Count(c1))
	}
	if _, ok := idx.index[c1]; ok {
		t.Error("empty set was not cleaned up")
	}

	idx.Clear(c2)
	if idx.Get(c2) != nil {
		t.Error("Get(c2) after Clear should be nil")
	}
}
