package memory

import (
	"errors"
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

func TestCanisterStore_CreateGetDelete(t *testing.T) {
	store := NewCanisterStore()

	id := store.NextID()
	if len(id.Bytes()) != 10 {
		t.Fatalf("NextID() length = %d, want 10", len(id.Bytes()))
	}
	c := &domain.Canister{ID: id, Balance: 100, History: domain.NewHistory(0)}

	if err := store.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(c); !errors.Is(err, domain.ErrCanisterAlreadyExists) {
		t.Fatalf("Create duplicate err = %v, want %v", err, domain.ErrCanisterAlreadyExists)
	}

	got, ok := store.Get(id)
	if !ok || got != c {
		t.Fatalf("Get() = %v, %v, want the stored aggregate", got, ok)
	}

	if _, ok := store.Delete(id); !ok {
		t.Fatal("Delete() = false")
	}
	if _, ok := store.Get(id); ok {
		t.Error("Get() after Delete found the canister")
	}
}

func TestCanisterStore_NextIDSkipsTaken(t *testing.T) {
	store := NewCanisterStore()
	taken := canisterIDFromCounter(0)
	if err := store.Create(&domain.Canister{ID: taken}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if id := store.NextID(); id == taken {
		t.Errorf("NextID() returned taken id %s", id)
	}
}

func TestCanisterStore_ExportImport(t *testing.T) {
	store := NewCanisterStore()
	for i := 0; i < 3; i++ {
		if err := store.Create(&domain.Canister{ID: store.NextID(), Balance: domain.Cycles(i)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	st := store.Export()
	if len(st.Canisters) != 3 || st.NextID != 3 {
		t.Fatalf("Export() = %d canisters, next %d", len(st.Canisters), st.NextID)
	}
	for i := 1; i < len(st.Canisters); i++ {
		if st.Canisters[i-1].ID >= st.Canisters[i].ID {
			t.Error("Export() is not ordered by id")
		}
	}

	// Export copies: mutating it leaves the store alone.
	st.Canisters[0].Balance = 999
	if c, _ := store.Get(st.Canisters[0].ID); c.Balance == 999 {
		t.Error("Export() aliases stored canisters")
	}

	restored := NewCanisterStore()
	restored.Import(st)
	if restored.Len() != 3 {
		t.Errorf("Len() after import = %d, want 3", restored.Len())
	}
	if id := restored.NextID(); id != canisterIDFromCounter(3) {
		t.Errorf("NextID() after import = %s", id)
	}
}
