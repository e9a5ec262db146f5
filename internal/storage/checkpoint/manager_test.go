package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/service"
)

var owner = domain.PrincipalID([]byte{0x0a, 0x0b})

// populatedImage returns the image of a state with one canister and one
// snapshot at the given round.
func populatedImage(t *testing.T, round uint64) *service.StateImage {
	t.Helper()
	ctx := context.Background()
	state := service.NewReplicatedState(service.StateConfig{
		Ledger: ledger.Config{MemoryCapacity: 1 << 30, ReservationThreshold: 1 << 30},
	})
	m := state.Manager

	id, err := m.CreateCanister(ctx, &service.CreateCanisterRequest{
		Call:   service.Call{Sender: owner, Time: 1},
		Cycles: 1 << 50,
	})
	if err != nil {
		t.Fatalf("CreateCanister: %v", err)
	}
	if _, err := m.InstallExecutionState(ctx, &service.InstallStateRequest{
		Call:       service.Call{Sender: owner, Time: 2},
		CanisterID: id,
		State: &domain.ExecutionState{
			Binary: []byte("\x00asm"),
			Heap:   make([]byte, 4096),
			Chunks: domain.NewChunkStore(),
		},
	}); err != nil {
		t.Fatalf("InstallExecutionState: %v", err)
	}
	if _, err := m.TakeSnapshot(ctx, &service.TakeSnapshotRequest{
		Call:       service.Call{Sender: owner, Time: 3},
		CanisterID: id,
	}); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	state.Snapshots.TakeUnflushedChanges()
	state.Round = round
	return state.Export()
}

func TestManager_CreateLoadPlain(t *testing.T) {
	m, err := NewManager(Config{Dir: t.TempDir(), NodeID: "n1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	img := populatedImage(t, 12)
	info, err := m.Create(img)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Round != 12 || info.CanisterCount != 1 || info.SnapshotCount != 1 {
		t.Errorf("header = %+v", info.Header)
	}
	if info.Sealed {
		t.Error("plain checkpoint marked sealed")
	}

	got, loaded, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded.Fingerprint != info.Fingerprint {
		t.Errorf("Fingerprint = %s, want %s", loaded.Fingerprint, info.Fingerprint)
	}

	want, _ := EncodeImage(img)
	have, _ := EncodeImage(got)
	if Fingerprint(want) != Fingerprint(have) {
		t.Error("loaded image differs from the written one")
	}

	// The loaded image must import cleanly.
	state := service.NewReplicatedState(service.StateConfig{
		Ledger: ledger.Config{MemoryCapacity: 1 << 30, ReservationThreshold: 1 << 30},
	})
	if err := state.Import(got); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if state.Snapshots.Len() != 1 {
		t.Errorf("snapshots after import = %d, want 1", state.Snapshots.Len())
	}
}

func TestManager_CreateLoadSealed(t *testing.T) {
	dir := t.TempDir()
	sealer, err := NewSealer(testKey(), AlgAESGCM)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	m, _ := NewManager(Config{Dir: dir, Sealer: sealer})

	info, err := m.Create(populatedImage(t, 3))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !info.Sealed || info.Algorithm != AlgAESGCM {
		t.Errorf("header = %+v", info.Header)
	}

	raw, _ := os.ReadFile(info.Path)
	if bytes.Contains(raw, []byte(`"canisters"`)) {
		t.Error("sealed checkpoint contains plaintext image")
	}

	if _, _, err := m.LoadLatest(); err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}

	plain, _ := NewManager(Config{Dir: dir})
	if _, _, err := plain.LoadLatest(); !errors.Is(err, ErrSealed) {
		t.Errorf("LoadLatest without key error = %v, want ErrSealed", err)
	}

	// Inspect works without the key.
	hdr, err := Inspect(info.Path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if hdr.Round != 3 {
		t.Errorf("Inspect round = %d, want 3", hdr.Round)
	}
}

func TestManager_LoadFallsBackOnCorruptedLatest(t *testing.T) {
	m, _ := NewManager(Config{Dir: t.TempDir(), Keep: 5})

	if _, err := m.Create(populatedImage(t, 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	latest, err := m.Create(populatedImage(t, 2))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, _ := os.ReadFile(latest.Path)
	raw[len(raw)/2] ^= 0xFF
	if err := os.WriteFile(latest.Path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, info, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if img.Round != 1 || info.Round != 1 {
		t.Errorf("fell back to round %d, want 1", img.Round)
	}
}

func TestManager_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir})

	if _, _, err := m.LoadLatest(); !errors.Is(err, ErrNoCheckpoints) {
		t.Errorf("empty dir error = %v, want ErrNoCheckpoints", err)
	}

	small := filepath.Join(dir, "checkpoint-small.ckpt")
	os.WriteFile(small, []byte("tiny"), 0644)
	if _, _, err := m.Load(small); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("tiny file error = %v, want ErrChecksumMismatch", err)
	}

	if _, _, err := m.LoadLatest(); !errors.Is(err, ErrNoCheckpoints) {
		t.Errorf("only damaged files error = %v, want ErrNoCheckpoints", err)
	}
}

func TestManager_ListAndPrune(t *testing.T) {
	dir := t.TempDir()
	m, _ := NewManager(Config{Dir: dir, Keep: 2})

	for round := uint64(1); round <= 4; round++ {
		if _, err := m.Create(populatedImage(t, round)); err != nil {
			t.Fatalf("Create(%d): %v", round, err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 4 {
		t.Fatalf("List() = %d files, want 4", len(infos))
	}

	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}

	img, _, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if img.Round != 4 {
		t.Errorf("latest round = %d, want 4", img.Round)
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("NewManager() with empty dir should fail")
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint([]byte("state"))
	if a != Fingerprint([]byte("state")) {
		t.Error("Fingerprint is not deterministic")
	}
	if a == Fingerprint([]byte("state2")) {
		t.Error("Fingerprint collision on different input")
	}
	if len(a) != 32 {
		t.Errorf("len(Fingerprint) = %d, want 32", len(a))
	}
}
