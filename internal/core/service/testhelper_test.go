package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
)

const mib = 1 << 20

var (
	alice   = domain.PrincipalID([]byte{0xa1, 0x1c, 0xe0})
	bob     = domain.PrincipalID([]byte{0xb0, 0xb0})
	mallory = domain.PrincipalID([]byte{0xee, 0xee})
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	state *ReplicatedState
	m     *SnapshotManager
	now   uint64
}

func testConfig() StateConfig {
	return StateConfig{
		Manager: ManagerConfig{
			MaxSnapshotsPerCanister: 3,
			BaselineInstructions:    100,
		},
		Ledger: ledger.Config{
			MemoryCapacity:       1 << 30,
			ReservationThreshold: 1 << 30,
			Costs: &ledger.DefaultCostSchedule{
				ExecutionBaseFee:         1000,
				CyclesPerInstruction:     1,
				ReservationCyclesPerByte: 1,
			},
		},
		Limiter: ratelimit.Config{PerCanisterLimit: 1 << 40},
	}
}

func newFixture(t *testing.T, mutate ...func(*StateConfig)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	state := NewReplicatedState(cfg)
	return &fixture{t: t, ctx: context.Background(), state: state, m: state.Manager}
}

func (f *fixture) call(sender domain.PrincipalID) Call {
	f.now += 1_000
	return Call{Sender: sender, Time: f.now}
}

func testState(heap int) *domain.ExecutionState {
	h := make([]byte, heap)
	for i := range h {
		h[i] = byte(i)
	}
	chunks := domain.NewChunkStore()
	chunks.Insert([]byte("chunk"))
	return &domain.ExecutionState{
		Binary: []byte("\x00asm"),
		Heap:   h,
		Stable: []byte("stable"),
		Globals: []domain.Global{
			{Kind: domain.GlobalI32, Lo: 42},
			{Kind: domain.GlobalF64, Lo: 0x7ff8000000000123}, // NaN with payload
		},
		Chunks: chunks,
	}
}

// newCanister creates a canister controlled by alice with heap bytes of
// wasm memory installed.
func (f *fixture) newCanister(cycles domain.Cycles, heap int) domain.CanisterID {
	f.t.Helper()
	id, err := f.m.CreateCanister(f.ctx, &CreateCanisterRequest{
		Call:        f.call(alice),
		Controllers: []domain.PrincipalID{alice, bob},
		Cycles:      cycles,
	})
	require.NoError(f.t, err)

	f.install(id, heap)
	return id
}

func (f *fixture) install(id domain.CanisterID, heap int) {
	f.t.Helper()
	_, err := f.m.InstallExecutionState(f.ctx, &InstallStateRequest{
		Call:          f.call(alice),
		CanisterID:    id,
		State:         testState(heap),
		CertifiedData: []byte("certified"),
	})
	require.NoError(f.t, err)
}

func (f *fixture) canister(id domain.CanisterID) *domain.Canister {
	f.t.Helper()
	c, ok := f.state.Canisters.Get(id)
	require.True(f.t, ok, "canister %s missing", id)
	return c
}

func (f *fixture) take(id domain.CanisterID, replace *domain.SnapshotID) (*TakeSnapshotResponse, error) {
	return f.m.TakeSnapshot(f.ctx, &TakeSnapshotRequest{Call: f.call(alice), CanisterID: id, Replace: replace})
}

func (f *fixture) mustTake(id domain.CanisterID, replace *domain.SnapshotID) *TakeSnapshotResponse {
	f.t.Helper()
	resp, err := f.take(id, replace)
	require.NoError(f.t, err)
	return resp
}

// image serializes the whole replicated state.
func (f *fixture) image() []byte {
	f.t.Helper()
	data, err := json.Marshal(f.state.Export())
	require.NoError(f.t, err)
	return data
}

func (f *fixture) requireConsistent() {
	f.t.Helper()
	require.NoError(f.t, f.m.CheckConsistency())
}

func requireReject(t *testing.T, err error, target *domain.DomainError, message string) {
	t.Helper()
	require.ErrorIs(t, err, target)
	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	require.Equal(t, message, de.RejectMessage())
}
