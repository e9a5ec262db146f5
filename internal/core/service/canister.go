package service

import (
	"context"
	"slices"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/hooks"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
)

// CreateCanisterRequest contains parameters for creating a canister.
type CreateCanisterRequest struct {
	Call
	Controllers []domain.PrincipalID // Defaults to the sender
	Cycles      domain.Cycles
	Settings    domain.Settings
}

// CreateCanister creates an empty canister and returns its ID.
func (m *SnapshotManager) CreateCanister(_ context.Context, req *CreateCanisterRequest) (domain.CanisterID, error) {
	controllers := slices.Clone(req.Controllers)
	if len(controllers) == 0 {
		controllers = []domain.PrincipalID{req.Sender}
	}

	c := &domain.Canister{
		ID:          m.canisters.NextID(),
		Controllers: controllers,
		Balance:     req.Cycles,
		Settings:    req.Settings,
		History:     domain.NewHistory(m.cfg.MaxHistoryEntries),
	}
	c.History.Append(domain.HistoryEntry{
		Timestamp:       req.Time,
		CanisterVersion: c.Version,
		Origin:          req.origin(),
		Kind:            domain.ChangeCreation,
		Controllers:     slices.Clone(controllers),
	})
	if err := m.canisters.Create(c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// InstallStateRequest replaces a canister's execution state.
type InstallStateRequest struct {
	Call
	CanisterID    domain.CanisterID
	State         *domain.ExecutionState
	CertifiedData []byte
}

// InstallExecutionState swaps in a new execution state, admitting its
// memory against the subnet, and returns the new canister version. It
// models code installation, whose validation and execution happen
// elsewhere.
func (m *SnapshotManager) InstallExecutionState(_ context.Context, req *InstallStateRequest) (uint64, error) {
	c, err := m.controlledCanister(req.CanisterID, req.Sender)
	if err != nil {
		return 0, err
	}

	next := &domain.Canister{Execution: req.State, CertifiedData: req.CertifiedData}
	delta := ledger.MemoryDelta{Release: liveStateSize(c), Allocate: liveStateSize(next)}
	if err := m.ledger.CheckAdmit(delta); err != nil {
		return 0, err
	}

	m.ledger.Apply(delta)
	c.Execution = req.State.Clone()
	c.CertifiedData = slices.Clone(req.CertifiedData)
	c.Version++
	m.history(c).Append(domain.HistoryEntry{
		Timestamp:       req.Time,
		CanisterVersion: c.Version,
		Origin:          req.origin(),
		Kind:            domain.ChangeCodeDeployment,
	})
	hooks.Update(c)
	return c.Version, nil
}

// DeleteCanisterRequest contains parameters for deleting a canister.
type DeleteCanisterRequest struct {
	Call
	CanisterID domain.CanisterID
}

// DeleteCanister removes the canister and cascades to all its snapshots,
// releasing their memory. A canister without snapshots is not an error.
func (m *SnapshotManager) DeleteCanister(_ context.Context, req *DeleteCanisterRequest) error {
	c, err := m.controlledCanister(req.CanisterID, req.Sender)
	if err != nil {
		return err
	}

	for _, snap := range m.snapshots.RemoveAll(c.ID) {
		m.ledger.Release(snap.Size())
	}
	m.ledger.Release(liveStateSize(c))
	m.limiter.Forget(c.ID)
	m.canisters.Delete(c.ID)
	return nil
}

// EndRound pays down heap-delta debits at the end of an execution round.
func (m *SnapshotManager) EndRound() {
	m.limiter.EndRound()
}
