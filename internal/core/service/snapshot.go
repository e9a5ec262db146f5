package service

import (
	"context"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/hooks"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
)

// Default manager limits.
const (
	DefaultMaxSnapshotsPerCanister = 10
	DefaultBaselineInstructions    = 2_000_000_000
)

// ManagerConfig configures the SnapshotManager.
type ManagerConfig struct {
	// MaxSnapshotsPerCanister caps how many snapshots a canister may own.
	MaxSnapshotsPerCanister int

	// BaselineInstructions are charged on top of one instruction per byte
	// for every take and load.
	BaselineInstructions uint64

	// MaxHistoryEntries bounds each canister's history.
	MaxHistoryEntries int
}

// SnapshotManager takes, deletes, loads and lists canister snapshots.
//
// Every operation runs all of its checks before mutating anything, so a
// rejected operation leaves the canister, the store, the ledger and the
// limiter exactly as they were. Mutations happen in a fixed order: memory,
// cycles, store, usage counters, logs.
//
// The manager is not safe for concurrent use. The cluster state machine
// serializes all calls.
type SnapshotManager struct {
	cfg       ManagerConfig
	canisters CanisterRepository
	snapshots SnapshotRepository
	ledger    *ledger.Ledger
	limiter   *ratelimit.HeapDeltaLimiter
}

// NewSnapshotManager creates a SnapshotManager.
func NewSnapshotManager(
	cfg ManagerConfig,
	canisters CanisterRepository,
	snapshots SnapshotRepository,
	l *ledger.Ledger,
	limiter *ratelimit.HeapDeltaLimiter,
) *SnapshotManager {
	if cfg.MaxSnapshotsPerCanister <= 0 {
		cfg.MaxSnapshotsPerCanister = DefaultMaxSnapshotsPerCanister
	}
	if cfg.MaxHistoryEntries <= 0 {
		cfg.MaxHistoryEntries = domain.DefaultMaxHistoryEntries
	}
	return &SnapshotManager{
		cfg:       cfg,
		canisters: canisters,
		snapshots: snapshots,
		ledger:    l,
		limiter:   limiter,
	}
}

// Config returns the effective manager configuration.
func (m *SnapshotManager) Config() ManagerConfig { return m.cfg }

// Call identifies who sent a replicated request and when it executes.
type Call struct {
	Sender domain.PrincipalID

	// Time is the batch time in nanoseconds. It is the same on every replica.
	Time uint64

	// SenderCanisterVersion is recorded in history entries when set.
	SenderCanisterVersion *uint64
}

func (c Call) origin() domain.ChangeOrigin {
	return domain.ChangeOrigin{Sender: c.Sender, SenderCanisterVersion: c.SenderCanisterVersion}
}

// ============================================================================
// Take
// ============================================================================

// TakeSnapshotRequest contains parameters for taking a snapshot.
type TakeSnapshotRequest struct {
	Call
	CanisterID domain.CanisterID
	Replace    *domain.SnapshotID // Optional snapshot to replace
}

// TakeSnapshotResponse is the result of a successful take.
type TakeSnapshotResponse struct {
	ID        domain.SnapshotID
	TakenAt   uint64
	TotalSize uint64
}

// TakeSnapshot captures the canister's execution state into a new snapshot,
// optionally replacing an existing one atomically.
func (m *SnapshotManager) TakeSnapshot(_ context.Context, req *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	// 1. Canister and sender
	c, err := m.controlledCanister(req.CanisterID, req.Sender)
	if err != nil {
		return nil, err
	}

	// 2. Replaced snapshot must exist and belong to the canister
	var replaced *domain.Snapshot
	if req.Replace != nil {
		snap, ok := m.snapshots.Get(*req.Replace)
		if !ok {
			return nil, domain.ErrDestinationInvalid.WithDetailsf(
				"Could not find the snapshot ID %s for canister %s.", req.Replace, c.ID)
		}
		if snap.ID.Canister != c.ID {
			return nil, domain.ErrCanisterRejectedMessage.WithDetailsf(
				"The snapshot %s does not belong to canister %s", snap.ID, c.ID)
		}
		replaced = snap
	}

	// 3. Something to capture
	if !c.HasExecutionState() {
		return nil, domain.ErrCanisterRejectedMessage.WithDetailsf("Canister %s is empty.", c.ID)
	}

	// 4. Per-canister quota, unless a slot is being reused
	if replaced == nil && m.snapshots.Count(c.ID) >= m.cfg.MaxSnapshotsPerCanister {
		return nil, domain.ErrCanisterRejectedMessage.WithDetailsf(
			"Canister %s has reached the maximum number of snapshots allowed: %d.",
			c.ID, m.cfg.MaxSnapshotsPerCanister)
	}

	// 5. Heap delta
	if err := m.limiter.Check(c.ID); err != nil {
		return nil, err
	}

	// 6. Subnet memory, net of the replaced snapshot
	size := liveStateSize(c)
	delta := ledger.MemoryDelta{Allocate: size}
	if replaced != nil {
		delta.Release = replaced.Size()
	}
	if err := m.ledger.CheckAdmit(delta); err != nil {
		return nil, err
	}

	// 7. Cycles, priced on the saturation before the allocation
	charge := m.ledger.PriceOperation(m.cfg.BaselineInstructions+size, delta.Growth())
	if err := m.ledger.CheckCharge(c, charge, delta.Growth()); err != nil {
		return nil, err
	}

	// All checks passed: mutate.
	m.ledger.Apply(delta)
	m.ledger.ApplyCharge(c, charge)
	if replaced != nil {
		m.snapshots.Remove(replaced.ID)
	}
	snap := domain.CaptureSnapshot(m.snapshots.NextID(c.ID), c, req.Time)
	m.snapshots.Insert(snap)
	c.SnapshotsMemoryUsage = m.snapshots.MemoryUsage(c.ID)
	m.limiter.Record(c.ID, size)

	m.history(c).Append(domain.HistoryEntry{
		Timestamp:       req.Time,
		CanisterVersion: c.Version,
		Origin:          req.origin(),
		Kind:            domain.ChangeTakeSnapshot,
		SnapshotID:      snap.ID.Bytes(),
		SnapshotTakenAt: snap.TakenAt,
	})
	hooks.Update(c)

	return &TakeSnapshotResponse{ID: snap.ID, TakenAt: snap.TakenAt, TotalSize: snap.Size()}, nil
}

// ============================================================================
// Delete
// ============================================================================

// DeleteSnapshotRequest contains parameters for deleting a snapshot.
type DeleteSnapshotRequest struct {
	Call
	CanisterID domain.CanisterID
	SnapshotID domain.SnapshotID
}

// DeleteSnapshot removes a snapshot and releases its memory. Reserved
// cycles are not refunded.
func (m *SnapshotManager) DeleteSnapshot(_ context.Context, req *DeleteSnapshotRequest) error {
	c, err := m.controlledCanister(req.CanisterID, req.Sender)
	if err != nil {
		return err
	}
	snap, err := m.ownedSnapshot(c, req.SnapshotID)
	if err != nil {
		return err
	}

	m.snapshots.Remove(snap.ID)
	m.ledger.Release(snap.Size())
	c.SnapshotsMemoryUsage = m.snapshots.MemoryUsage(c.ID)
	hooks.Update(c)
	return nil
}

// ============================================================================
// Load
// ============================================================================

// LoadSnapshotRequest contains parameters for loading a snapshot.
type LoadSnapshotRequest struct {
	Call
	CanisterID domain.CanisterID
	SnapshotID domain.SnapshotID
}

// LoadSnapshot replaces the canister's execution state with the snapshot's
// and returns the new canister version.
func (m *SnapshotManager) LoadSnapshot(_ context.Context, req *LoadSnapshotRequest) (uint64, error) {
	// 1. Canister, sender and snapshot
	c, err := m.controlledCanister(req.CanisterID, req.Sender)
	if err != nil {
		return 0, err
	}
	snap, err := m.ownedSnapshot(c, req.SnapshotID)
	if err != nil {
		return 0, err
	}

	// 2. Heap delta
	if err := m.limiter.Check(c.ID); err != nil {
		return 0, err
	}

	// 3. Subnet memory: the live state is swapped for the snapshot's
	size := snap.Size()
	delta := ledger.MemoryDelta{Release: liveStateSize(c), Allocate: size}
	if err := m.ledger.CheckAdmit(delta); err != nil {
		return 0, err
	}

	// 4. Cycles
	charge := m.ledger.PriceOperation(m.cfg.BaselineInstructions+size, delta.Growth())
	if err := m.ledger.CheckCharge(c, charge, delta.Growth()); err != nil {
		return 0, err
	}

	// All checks passed: mutate.
	m.ledger.Apply(delta)
	m.ledger.ApplyCharge(c, charge)

	c.Execution = snap.ExecutionState()
	c.CertifiedData = append([]byte(nil), snap.CertifiedData...)
	c.GlobalTimer = snap.GlobalTimer
	c.HookStatus = snap.HookStatus

	prev := c.Version
	c.Version++
	m.history(c).Append(domain.HistoryEntry{
		Timestamp:       req.Time,
		CanisterVersion: c.Version,
		Origin:          req.origin(),
		Kind:            domain.ChangeLoadSnapshot,
		SnapshotID:      snap.ID.Bytes(),
		SnapshotTakenAt: snap.TakenAt,
		PrevVersion:     prev,
	})

	m.limiter.Record(c.ID, size)
	hooks.Update(c)
	m.snapshots.RecordRestore(snap.ID)

	return c.Version, nil
}

// ============================================================================
// List and metadata
// ============================================================================

// ListSnapshots returns the canister's snapshots ordered by local ID.
func (m *SnapshotManager) ListSnapshots(_ context.Context, sender domain.PrincipalID, canisterID domain.CanisterID) ([]domain.SnapshotSummary, error) {
	c, err := m.controlledCanister(canisterID, sender)
	if err != nil {
		return nil, err
	}

	snaps := m.snapshots.ListByCanister(c.ID)
	summaries := make([]domain.SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		summaries = append(summaries, s.Summary())
	}
	return summaries, nil
}

// ReadSnapshotMetadata returns the metadata of one snapshot.
//
// Unlike the other operations, existence and ownership are checked before
// the controller, and a non-controller gets CanisterInvalidController.
func (m *SnapshotManager) ReadSnapshotMetadata(_ context.Context, sender domain.PrincipalID, canisterID domain.CanisterID, snapshotID domain.SnapshotID) (*domain.SnapshotMetadata, error) {
	c, err := m.canister(canisterID)
	if err != nil {
		return nil, err
	}
	snap, err := m.ownedSnapshot(c, snapshotID)
	if err != nil {
		return nil, err
	}
	if !c.IsController(sender) {
		return nil, domain.ErrCanisterInvalidController.WithDetails(notControllerMessage(c, sender))
	}

	md := snap.Metadata()
	return &md, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (m *SnapshotManager) canister(id domain.CanisterID) (*domain.Canister, error) {
	c, ok := m.canisters.Get(id)
	if !ok {
		return nil, domain.ErrCanisterNotFound.WithDetailsf("Canister %s not found.", id)
	}
	return c, nil
}

func (m *SnapshotManager) controlledCanister(id domain.CanisterID, sender domain.PrincipalID) (*domain.Canister, error) {
	c, err := m.canister(id)
	if err != nil {
		return nil, err
	}
	if !c.IsController(sender) {
		return nil, domain.ErrCanisterRejectedMessage.WithDetails(notControllerMessage(c, sender))
	}
	return c, nil
}

func (m *SnapshotManager) ownedSnapshot(c *domain.Canister, id domain.SnapshotID) (*domain.Snapshot, error) {
	snap, ok := m.snapshots.Get(id)
	if !ok {
		return nil, domain.ErrCanisterSnapshotNotFound.WithDetailsf(
			"Could not find the snapshot ID %s for canister %s.", id, c.ID)
	}
	if snap.ID.Canister != c.ID {
		return nil, domain.ErrCanisterRejectedMessage.WithDetailsf(
			"The snapshot %s does not belong to canister %s", id, c.ID)
	}
	return snap, nil
}

func (m *SnapshotManager) history(c *domain.Canister) *domain.History {
	if c.History == nil {
		c.History = domain.NewHistory(m.cfg.MaxHistoryEntries)
	}
	return c.History
}

func notControllerMessage(c *domain.Canister, sender domain.PrincipalID) string {
	return "Only the controllers of the canister " + c.ID.String() + " can control it.\n" +
		"Canister's controllers: " + domain.FormatPrincipals(c.Controllers) + "\n" +
		"Sender's ID: " + sender.String()
}

// liveStateSize is what a snapshot of c would occupy, and what the live
// state is charged against subnet memory.
func liveStateSize(c *domain.Canister) uint64 {
	return c.ExecutionMemoryUsage() + c.ChunkStoreUsage() + uint64(len(c.CertifiedData))
}
