package domain

import "slices"

// SnapshotSource tells how a snapshot came to exist.
type SnapshotSource uint8

const (
	// SourceTakenFromCanister marks a snapshot captured from a live canister.
	SourceTakenFromCanister SnapshotSource = iota + 1

	// SourceMetadataUpload marks a snapshot assembled from uploaded data.
	SourceMetadataUpload
)

// String returns the wire name of the source.
func (s SnapshotSource) String() string {
	switch s {
	case SourceTakenFromCanister:
		return "taken_from_canister"
	case SourceMetadataUpload:
		return "metadata_upload"
	default:
		return "unknown"
	}
}

// HookStatus is the state of the low-memory hook.
type HookStatus uint8

const (
	HookConditionNotSatisfied HookStatus = iota
	HookReady
	HookExecuted
)

// String returns the name of the status.
func (s HookStatus) String() string {
	switch s {
	case HookConditionNotSatisfied:
		return "condition_not_satisfied"
	case HookReady:
		return "ready"
	case HookExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable capture of a canister's execution state.
// Nothing mutates a Snapshot after it is inserted into the store.
type Snapshot struct {
	ID              SnapshotID     `json:"id"`
	TakenAt         uint64         `json:"taken_at"` // batch time, nanoseconds
	Source          SnapshotSource `json:"source"`
	CanisterVersion uint64         `json:"canister_version"`

	Binary        []byte      `json:"binary"`
	Heap          []byte      `json:"heap"`
	Stable        []byte      `json:"stable"`
	Globals       []Global    `json:"globals"`
	Chunks        *ChunkStore `json:"chunks"`
	CertifiedData []byte      `json:"certified_data,omitempty"`
	GlobalTimer   GlobalTimer `json:"global_timer"`
	HookStatus    HookStatus  `json:"hook_status"`
}

// CaptureSnapshot copies the canister's state into a new snapshot.
func CaptureSnapshot(id SnapshotID, c *Canister, takenAt uint64) *Snapshot {
	exec := c.Execution.Clone()
	if exec == nil {
		exec = &ExecutionState{Chunks: NewChunkStore()}
	}
	return &Snapshot{
		ID:              id,
		TakenAt:         takenAt,
		Source:          SourceTakenFromCanister,
		CanisterVersion: c.Version,
		Binary:          exec.Binary,
		Heap:            exec.Heap,
		Stable:          exec.Stable,
		Globals:         exec.Globals,
		Chunks:          exec.Chunks,
		CertifiedData:   slices.Clone(c.CertifiedData),
		GlobalTimer:     c.GlobalTimer,
		HookStatus:      c.HookStatus,
	}
}

// Size returns the number of bytes the snapshot occupies.
func (s *Snapshot) Size() uint64 {
	exec := ExecutionState{Binary: s.Binary, Heap: s.Heap, Stable: s.Stable, Globals: s.Globals}
	return exec.MemoryUsage() + s.Chunks.Size() + uint64(len(s.CertifiedData))
}

// ExecutionState returns a fresh copy of the captured execution state.
func (s *Snapshot) ExecutionState() *ExecutionState {
	return (&ExecutionState{
		Binary:  s.Binary,
		Heap:    s.Heap,
		Stable:  s.Stable,
		Globals: s.Globals,
		Chunks:  s.Chunks,
	}).Clone()
}

// Summary returns the list projection.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{ID: s.ID, TakenAt: s.TakenAt, TotalSize: s.Size()}
}

// Metadata returns the read-metadata projection.
func (s *Snapshot) Metadata() SnapshotMetadata {
	return SnapshotMetadata{
		Source:           s.Source,
		TakenAt:          s.TakenAt,
		WasmModuleSize:   uint64(len(s.Binary)),
		Globals:          slices.Clone(s.Globals),
		WasmMemorySize:   uint64(len(s.Heap)),
		StableMemorySize: uint64(len(s.Stable)),
		ChunkHashes:      s.Chunks.Hashes(),
		CanisterVersion:  s.CanisterVersion,
		CertifiedData:    slices.Clone(s.CertifiedData),
		GlobalTimer:      s.GlobalTimer,
		HookStatus:       s.HookStatus,
	}
}

// SnapshotSummary is one entry of a list result.
type SnapshotSummary struct {
	ID        SnapshotID
	TakenAt   uint64
	TotalSize uint64
}

// SnapshotMetadata is the read-metadata result.
type SnapshotMetadata struct {
	Source           SnapshotSource
	TakenAt          uint64
	WasmModuleSize   uint64
	Globals          []Global
	WasmMemorySize   uint64
	StableMemorySize uint64
	ChunkHashes      []string
	CanisterVersion  uint64
	CertifiedData    []byte
	GlobalTimer      GlobalTimer
	HookStatus       HookStatus
}

// SnapshotOpKind classifies an unflushed snapshot operation.
type SnapshotOpKind uint8

const (
	// OpBackup means a snapshot was inserted and must be persisted.
	OpBackup SnapshotOpKind = iota + 1
	// OpRestore means a snapshot was loaded into its canister.
	OpRestore
	// OpDelete means a snapshot was removed.
	OpDelete
)

// String returns the operation name.
func (k SnapshotOpKind) String() string {
	switch k {
	case OpBackup:
		return "backup"
	case OpRestore:
		return "restore"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SnapshotOp is one entry of the store's unflushed-changes log.
type SnapshotOp struct {
	Kind     SnapshotOpKind `json:"kind"`
	Canister CanisterID     `json:"canister"`
	Snapshot SnapshotID     `json:"snapshot"`
}
