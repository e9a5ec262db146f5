package management

import (
	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// Method names of the management interface.
const (
	MethodTakeCanisterSnapshot         = "take_canister_snapshot"
	MethodDeleteCanisterSnapshot       = "delete_canister_snapshot"
	MethodLoadCanisterSnapshot         = "load_canister_snapshot"
	MethodListCanisterSnapshots        = "list_canister_snapshots"
	MethodReadCanisterSnapshotMetadata = "read_canister_snapshot_metadata"
	MethodCreateCanister               = "create_canister"
	MethodInstallExecutionState        = "install_execution_state"
	MethodDeleteCanister               = "delete_canister"
	MethodEndRound                     = "end_round"
)

// IsReadOnly reports whether the method never mutates replicated state.
func IsReadOnly(method string) bool {
	return method == MethodListCanisterSnapshots || method == MethodReadCanisterSnapshotMetadata
}

// TakeCanisterSnapshotArgs are the arguments of take_canister_snapshot.
type TakeCanisterSnapshotArgs struct {
	CanisterID            domain.CanisterID
	ReplaceSnapshot       *domain.SnapshotID
	SenderCanisterVersion *uint64
}

// Marshal encodes the arguments.
func (a *TakeCanisterSnapshotArgs) Marshal() []byte {
	b := appendBytes(nil, 1, a.CanisterID.Bytes())
	if a.ReplaceSnapshot != nil {
		b = appendBytes(b, 2, a.ReplaceSnapshot.Bytes())
	}
	if a.SenderCanisterVersion != nil {
		b = appendUint(b, 3, *a.SenderCanisterVersion)
	}
	return b
}

// Unmarshal decodes the arguments.
func (a *TakeCanisterSnapshotArgs) Unmarshal(b []byte) error {
	*a = TakeCanisterSnapshotArgs{}
	err := decode(b, func(f field) error {
		switch f.num {
		case 1:
			id, err := f.principal()
			a.CanisterID = id
			return err
		case 2:
			id, err := f.snapshotID()
			a.ReplaceSnapshot = &id
			return err
		case 3:
			v, err := f.uint()
			a.SenderCanisterVersion = &v
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if a.CanisterID.IsEmpty() {
		return decodeError(errMissingCanisterID)
	}
	return nil
}

// SnapshotArgs are the arguments of the methods that address one snapshot:
// delete_canister_snapshot, load_canister_snapshot and
// read_canister_snapshot_metadata.
type SnapshotArgs struct {
	CanisterID            domain.CanisterID
	SnapshotID            domain.SnapshotID
	SenderCanisterVersion *uint64
}

// Marshal encodes the arguments.
func (a *SnapshotArgs) Marshal() []byte {
	b := appendBytes(nil, 1, a.CanisterID.Bytes())
	b = appendBytes(b, 2, a.SnapshotID.Bytes())
	if a.SenderCanisterVersion != nil {
		b = appendUint(b, 3, *a.SenderCanisterVersion)
	}
	return b
}

// Unmarshal decodes the arguments.
func (a *SnapshotArgs) Unmarshal(b []byte) error {
	*a = SnapshotArgs{}
	var haveSnapshot bool
	err := decode(b, func(f field) error {
		switch f.num {
		case 1:
			id, err := f.principal()
			a.CanisterID = id
			return err
		case 2:
			id, err := f.snapshotID()
			a.SnapshotID = id
			haveSnapshot = true
			return err
		case 3:
			v, err := f.uint()
			a.SenderCanisterVersion = &v
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if a.CanisterID.IsEmpty() {
		return decodeError(errMissingCanisterID)
	}
	if !haveSnapshot {
		return decodeError(errMissingSnapshotID)
	}
	return nil
}

// CanisterArgs carry only a canister id: list_canister_snapshots and
// delete_canister.
type CanisterArgs struct {
	CanisterID domain.CanisterID
}

// Marshal encodes the arguments.
func (a *CanisterArgs) Marshal() []byte {
	return appendBytes(nil, 1, a.CanisterID.Bytes())
}

// Unmarshal decodes the arguments.
func (a *CanisterArgs) Unmarshal(b []byte) error {
	*a = CanisterArgs{}
	err := decode(b, func(f field) error {
		if f.num == 1 {
			id, err := f.principal()
			a.CanisterID = id
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if a.CanisterID.IsEmpty() {
		return decodeError(errMissingCanisterID)
	}
	return nil
}

// CreateCanisterArgs are the arguments of create_canister.
type CreateCanisterArgs struct {
	Controllers []domain.PrincipalID
	Cycles      domain.Cycles
	Settings    domain.Settings
}

// Marshal encodes the arguments.
func (a *CreateCanisterArgs) Marshal() []byte {
	var b []byte
	for _, c := range a.Controllers {
		b = appendBytes(b, 1, c.Bytes())
	}
	b = appendOptUint(b, 2, uint64(a.Cycles))
	b = appendOptUint(b, 3, a.Settings.MemoryAllocation)
	b = appendOptUint(b, 4, a.Settings.WasmMemoryLimit)
	b = appendOptUint(b, 5, a.Settings.WasmMemoryThreshold)
	b = appendOptUint(b, 6, uint64(a.Settings.FreezingThreshold))
	return b
}

// Unmarshal decodes the arguments.
func (a *CreateCanisterArgs) Unmarshal(b []byte) error {
	*a = CreateCanisterArgs{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			p, err := f.principal()
			a.Controllers = append(a.Controllers, p)
			return err
		}
		var target *uint64
		switch f.num {
		case 2:
			target = (*uint64)(&a.Cycles)
		case 3:
			target = &a.Settings.MemoryAllocation
		case 4:
			target = &a.Settings.WasmMemoryLimit
		case 5:
			target = &a.Settings.WasmMemoryThreshold
		case 6:
			target = (*uint64)(&a.Settings.FreezingThreshold)
		default:
			return nil
		}
		v, err := f.uint()
		*target = v
		return err
	})
}

// InstallExecutionStateArgs replace a canister's execution state. They
// stand in for code installation, which happens outside this service.
type InstallExecutionStateArgs struct {
	CanisterID            domain.CanisterID
	Binary                []byte
	Heap                  []byte
	Stable                []byte
	Globals               []domain.Global
	Chunks                [][]byte
	CertifiedData         []byte
	SenderCanisterVersion *uint64
}

// Marshal encodes the arguments.
func (a *InstallExecutionStateArgs) Marshal() []byte {
	b := appendBytes(nil, 1, a.CanisterID.Bytes())
	b = appendBytes(b, 2, a.Binary)
	b = appendBytes(b, 3, a.Heap)
	b = appendBytes(b, 4, a.Stable)
	for _, g := range a.Globals {
		b = appendGlobal(b, 5, g)
	}
	for _, c := range a.Chunks {
		b = appendBytes(b, 6, c)
	}
	if len(a.CertifiedData) > 0 {
		b = appendBytes(b, 7, a.CertifiedData)
	}
	if a.SenderCanisterVersion != nil {
		b = appendUint(b, 8, *a.SenderCanisterVersion)
	}
	return b
}

// Unmarshal decodes the arguments.
func (a *InstallExecutionStateArgs) Unmarshal(b []byte) error {
	*a = InstallExecutionStateArgs{}
	err := decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.CanisterID, err = f.principal()
		case 2:
			a.Binary, err = f.raw()
		case 3:
			a.Heap, err = f.raw()
		case 4:
			a.Stable, err = f.raw()
		case 5:
			var g domain.Global
			g, err = parseGlobal(f)
			a.Globals = append(a.Globals, g)
		case 6:
			var c []byte
			c, err = f.raw()
			a.Chunks = append(a.Chunks, c)
		case 7:
			a.CertifiedData, err = f.raw()
		case 8:
			var v uint64
			v, err = f.uint()
			a.SenderCanisterVersion = &v
		}
		return err
	})
	if err != nil {
		return err
	}
	if a.CanisterID.IsEmpty() {
		return decodeError(errMissingCanisterID)
	}
	return nil
}

// ExecutionState builds the domain execution state. Byte slices are copied
// so the result does not alias the decoded payload.
func (a *InstallExecutionStateArgs) ExecutionState() *domain.ExecutionState {
	chunks := domain.NewChunkStore()
	for _, c := range a.Chunks {
		chunks.Insert(c)
	}
	return (&domain.ExecutionState{
		Binary:  a.Binary,
		Heap:    a.Heap,
		Stable:  a.Stable,
		Globals: a.Globals,
		Chunks:  chunks,
	}).Clone()
}
