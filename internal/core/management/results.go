package management

import (
	"fmt"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// TakeCanisterSnapshotResult is the reply of take_canister_snapshot.
type TakeCanisterSnapshotResult struct {
	ID        domain.SnapshotID
	TakenAtNs uint64
	TotalSize uint64
}

// Marshal encodes the result.
func (r *TakeCanisterSnapshotResult) Marshal() []byte {
	b := appendBytes(nil, 1, r.ID.Bytes())
	b = appendOptUint(b, 2, r.TakenAtNs)
	return appendOptUint(b, 3, r.TotalSize)
}

// Unmarshal decodes the result.
func (r *TakeCanisterSnapshotResult) Unmarshal(b []byte) error {
	*r = TakeCanisterSnapshotResult{}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.ID, err = f.snapshotID()
		case 2:
			r.TakenAtNs, err = f.uint()
		case 3:
			r.TotalSize, err = f.uint()
		}
		return err
	})
}

// SnapshotSummaries is the reply of list_canister_snapshots.
type SnapshotSummaries []domain.SnapshotSummary

// Marshal encodes the result.
func (s SnapshotSummaries) Marshal() []byte {
	var b []byte
	for _, sum := range s {
		item := TakeCanisterSnapshotResult{ID: sum.ID, TakenAtNs: sum.TakenAt, TotalSize: sum.TotalSize}
		b = appendBytes(b, 1, item.Marshal())
	}
	return b
}

// Unmarshal decodes the result.
func (s *SnapshotSummaries) Unmarshal(b []byte) error {
	*s = nil
	return decode(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.raw()
		if err != nil {
			return err
		}
		var item TakeCanisterSnapshotResult
		if err := item.Unmarshal(raw); err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		*s = append(*s, domain.SnapshotSummary{ID: item.ID, TakenAt: item.TakenAtNs, TotalSize: item.TotalSize})
		return nil
	})
}

// SnapshotMetadataResult is the reply of read_canister_snapshot_metadata.
type SnapshotMetadataResult struct {
	domain.SnapshotMetadata
}

// Marshal encodes the result.
func (r *SnapshotMetadataResult) Marshal() []byte {
	m := r.SnapshotMetadata
	b := appendUint(nil, 1, uint64(m.Source))
	b = appendOptUint(b, 2, m.TakenAt)
	b = appendOptUint(b, 3, m.WasmModuleSize)
	for _, g := range m.Globals {
		b = appendGlobal(b, 4, g)
	}
	b = appendOptUint(b, 5, m.WasmMemorySize)
	b = appendOptUint(b, 6, m.StableMemorySize)
	for _, h := range m.ChunkHashes {
		b = appendBytes(b, 7, []byte(h))
	}
	b = appendOptUint(b, 8, m.CanisterVersion)
	if len(m.CertifiedData) > 0 {
		b = appendBytes(b, 9, m.CertifiedData)
	}
	if m.GlobalTimer.Active {
		var timer []byte
		timer = appendUint(timer, 1, 1)
		timer = appendOptUint(timer, 2, m.GlobalTimer.At)
		b = appendBytes(b, 10, timer)
	}
	return appendOptUint(b, 11, uint64(m.HookStatus))
}

// Unmarshal decodes the result.
func (r *SnapshotMetadataResult) Unmarshal(b []byte) error {
	*r = SnapshotMetadataResult{}
	m := &r.SnapshotMetadata
	return decode(b, func(f field) error {
		var (
			v   uint64
			err error
		)
		switch f.num {
		case 1:
			v, err = f.uint()
			m.Source = domain.SnapshotSource(v)
		case 2:
			m.TakenAt, err = f.uint()
		case 3:
			m.WasmModuleSize, err = f.uint()
		case 4:
			var g domain.Global
			g, err = parseGlobal(f)
			m.Globals = append(m.Globals, g)
		case 5:
			m.WasmMemorySize, err = f.uint()
		case 6:
			m.StableMemorySize, err = f.uint()
		case 7:
			var h []byte
			h, err = f.raw()
			m.ChunkHashes = append(m.ChunkHashes, string(h))
		case 8:
			m.CanisterVersion, err = f.uint()
		case 9:
			m.CertifiedData, err = f.raw()
		case 10:
			m.GlobalTimer, err = parseTimer(f)
		case 11:
			v, err = f.uint()
			m.HookStatus = domain.HookStatus(v)
		}
		return err
	})
}

func parseTimer(f field) (domain.GlobalTimer, error) {
	var t domain.GlobalTimer
	raw, err := f.raw()
	if err != nil {
		return t, err
	}
	fields, err := parseFields(raw)
	if err != nil {
		return t, fmt.Errorf("global_timer: %w", err)
	}
	for _, tf := range fields {
		v, err := tf.uint()
		if err != nil {
			return t, fmt.Errorf("global_timer: %w", err)
		}
		switch tf.num {
		case 1:
			t.Active = v != 0
		case 2:
			t.At = v
		}
	}
	return t, nil
}

// CanisterIDResult is the reply of create_canister.
type CanisterIDResult struct {
	CanisterID domain.CanisterID
}

// Marshal encodes the result.
func (r *CanisterIDResult) Marshal() []byte {
	return appendBytes(nil, 1, r.CanisterID.Bytes())
}

// Unmarshal decodes the result.
func (r *CanisterIDResult) Unmarshal(b []byte) error {
	*r = CanisterIDResult{}
	return decode(b, func(f field) error {
		var err error
		if f.num == 1 {
			r.CanisterID, err = f.principal()
		}
		return err
	})
}

// Uint64Result carries a single counter: the canister version returned by
// load_canister_snapshot and install_execution_state, or the round
// returned by end_round.
type Uint64Result struct {
	Value uint64
}

// Marshal encodes the result.
func (r *Uint64Result) Marshal() []byte {
	return appendOptUint(nil, 1, r.Value)
}

// Unmarshal decodes the result.
func (r *Uint64Result) Unmarshal(b []byte) error {
	*r = Uint64Result{}
	return decode(b, func(f field) error {
		var err error
		if f.num == 1 {
			r.Value, err = f.uint()
		}
		return err
	})
}
