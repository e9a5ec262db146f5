package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"
)

// Cycles is an amount of the metered resource charged for computation and
// storage. Arithmetic helpers saturate instead of wrapping.
type Cycles uint64

// Add returns c+o, saturating at the maximum value.
func (c Cycles) Add(o Cycles) Cycles {
	if c > math.MaxUint64-o {
		return math.MaxUint64
	}
	return c + o
}

// Sub returns c-o, saturating at zero.
func (c Cycles) Sub(o Cycles) Cycles {
	if o > c {
		return 0
	}
	return c - o
}

// GlobalKind is the value type of an exported global.
type GlobalKind uint8

const (
	GlobalI32 GlobalKind = iota + 1
	GlobalI64
	GlobalF32
	GlobalF64
	GlobalV128
)

// Global is an exported global. Values are kept as raw bits so restoring a
// float global reproduces the exact payload, NaN bits included.
type Global struct {
	Kind GlobalKind `json:"kind"`
	Lo   uint64     `json:"lo"`
	Hi   uint64     `json:"hi,omitempty"` // V128 only
}

// globalSize is the accounted size of one global in bytes.
func (g Global) size() uint64 {
	if g.Kind == GlobalV128 {
		return 16
	}
	return 8
}

// ChunkStore is content-addressed storage attached to a canister. Keys are
// hex sha256 hashes of the chunk contents.
type ChunkStore struct {
	Chunks map[string][]byte `json:"chunks,omitempty"`
}

// NewChunkStore creates an empty chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{Chunks: make(map[string][]byte)}
}

// Insert stores a chunk and returns its hash.
func (s *ChunkStore) Insert(data []byte) string {
	if s.Chunks == nil {
		s.Chunks = make(map[string][]byte)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	s.Chunks[key] = slices.Clone(data)
	return key
}

// Len returns the number of stored chunks.
func (s *ChunkStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// Size returns the total number of bytes held.
func (s *ChunkStore) Size() uint64 {
	if s == nil {
		return 0
	}
	var n uint64
	for _, c := range s.Chunks {
		n += uint64(len(c))
	}
	return n
}

// Hashes returns the chunk hashes in sorted order.
func (s *ChunkStore) Hashes() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Chunks))
	for k := range s.Chunks {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a deep copy.
func (s *ChunkStore) Clone() *ChunkStore {
	clone := NewChunkStore()
	if s == nil {
		return clone
	}
	for k, v := range s.Chunks {
		clone.Chunks[k] = slices.Clone(v)
	}
	return clone
}

// ExecutionState is the installed program and its memories.
type ExecutionState struct {
	Binary  []byte      `json:"binary"`
	Heap    []byte      `json:"heap"`
	Stable  []byte      `json:"stable"`
	Globals []Global    `json:"globals"`
	Chunks  *ChunkStore `json:"chunks"`
}

// MemoryUsage returns the bytes held by binary, memories and globals.
func (e *ExecutionState) MemoryUsage() uint64 {
	if e == nil {
		return 0
	}
	n := uint64(len(e.Binary) + len(e.Heap) + len(e.Stable))
	for _, g := range e.Globals {
		n += g.size()
	}
	return n
}

// Clone returns a deep copy.
func (e *ExecutionState) Clone() *ExecutionState {
	if e == nil {
		return nil
	}
	return &ExecutionState{
		Binary:  slices.Clone(e.Binary),
		Heap:    slices.Clone(e.Heap),
		Stable:  slices.Clone(e.Stable),
		Globals: slices.Clone(e.Globals),
		Chunks:  e.Chunks.Clone(),
	}
}

// GlobalTimer is the canister's one-shot timer.
type GlobalTimer struct {
	Active bool   `json:"active"`
	At     uint64 `json:"at,omitempty"` // nanoseconds since epoch
}

// Settings are the controller-configured canister limits.
type Settings struct {
	// MemoryAllocation reserves memory for the canister; zero means best effort.
	MemoryAllocation uint64 `json:"memory_allocation"`

	// WasmMemoryLimit caps heap memory; zero means unlimited.
	WasmMemoryLimit uint64 `json:"wasm_memory_limit"`

	// WasmMemoryThreshold is the headroom below which the low-memory hook fires.
	WasmMemoryThreshold uint64 `json:"wasm_memory_threshold"`

	// FreezingThreshold is the balance the canister must keep after any charge.
	FreezingThreshold Cycles `json:"freezing_threshold"`
}

// Canister is the owned per-canister aggregate. A single operation holds the
// only reference while it runs.
type Canister struct {
	ID              CanisterID      `json:"id"`
	Controllers     []PrincipalID   `json:"controllers"`
	Balance         Cycles          `json:"balance"`
	ReservedBalance Cycles          `json:"reserved_balance"`
	Settings        Settings        `json:"settings"`
	Execution       *ExecutionState `json:"execution,omitempty"`
	CertifiedData   []byte          `json:"certified_data,omitempty"`
	GlobalTimer     GlobalTimer     `json:"global_timer"`
	Version         uint64          `json:"version"`
	History         *History        `json:"history"`
	HookStatus      HookStatus      `json:"hook_status"`

	// SnapshotsMemoryUsage mirrors the snapshot store's total for this canister.
	SnapshotsMemoryUsage uint64 `json:"snapshots_memory_usage"`
}

// IsController reports whether p controls the canister.
func (c *Canister) IsController(p PrincipalID) bool {
	return slices.Contains(c.Controllers, p)
}

// HasExecutionState reports whether code is installed.
func (c *Canister) HasExecutionState() bool {
	return c.Execution != nil && len(c.Execution.Binary) > 0
}

// ExecutionMemoryUsage returns the bytes used by the live execution state.
func (c *Canister) ExecutionMemoryUsage() uint64 {
	return c.Execution.MemoryUsage()
}

// WasmMemoryUsage returns the heap size, the quantity the low-memory hook watches.
func (c *Canister) WasmMemoryUsage() uint64 {
	if c.Execution == nil {
		return 0
	}
	return uint64(len(c.Execution.Heap))
}

// ChunkStoreUsage returns the bytes held by the live chunk store.
func (c *Canister) ChunkStoreUsage() uint64 {
	if c.Execution == nil {
		return 0
	}
	return c.Execution.Chunks.Size()
}

// MemoryUsage returns the total resident usage including snapshots.
func (c *Canister) MemoryUsage() uint64 {
	return c.ExecutionMemoryUsage() + c.ChunkStoreUsage() + uint64(len(c.CertifiedData)) + c.SnapshotsMemoryUsage
}

// Clone returns a deep copy.
func (c *Canister) Clone() *Canister {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Controllers = slices.Clone(c.Controllers)
	clone.Execution = c.Execution.Clone()
	clone.CertifiedData = slices.Clone(c.CertifiedData)
	clone.History = c.History.Clone()
	return &clone
}
