// Package ratelimit implements the round-based heap-delta limiter.
//
// Every replica must reach the same decision, so the limiter counts bytes
// per execution round instead of wall-clock time.
package ratelimit

import (
	"maps"
	"slices"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// DefaultPerCanisterLimit is the per-round heap-delta allowance of one canister.
const DefaultPerCanisterLimit = 75 << 20

// Config configures a HeapDeltaLimiter.
type Config struct {
	// PerCanisterLimit is how many bytes of debit each round pays down.
	// A canister whose debit is at or above it is rate limited.
	PerCanisterLimit uint64

	// SubnetCapacity caps the heap delta of the whole subnet per round.
	// Zero disables the subnet-wide check.
	SubnetCapacity uint64
}

// HeapDeltaLimiter tracks heap-delta debits per canister and the subnet
// estimate for the current round.
type HeapDeltaLimiter struct {
	cfg      Config
	estimate uint64
	debits   map[domain.CanisterID]uint64
}

// New creates a limiter. A zero PerCanisterLimit uses the default.
func New(cfg Config) *HeapDeltaLimiter {
	if cfg.PerCanisterLimit == 0 {
		cfg.PerCanisterLimit = DefaultPerCanisterLimit
	}
	return &HeapDeltaLimiter{
		cfg:    cfg,
		debits: make(map[domain.CanisterID]uint64),
	}
}

// Config returns the limiter configuration.
func (l *HeapDeltaLimiter) Config() Config { return l.cfg }

// Check returns ErrHeapDeltaRateLimited if the canister, or the subnet, has
// already used up its allowance. It does not consume anything.
func (l *HeapDeltaLimiter) Check(c domain.CanisterID) error {
	if l.debits[c] >= l.cfg.PerCanisterLimit ||
		(l.cfg.SubnetCapacity > 0 && l.estimate >= l.cfg.SubnetCapacity) {
		return domain.ErrHeapDeltaRateLimited.WithDetailsf("Canister %s is heap delta rate limited", c)
	}
	return nil
}

// Record adds size bytes to the canister's debit and the subnet estimate.
func (l *HeapDeltaLimiter) Record(c domain.CanisterID, size uint64) {
	if size == 0 {
		return
	}
	l.debits[c] = satAdd(l.debits[c], size)
	l.estimate = satAdd(l.estimate, size)
}

// Debit returns the canister's outstanding debit.
func (l *HeapDeltaLimiter) Debit(c domain.CanisterID) uint64 {
	return l.debits[c]
}

// Estimate returns the subnet heap delta of the current round.
func (l *HeapDeltaLimiter) Estimate() uint64 {
	return l.estimate
}

// EndRound resets the subnet estimate and pays down every debit by one
// round's allowance. Debits that reach zero are dropped.
func (l *HeapDeltaLimiter) EndRound() {
	l.estimate = 0
	for c, d := range l.debits {
		if d <= l.cfg.PerCanisterLimit {
			delete(l.debits, c)
			continue
		}
		l.debits[c] = d - l.cfg.PerCanisterLimit
	}
}

// Forget drops the canister's debit, used when the canister is deleted.
func (l *HeapDeltaLimiter) Forget(c domain.CanisterID) {
	delete(l.debits, c)
}

// State is the checkpointed limiter state. Debits are a sorted list because
// principals are raw bytes and cannot be JSON object keys.
type State struct {
	Estimate uint64  `json:"estimate"`
	Debits   []Debit `json:"debits,omitempty"`
}

// Debit is one canister's outstanding heap-delta debit.
type Debit struct {
	Canister domain.CanisterID `json:"canister"`
	Bytes    uint64            `json:"bytes"`
}

// Export returns a copy of the limiter state.
func (l *HeapDeltaLimiter) Export() State {
	st := State{Estimate: l.estimate}
	for _, c := range slices.Sorted(maps.Keys(l.debits)) {
		st.Debits = append(st.Debits, Debit{Canister: c, Bytes: l.debits[c]})
	}
	return st
}

// Import replaces the limiter state.
func (l *HeapDeltaLimiter) Import(s State) {
	l.estimate = s.Estimate
	l.debits = make(map[domain.CanisterID]uint64, len(s.Debits))
	for _, d := range s.Debits {
		l.debits[d.Canister] = d.Bytes
	}
}

func satAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
