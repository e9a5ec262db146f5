// Package ledger tracks subnet-wide memory and per-canister cycles.
//
// The ledger is pure accounting. Callers check first (CanAdmit,
// CheckCharge) and mutate only after every check of an operation passed.
package ledger

import (
	"fmt"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// Config configures the ledger.
type Config struct {
	// MemoryCapacity is the subnet execution memory capacity in bytes.
	MemoryCapacity uint64

	// ReservationThreshold is the subnet usage above which allocations
	// reserve cycles.
	ReservationThreshold uint64

	// Costs prices operations. Defaults to NewDefaultCostSchedule.
	Costs CostSchedule
}

// Ledger holds the subnet's available execution memory.
type Ledger struct {
	capacity  uint64
	threshold uint64
	available uint64
	costs     CostSchedule
}

// New creates a ledger with all capacity available.
func New(cfg Config) *Ledger {
	costs := cfg.Costs
	if costs == nil {
		costs = NewDefaultCostSchedule()
	}
	threshold := cfg.ReservationThreshold
	if threshold > cfg.MemoryCapacity {
		threshold = cfg.MemoryCapacity
	}
	return &Ledger{
		capacity:  cfg.MemoryCapacity,
		threshold: threshold,
		available: cfg.MemoryCapacity,
		costs:     costs,
	}
}

// Capacity returns the configured capacity.
func (l *Ledger) Capacity() uint64 { return l.capacity }

// Available returns the currently available memory.
func (l *Ledger) Available() uint64 { return l.available }

// Used returns capacity minus available.
func (l *Ledger) Used() uint64 { return l.capacity - l.available }

// Costs returns the cost schedule.
func (l *Ledger) Costs() CostSchedule { return l.costs }

// Saturation returns the current memory saturation.
func (l *Ledger) Saturation() ResourceSaturation {
	return NewResourceSaturation(l.Used(), l.threshold, l.capacity)
}

// MemoryDelta is a signed change in memory: Release bytes come back first,
// then Allocate bytes are taken.
type MemoryDelta struct {
	Release  uint64
	Allocate uint64
}

// Growth returns how much net memory the delta takes, or zero.
func (d MemoryDelta) Growth() uint64 {
	if d.Allocate > d.Release {
		return d.Allocate - d.Release
	}
	return 0
}

// CanAdmit reports whether the delta fits after provisionally releasing.
func (l *Ledger) CanAdmit(d MemoryDelta) bool {
	return satAdd(l.available, d.Release, l.capacity) >= d.Allocate
}

// CheckAdmit returns SubnetOversubscribed if the delta does not fit.
func (l *Ledger) CheckAdmit(d MemoryDelta) error {
	if l.CanAdmit(d) {
		return nil
	}
	return domain.ErrSubnetOversubscribed.WithDetailsf(
		"Canister requested %d bytes of memory but only %d bytes are available in the subnet.",
		d.Growth(), l.available)
}

// Apply releases then allocates. It panics if the delta was not admitted,
// since callers must check first.
func (l *Ledger) Apply(d MemoryDelta) {
	if !l.CanAdmit(d) {
		panic(fmt.Sprintf("ledger: applying unadmitted delta %+v with %d available", d, l.available))
	}
	l.available = satAdd(l.available, d.Release, l.capacity) - d.Allocate
}

// Release returns memory to the subnet, saturating at capacity.
func (l *Ledger) Release(n uint64) {
	l.available = satAdd(l.available, n, l.capacity)
}

// Restore sets the available memory, used when loading a checkpoint.
func (l *Ledger) Restore(available uint64) {
	if available > l.capacity {
		available = l.capacity
	}
	l.available = available
}

// Charge is a priced operation: cycles burned plus cycles moved to the
// reserved balance.
type Charge struct {
	Burn    domain.Cycles
	Reserve domain.Cycles
}

// Total returns Burn + Reserve.
func (c Charge) Total() domain.Cycles {
	return c.Burn.Add(c.Reserve)
}

// PriceOperation prices an operation of the given instruction count that
// grows subnet memory by growth bytes.
func (l *Ledger) PriceOperation(instructions, growth uint64) Charge {
	return Charge{
		Burn:    l.costs.ExecutionCost(instructions),
		Reserve: l.costs.StorageReservationCycles(growth, l.Saturation()),
	}
}

// CheckCharge verifies the canister can pay and stay at or above its
// freezing threshold. bytes is the memory growth reported in the message.
func (l *Ledger) CheckCharge(c *domain.Canister, ch Charge, bytes uint64) error {
	required := ch.Total().Add(c.Settings.FreezingThreshold)
	if c.Balance >= required {
		return nil
	}
	return domain.ErrInsufficientCycles.WithDetailsf(
		"Canister cannot grow memory by %d bytes due to insufficient cycles. At least %d additional cycles are required.",
		bytes, uint64(required-c.Balance))
}

// ApplyCharge burns and reserves cycles. Callers must CheckCharge first.
func (l *Ledger) ApplyCharge(c *domain.Canister, ch Charge) {
	c.Balance = c.Balance.Sub(ch.Burn)
	c.Balance = c.Balance.Sub(ch.Reserve)
	c.ReservedBalance = c.ReservedBalance.Add(ch.Reserve)
}

func satAdd(a, b, max uint64) uint64 {
	if b > max || a > max-b {
		return max
	}
	return a + b
}
