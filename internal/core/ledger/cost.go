package ledger

import (
	"math"
	"math/big"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

// ResourceSaturation describes how full a subnet resource is: current usage
// against the threshold where reservations start and the total capacity.
type ResourceSaturation struct {
	Usage     uint64
	Threshold uint64
	Capacity  uint64
}

// NewResourceSaturation builds a saturation value, clamping the threshold to
// the capacity.
func NewResourceSaturation(usage, threshold, capacity uint64) ResourceSaturation {
	if threshold > capacity {
		threshold = capacity
	}
	return ResourceSaturation{Usage: usage, Threshold: threshold, Capacity: capacity}
}

// CostSchedule prices operations. Implementations must be pure functions of
// their inputs.
type CostSchedule interface {
	// ExecutionCost converts an instruction count into cycles.
	ExecutionCost(instructions uint64) domain.Cycles

	// StorageReservationCycles returns the cycles to reserve when allocating
	// bytes on a subnet with the given saturation.
	StorageReservationCycles(bytes uint64, sat ResourceSaturation) domain.Cycles
}

// DefaultCostSchedule is a linear cost schedule.
type DefaultCostSchedule struct {
	// ExecutionBaseFee is charged once per operation.
	ExecutionBaseFee domain.Cycles

	// CyclesPerInstruction converts instructions to cycles.
	CyclesPerInstruction domain.Cycles

	// ReservationCyclesPerByte is the reservation price of one byte allocated
	// on a fully saturated subnet.
	ReservationCyclesPerByte domain.Cycles
}

// Default cost parameters.
const (
	DefaultExecutionBaseFee         domain.Cycles = 5_000_000
	DefaultCyclesPerInstruction     domain.Cycles = 1
	DefaultReservationCyclesPerByte domain.Cycles = 10_000
)

// NewDefaultCostSchedule returns the schedule with default prices.
func NewDefaultCostSchedule() *DefaultCostSchedule {
	return &DefaultCostSchedule{
		ExecutionBaseFee:         DefaultExecutionBaseFee,
		CyclesPerInstruction:     DefaultCyclesPerInstruction,
		ReservationCyclesPerByte: DefaultReservationCyclesPerByte,
	}
}

// ExecutionCost implements CostSchedule.
func (s *DefaultCostSchedule) ExecutionCost(instructions uint64) domain.Cycles {
	cost := new(big.Int).SetUint64(instructions)
	cost.Mul(cost, new(big.Int).SetUint64(uint64(s.CyclesPerInstruction)))
	cost.Add(cost, new(big.Int).SetUint64(uint64(s.ExecutionBaseFee)))
	return saturate(cost)
}

// StorageReservationCycles implements CostSchedule.
//
// The reservation factor rises linearly from 0 at the threshold to 1 at the
// capacity and stays 1 beyond it. The result is the price per byte times the
// integral of that factor over [usage, usage+bytes].
func (s *DefaultCostSchedule) StorageReservationCycles(bytes uint64, sat ResourceSaturation) domain.Cycles {
	if bytes == 0 || s.ReservationCyclesPerByte == 0 {
		return 0
	}

	before := new(big.Int).SetUint64(sat.Usage)
	after := new(big.Int).Add(before, new(big.Int).SetUint64(bytes))
	threshold := new(big.Int).SetUint64(sat.Threshold)
	capacity := new(big.Int).SetUint64(sat.Capacity)
	if after.Cmp(threshold) <= 0 {
		return 0
	}

	// Bytes allocated past the capacity pay the full price.
	full := new(big.Int)
	if after.Cmp(capacity) > 0 {
		full.Sub(after, maxInt(before, capacity))
	}

	// Bytes between threshold and capacity pay proportionally:
	// (b^2 - a^2) / (2 * span), with a and b measured from the threshold.
	span := new(big.Int).Sub(capacity, threshold)
	ramp := new(big.Int)
	if span.Sign() > 0 {
		a := clamp(new(big.Int).Sub(before, threshold), span)
		b := clamp(new(big.Int).Sub(after, threshold), span)
		ramp.Sub(new(big.Int).Mul(b, b), new(big.Int).Mul(a, a))
		ramp.Mul(ramp, new(big.Int).SetUint64(uint64(s.ReservationCyclesPerByte)))
		ramp.Quo(ramp, new(big.Int).Mul(span, big.NewInt(2)))
	}

	total := full.Mul(full, new(big.Int).SetUint64(uint64(s.ReservationCyclesPerByte)))
	total.Add(total, ramp)
	return saturate(total)
}

func clamp(v, hi *big.Int) *big.Int {
	if v.Sign() < 0 {
		return v.SetInt64(0)
	}
	if v.Cmp(hi) > 0 {
		return v.Set(hi)
	}
	return v
}

func maxInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func saturate(v *big.Int) domain.Cycles {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return domain.Cycles(v.Uint64())
}
