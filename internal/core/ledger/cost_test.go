package ledger

import (
	"math"
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

func TestExecutionCost(t *testing.T) {
	s := &DefaultCostSchedule{ExecutionBaseFee: 1000, CyclesPerInstruction: 3}

	tests := []struct {
		instructions uint64
		want         domain.Cycles
	}{
		{0, 1000},
		{1, 1003},
		{1_000_000, 3_001_000},
		{math.MaxUint64, math.MaxUint64},
	}

	for _, tt := range tests {
		if got := s.ExecutionCost(tt.instructions); got != tt.want {
			t.Errorf("ExecutionCost(%d) = %d, want %d", tt.instructions, got, tt.want)
		}
	}
}

func TestExecutionCost_StrictlyIncreasing(t *testing.T) {
	s := NewDefaultCostSchedule()
	prev := s.ExecutionCost(0)
	for n := uint64(1); n < 5000; n += 97 {
		got := s.ExecutionCost(n)
		if got <= prev {
			t.Fatalf("ExecutionCost(%d) = %d, not above previous %d", n, got, prev)
		}
		prev = got
	}
}

func TestStorageReservationCycles(t *testing.T) {
	s := &DefaultCostSchedule{ReservationCyclesPerByte: 10}

	tests := []struct {
		name  string
		bytes uint64
		sat   ResourceSaturation
		want  domain.Cycles
	}{
		{"zero bytes", 0, NewResourceSaturation(900, 500, 1000), 0},
		{"below threshold", 100, NewResourceSaturation(0, 500, 1000), 0},
		{"ends at threshold", 100, NewResourceSaturation(400, 500, 1000), 0},
		// factor integral over [500, 600] with span 500: (100^2 - 0) / 1000 = 10 byte-equivalents
		{"ramp start", 100, NewResourceSaturation(500, 500, 1000), 100},
		// entirely above capacity pays full price
		{"saturated", 100, NewResourceSaturation(1000, 500, 1000), 1000},
		// threshold equals capacity: everything above is full price
		{"no ramp", 100, NewResourceSaturation(950, 1000, 1000), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.StorageReservationCycles(tt.bytes, tt.sat); got != tt.want {
				t.Errorf("StorageReservationCycles() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStorageReservationCycles_Monotonic(t *testing.T) {
	s := NewDefaultCostSchedule()
	const capacity = 1 << 30
	threshold := uint64(capacity / 2)

	var prev domain.Cycles
	for usage := uint64(0); usage <= capacity; usage += capacity / 16 {
		got := s.StorageReservationCycles(1<<20, NewResourceSaturation(usage, threshold, capacity))
		if got < prev {
			t.Fatalf("reservation at usage %d = %d, dropped below %d", usage, got, prev)
		}
		prev = got
	}

	prev = 0
	for bytes := uint64(1 << 10); bytes <= 1<<28; bytes <<= 2 {
		got := s.StorageReservationCycles(bytes, NewResourceSaturation(threshold, threshold, capacity))
		if got < prev {
			t.Fatalf("reservation for %d bytes = %d, dropped below %d", bytes, got, prev)
		}
		prev = got
	}
}
