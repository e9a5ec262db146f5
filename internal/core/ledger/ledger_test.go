package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

const mib = 1 << 20

func TestLedger_AdmitAndRelease(t *testing.T) {
	l := New(Config{MemoryCapacity: 500 * mib})

	if l.Available() != 500*mib {
		t.Fatalf("Available() = %d, want %d", l.Available(), 500*mib)
	}

	l.Apply(MemoryDelta{Allocate: 200 * mib})
	if l.Used() != 200*mib {
		t.Errorf("Used() = %d, want %d", l.Used(), 200*mib)
	}

	l.Release(50 * mib)
	if l.Available() != 350*mib {
		t.Errorf("Available() = %d, want %d", l.Available(), 350*mib)
	}

	// Releasing past capacity saturates.
	l.Release(10_000 * mib)
	if l.Available() != 500*mib {
		t.Errorf("Available() after over-release = %d, want capacity", l.Available())
	}
}

func TestLedger_CheckAdmit_NetOfRelease(t *testing.T) {
	l := New(Config{MemoryCapacity: 100})
	l.Apply(MemoryDelta{Allocate: 90})

	tests := []struct {
		name  string
		delta MemoryDelta
		ok    bool
	}{
		{"fits", MemoryDelta{Allocate: 10}, true},
		{"too big", MemoryDelta{Allocate: 11}, false},
		{"fits after release", MemoryDelta{Release: 30, Allocate: 40}, true},
		{"too big after release", MemoryDelta{Release: 30, Allocate: 41}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.CheckAdmit(tt.delta)
			if tt.ok && err != nil {
				t.Errorf("CheckAdmit() error = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrSubnetOversubscribed) {
				t.Errorf("CheckAdmit() error = %v, want SubnetOversubscribed", err)
			}
			if l.Available() != 10 {
				t.Errorf("CheckAdmit changed Available() to %d", l.Available())
			}
		})
	}
}

func TestLedger_ApplyUnadmittedPanics(t *testing.T) {
	l := New(Config{MemoryCapacity: 10})
	defer func() {
		if recover() == nil {
			t.Error("Apply should panic on an unadmitted delta")
		}
	}()
	l.Apply(MemoryDelta{Allocate: 11})
}

func TestLedger_CheckCharge(t *testing.T) {
	l := New(Config{MemoryCapacity: 1 << 30})
	c := &domain.Canister{
		Balance:  1000,
		Settings: domain.Settings{FreezingThreshold: 100},
	}

	if err := l.CheckCharge(c, Charge{Burn: 800, Reserve: 100}, 64); err != nil {
		t.Errorf("CheckCharge() at exactly the threshold error = %v", err)
	}

	err := l.CheckCharge(c, Charge{Burn: 850, Reserve: 100}, 64)
	if !errors.Is(err, domain.ErrInsufficientCycles) {
		t.Fatalf("CheckCharge() error = %v, want InsufficientCycles", err)
	}
	msg := err.(*domain.DomainError).RejectMessage()
	if !strings.Contains(msg, "At least 50 additional cycles are required") {
		t.Errorf("reject message = %q", msg)
	}
	if c.Balance != 1000 {
		t.Errorf("CheckCharge modified balance to %d", c.Balance)
	}
}

func TestLedger_ApplyCharge(t *testing.T) {
	l := New(Config{MemoryCapacity: 1 << 30})
	c := &domain.Canister{Balance: 1000, ReservedBalance: 5}

	l.ApplyCharge(c, Charge{Burn: 300, Reserve: 200})

	if c.Balance != 500 {
		t.Errorf("Balance = %d, want 500", c.Balance)
	}
	if c.ReservedBalance != 205 {
		t.Errorf("ReservedBalance = %d, want 205", c.ReservedBalance)
	}
}

func TestLedger_PriceOperation(t *testing.T) {
	l := New(Config{
		MemoryCapacity:       1000,
		ReservationThreshold: 500,
		Costs: &DefaultCostSchedule{
			ExecutionBaseFee:         10,
			CyclesPerInstruction:     2,
			ReservationCyclesPerByte: 100,
		},
	})

	ch := l.PriceOperation(50, 100)
	if ch.Burn != 110 {
		t.Errorf("Burn = %d, want 110", ch.Burn)
	}
	if ch.Reserve != 0 {
		t.Errorf("Reserve below threshold = %d, want 0", ch.Reserve)
	}

	l.Apply(MemoryDelta{Allocate: 900})
	ch = l.PriceOperation(50, 100)
	if ch.Reserve == 0 {
		t.Error("Reserve above threshold should be positive")
	}
}
