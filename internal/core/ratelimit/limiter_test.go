package ratelimit

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
)

var (
	canA = domain.PrincipalID([]byte{0x01})
	canB = domain.PrincipalID([]byte{0x02})
)

func TestLimiter_CheckBeforeRecord(t *testing.T) {
	l := New(Config{PerCanisterLimit: 100})

	if err := l.Check(canA); err != nil {
		t.Fatalf("Check() on fresh limiter error = %v", err)
	}

	// A single operation larger than the limit is still admitted once.
	l.Record(canA, 250)
	err := l.Check(canA)
	if !errors.Is(err, domain.ErrHeapDeltaRateLimited) {
		t.Fatalf("Check() error = %v, want HeapDeltaRateLimited", err)
	}
	if got := err.(*domain.DomainError).RejectMessage(); got != "Canister "+canA.String()+" is heap delta rate limited" {
		t.Errorf("reject message = %q", got)
	}

	if err := l.Check(canB); err != nil {
		t.Errorf("Check() on other canister error = %v", err)
	}
}

func TestLimiter_ExactLimitIsLimited(t *testing.T) {
	l := New(Config{PerCanisterLimit: 100})
	l.Record(canA, 99)
	if err := l.Check(canA); err != nil {
		t.Errorf("Check() at 99/100 error = %v", err)
	}
	l.Record(canA, 1)
	if err := l.Check(canA); err == nil {
		t.Error("Check() at 100/100 should be limited")
	}
}

func TestLimiter_EndRoundPaysDown(t *testing.T) {
	l := New(Config{PerCanisterLimit: 100})
	l.Record(canA, 250)
	l.Record(canB, 40)

	tests := []struct {
		round   int
		debitA  uint64
		limited bool
	}{
		{1, 150, true},
		{2, 50, false},
		{3, 0, false},
	}

	for _, tt := range tests {
		l.EndRound()
		if got := l.Debit(canA); got != tt.debitA {
			t.Errorf("round %d: Debit(A) = %d, want %d", tt.round, got, tt.debitA)
		}
		if limited := l.Check(canA) != nil; limited != tt.limited {
			t.Errorf("round %d: limited = %v, want %v", tt.round, limited, tt.limited)
		}
		if got := l.Debit(canB); got != 0 {
			t.Errorf("round %d: Debit(B) = %d, want 0", tt.round, got)
		}
	}
}

func TestLimiter_SubnetCapacity(t *testing.T) {
	l := New(Config{PerCanisterLimit: 1000, SubnetCapacity: 100})

	l.Record(canA, 60)
	l.Record(canB, 40)

	if err := l.Check(domain.PrincipalID([]byte{0x03})); !errors.Is(err, domain.ErrHeapDeltaRateLimited) {
		t.Errorf("Check() with full subnet error = %v, want HeapDeltaRateLimited", err)
	}
	if l.Estimate() != 100 {
		t.Errorf("Estimate() = %d, want 100", l.Estimate())
	}

	l.EndRound()
	if l.Estimate() != 0 {
		t.Errorf("Estimate() after EndRound = %d, want 0", l.Estimate())
	}
	if err := l.Check(canA); err != nil {
		t.Errorf("Check() after EndRound error = %v", err)
	}
}

func TestLimiter_ExportImport(t *testing.T) {
	l := New(Config{PerCanisterLimit: 100})
	l.Record(canA, 300)

	data, err := json.Marshal(l.Export())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	restored := New(Config{PerCanisterLimit: 100})
	restored.Import(st)
	if restored.Debit(canA) != 300 || restored.Estimate() != 300 {
		t.Errorf("restored debit/estimate = %d/%d, want 300/300", restored.Debit(canA), restored.Estimate())
	}

	// Export must not alias internal state.
	exported := l.Export()
	exported.Debits[0].Bytes = 0
	if l.Debit(canA) != 300 {
		t.Error("Export() aliases the debit map")
	}
}
