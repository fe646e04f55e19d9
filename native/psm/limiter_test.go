package psm

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"pegstable/core/state"
	"pegstable/storage"
)

func newTestBudget(t *testing.T, cap, rate int64) (*RateLimitedBudget, *time.Time) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	budget, err := NewRateLimitedBudget(manager, big.NewInt(cap), big.NewInt(rate))
	if err != nil {
		t.Fatalf("new budget: %v", err)
	}
	now := time.Unix(1_700_000_000, 0).UTC()
	budget.SetClock(func() time.Time { return now })
	return budget, &now
}

func TestBudgetStartsFull(t *testing.T) {
	budget, _ := newTestBudget(t, 10_000_000, 10_000)
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 10_000_000 {
		t.Fatalf("buffer = %s, want 10000000", buffer)
	}
}

func TestBudgetConsumeReducesBuffer(t *testing.T) {
	budget, _ := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.Consume(big.NewInt(4_000_000)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 6_000_000 {
		t.Fatalf("buffer = %s, want 6000000", buffer)
	}
}

func TestBudgetConsumeBeyondBufferFails(t *testing.T) {
	budget, _ := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.Consume(big.NewInt(10_000_001)); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 10_000_000 {
		t.Fatalf("failed consume drained buffer: %s", buffer)
	}
}

func TestBudgetReplenishesLinearly(t *testing.T) {
	budget, now := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.Consume(big.NewInt(10_000_000)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	*now = now.Add(250 * time.Second)
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 2_500_000 {
		t.Fatalf("buffer = %s, want 2500000", buffer)
	}
}

func TestBudgetReplenishCappedAtBufferCap(t *testing.T) {
	budget, now := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.Consume(big.NewInt(10_000_000)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// cap/rate seconds restores the full buffer; more time never exceeds it.
	*now = now.Add(1000 * time.Second)
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 10_000_000 {
		t.Fatalf("buffer = %s, want 10000000", buffer)
	}
	*now = now.Add(24 * time.Hour)
	buffer, err = budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 10_000_000 {
		t.Fatalf("buffer overflowed cap: %s", buffer)
	}
}

func TestBudgetSetParamsClampsBuffer(t *testing.T) {
	budget, _ := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.SetParams(big.NewInt(1_000), big.NewInt(10)); err != nil {
		t.Fatalf("set params: %v", err)
	}
	buffer, err := budget.Buffer()
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buffer.Int64() != 1_000 {
		t.Fatalf("buffer = %s, want 1000", buffer)
	}
	if budget.BufferCap().Int64() != 1_000 {
		t.Fatalf("cap = %s, want 1000", budget.BufferCap())
	}
}

func TestBudgetRejectsNonPositiveConsume(t *testing.T) {
	budget, _ := newTestBudget(t, 10_000_000, 10_000)
	if err := budget.Consume(big.NewInt(0)); err == nil {
		t.Fatalf("expected rejection of zero consume")
	}
	if err := budget.Consume(big.NewInt(-5)); err == nil {
		t.Fatalf("expected rejection of negative consume")
	}
}
