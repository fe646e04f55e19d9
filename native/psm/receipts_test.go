package psm

import (
	"math/big"
	"testing"
	"time"

	"pegstable/core/state"
	"pegstable/storage"
)

func newTestLedger(t *testing.T) (*SwapLedger, *time.Time) {
	t.Helper()
	ledger := NewSwapLedger(state.NewManager(storage.NewMemDB()))
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger.SetClock(func() time.Time { return now })
	return ledger, &now
}

func TestLedgerRecordAssignsIdentifier(t *testing.T) {
	ledger, _ := newTestLedger(t)
	receipt, err := ledger.Record(&SwapReceipt{
		Direction: DirectionMint,
		Caller:    userAddr,
		Recipient: recipientAddr,
		AmountIn:  big.NewInt(1000),
		AmountOut: big.NewInt(4_985_000),
		Rate:      "5000",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if receipt.ReceiptID == "" {
		t.Fatalf("expected generated receipt id")
	}
	if receipt.ObservedAt != 1_700_000_000 {
		t.Fatalf("observedAt = %d", receipt.ObservedAt)
	}
	stored, ok, err := ledger.Get(receipt.ReceiptID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if stored.AmountOut.Cmp(big.NewInt(4_985_000)) != 0 {
		t.Fatalf("amountOut = %s", stored.AmountOut)
	}
	if stored.Direction != DirectionMint {
		t.Fatalf("direction = %s", stored.Direction)
	}
}

func TestLedgerRejectsDuplicateIdentifier(t *testing.T) {
	ledger, _ := newTestLedger(t)
	receipt := &SwapReceipt{ReceiptID: "swap-1", Direction: DirectionMint, AmountIn: big.NewInt(1), AmountOut: big.NewInt(2)}
	if _, err := ledger.Record(receipt); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := ledger.Record(receipt); err == nil {
		t.Fatalf("expected duplicate rejection")
	}
}

func TestLedgerListFiltersAndPaginates(t *testing.T) {
	ledger, now := newTestLedger(t)
	base := now.Unix()
	for i := int64(0); i < 5; i++ {
		*now = time.Unix(base+i*10, 0).UTC()
		if _, err := ledger.Record(&SwapReceipt{Direction: DirectionRedeem, AmountIn: big.NewInt(i + 1), AmountOut: big.NewInt(1)}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	window, _, err := ledger.List(base+10, base+30, "", 0)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}

	first, cursor, err := ledger.List(0, 0, "", 2)
	if err != nil {
		t.Fatalf("list first: %v", err)
	}
	if len(first) != 2 || cursor == "" {
		t.Fatalf("first page length=%d cursor=%q", len(first), cursor)
	}
	rest, cursor, err := ledger.List(0, 0, cursor, 10)
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("rest length = %d, want 3", len(rest))
	}
	if cursor != "" {
		t.Fatalf("expected exhausted cursor, got %q", cursor)
	}
}

func TestLedgerGetRequiresIdentifier(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if _, _, err := ledger.Get("   "); err == nil {
		t.Fatalf("expected identifier requirement")
	}
}
