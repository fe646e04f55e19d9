package psm

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

type storedSwapReceipt struct {
	ReceiptID  string
	Direction  string
	Caller     [20]byte
	Recipient  [20]byte
	AmountIn   string
	AmountOut  string
	Rate       string
	ObservedAt uint64
}

type swapIndexEntry struct {
	ReceiptID string
	Observed  uint64
}

// SwapLedger persists the audit trail of completed swaps.
type SwapLedger struct {
	store State
	clock func() time.Time
}

// NewSwapLedger constructs a ledger bound to the provided state backend.
func NewSwapLedger(store State) *SwapLedger {
	return &SwapLedger{store: store, clock: time.Now}
}

// SetClock overrides the wall-clock used for timestamping receipts.
func (l *SwapLedger) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

// Record persists the receipt, assigning an identifier and observation time
// when the caller supplied none. Identifiers must be unique within the
// ledger.
func (l *SwapLedger) Record(receipt *SwapReceipt) (*SwapReceipt, error) {
	if l == nil {
		return nil, fmt.Errorf("swap ledger not initialised")
	}
	if receipt == nil {
		return nil, fmt.Errorf("swap ledger: receipt must not be nil")
	}
	stored := toStoredSwap(receipt)
	if stored.ReceiptID == "" {
		stored.ReceiptID = uuid.NewString()
	}
	if stored.ObservedAt == 0 {
		now := l.clock().UTC().Unix()
		if now > 0 {
			stored.ObservedAt = uint64(now)
		}
	}
	key := swapReceiptKey(stored.ReceiptID)
	var existing storedSwapReceipt
	ok, err := l.store.KVGet(key, &existing)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("swap ledger: receipt %s already exists", stored.ReceiptID)
	}
	if err := l.store.KVPut(key, stored); err != nil {
		return nil, err
	}
	entry := swapIndexEntry{ReceiptID: stored.ReceiptID, Observed: stored.ObservedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return nil, err
	}
	if err := l.store.KVAppend(receiptIndexKey, encoded); err != nil {
		return nil, err
	}
	return fromStoredSwap(&stored)
}

// Get retrieves a receipt by identifier.
func (l *SwapLedger) Get(receiptID string) (*SwapReceipt, bool, error) {
	if l == nil {
		return nil, false, fmt.Errorf("swap ledger not initialised")
	}
	key := swapReceiptKey(receiptID)
	if len(key) == len(receiptPrefix) {
		return nil, false, fmt.Errorf("swap ledger: receiptId required")
	}
	var stored storedSwapReceipt
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	receipt, err := fromStoredSwap(&stored)
	if err != nil {
		return nil, false, err
	}
	return receipt, true, nil
}

// List returns receipts within the supplied inclusive time range, ordered by
// observation time with the receipt identifier breaking ties. The cursor is
// the last receipt identifier of the previous page.
func (l *SwapLedger) List(startTs, endTs int64, cursor string, limit int) ([]*SwapReceipt, string, error) {
	if l == nil {
		return nil, "", fmt.Errorf("swap ledger not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := l.loadIndex()
	if err != nil {
		return nil, "", err
	}
	filtered := make([]swapIndexEntry, 0, len(entries))
	for _, entry := range entries {
		observed := int64(entry.Observed)
		if observed < 0 {
			return nil, "", fmt.Errorf("swap ledger: index overflow for %s", entry.ReceiptID)
		}
		if startTs != 0 && observed < startTs {
			continue
		}
		if endTs != 0 && observed > endTs {
			continue
		}
		filtered = append(filtered, entry)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Observed == filtered[j].Observed {
			return filtered[i].ReceiptID < filtered[j].ReceiptID
		}
		return filtered[i].Observed < filtered[j].Observed
	})
	startIdx := 0
	trimmedCursor := strings.TrimSpace(cursor)
	if trimmedCursor != "" {
		for i, entry := range filtered {
			if entry.ReceiptID == trimmedCursor {
				startIdx = i + 1
				break
			}
		}
	}
	receipts := make([]*SwapReceipt, 0, limit)
	nextCursor := ""
	for i := startIdx; i < len(filtered) && len(receipts) < limit; i++ {
		receipt, ok, err := l.Get(filtered[i].ReceiptID)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		receipts = append(receipts, receipt)
		nextCursor = filtered[i].ReceiptID
	}
	if startIdx+len(receipts) >= len(filtered) {
		nextCursor = ""
	}
	return receipts, nextCursor, nil
}

func (l *SwapLedger) loadIndex() ([]swapIndexEntry, error) {
	var raw [][]byte
	if err := l.store.KVGetList(receiptIndexKey, &raw); err != nil {
		return nil, err
	}
	entries := make([]swapIndexEntry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var entry swapIndexEntry
		if err := rlp.DecodeBytes(encoded, &entry); err != nil {
			return nil, err
		}
		if strings.TrimSpace(entry.ReceiptID) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toStoredSwap(receipt *SwapReceipt) storedSwapReceipt {
	stored := storedSwapReceipt{}
	if receipt == nil {
		return stored
	}
	stored.ReceiptID = strings.TrimSpace(receipt.ReceiptID)
	stored.Direction = string(receipt.Direction)
	stored.Caller = receipt.Caller
	stored.Recipient = receipt.Recipient
	if receipt.AmountIn != nil {
		stored.AmountIn = receipt.AmountIn.String()
	}
	if receipt.AmountOut != nil {
		stored.AmountOut = receipt.AmountOut.String()
	}
	stored.Rate = strings.TrimSpace(receipt.Rate)
	if receipt.ObservedAt > 0 {
		stored.ObservedAt = uint64(receipt.ObservedAt)
	}
	return stored
}

func fromStoredSwap(stored *storedSwapReceipt) (*SwapReceipt, error) {
	if stored == nil {
		return nil, fmt.Errorf("swap ledger: nil stored receipt")
	}
	observed := int64(stored.ObservedAt)
	if observed < 0 {
		return nil, fmt.Errorf("swap ledger: observedAt overflow")
	}
	receipt := &SwapReceipt{
		ReceiptID:  stored.ReceiptID,
		Direction:  SwapDirection(stored.Direction),
		Caller:     stored.Caller,
		Recipient:  stored.Recipient,
		Rate:       stored.Rate,
		ObservedAt: observed,
	}
	var err error
	if receipt.AmountIn, err = parseStoredAmount(stored.AmountIn); err != nil {
		return nil, err
	}
	if receipt.AmountOut, err = parseStoredAmount(stored.AmountOut); err != nil {
		return nil, err
	}
	return receipt, nil
}

func parseStoredAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("swap ledger: invalid amount %q", value)
	}
	return amount, nil
}
