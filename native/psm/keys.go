package psm

import "strings"

var (
	budgetKey       = []byte("psm/budget")
	receiptPrefix   = []byte("psm/receipt/")
	receiptIndexKey = []byte("psm/receipt/index")
)

func swapReceiptKey(receiptID string) []byte {
	trimmed := strings.TrimSpace(receiptID)
	buf := make([]byte, len(receiptPrefix)+len(trimmed))
	copy(buf, receiptPrefix)
	copy(buf[len(receiptPrefix):], trimmed)
	return buf
}
