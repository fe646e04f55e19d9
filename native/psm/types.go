package psm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// ModuleName identifies the stability module to the operator switchboard.
const ModuleName = "psm"

// RolePSMAdmin gates the privileged setters. Role storage and membership
// live in the external authorization collaborator; the module only queries.
const RolePSMAdmin = "ROLE_PSM_ADMIN"

// bpsGranularity is the fee denominator: fees are expressed in basis points
// out of 10000 and are always taken from the output side of a swap.
const bpsGranularity = 10_000

// State is the narrow view of engine state the stability module requires:
// role membership, the generic key-value facade, token movement, and the
// snapshot journal providing per-call atomicity.
type State interface {
	HasRole(role string, addr []byte) bool

	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error

	Balance(addr [20]byte, symbol string) (*big.Int, error)
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
	Approve(symbol string, owner, spender [20]byte, amount *big.Int) error
	Allowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	Mint(symbol string, to [20]byte, amount *big.Int) error
	Burn(symbol string, from [20]byte, amount *big.Int) error

	NativeBalance(addr [20]byte) (*big.Int, error)
	TransferNative(from, to [20]byte, amount *big.Int) error

	Snapshot() int
	RevertToSnapshot(rev int)
}

// SwapDirection distinguishes the two sides of the peg swap.
type SwapDirection string

const (
	// DirectionMint records reserve-in, issued-token-out swaps.
	DirectionMint SwapDirection = "mint"
	// DirectionRedeem records issued-token-in, reserve-out swaps.
	DirectionRedeem SwapDirection = "redeem"
)

// SwapReceipt is the audit record persisted for every completed swap.
type SwapReceipt struct {
	ReceiptID  string
	Direction  SwapDirection
	Caller     [20]byte
	Recipient  [20]byte
	AmountIn   *big.Int
	AmountOut  *big.Int
	Rate       string
	ObservedAt int64
}

// Copy returns a deep copy of the receipt for defensive use by callers.
func (r *SwapReceipt) Copy() *SwapReceipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(r.AmountIn)
	}
	if r.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(r.AmountOut)
	}
	return &clone
}

// ParseAddress decodes a 0x-prefixed or bare hex account identifier.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("psm: invalid address %q: %w", value, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("psm: invalid address length %d", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func ensurePositiveAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount required")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return new(big.Int).Set(amount), nil
}
