package psm

import (
	"fmt"
	"math/big"
)

// WrappedNative converts between the native currency and its token form at
// par. The wrapper holds incoming native value at its own module address
// and mints an equal token balance to the depositor.
type WrappedNative struct {
	state  State
	symbol string
	addr   [20]byte
}

// NewWrappedNative binds the wrapper to its token symbol and custody
// address.
func NewWrappedNative(store State, symbol string, addr [20]byte) (*WrappedNative, error) {
	if store == nil {
		return nil, fmt.Errorf("psm: wrapped native state required")
	}
	if symbol == "" {
		return nil, fmt.Errorf("psm: wrapped native symbol required")
	}
	return &WrappedNative{state: store, symbol: symbol, addr: addr}, nil
}

// Symbol returns the wrapped token symbol.
func (w *WrappedNative) Symbol() string { return w.symbol }

// ModuleAddress returns the wrapper's custody address. Native payouts from
// this address are unwrap proceeds.
func (w *WrappedNative) ModuleAddress() [20]byte { return w.addr }

// Deposit converts amount of the caller's native balance into wrapped
// tokens, one for one.
func (w *WrappedNative) Deposit(from [20]byte, amount *big.Int) error {
	if w == nil {
		return fmt.Errorf("psm: wrapped native not initialised")
	}
	checked, err := ensurePositiveAmount(amount)
	if err != nil {
		return fmt.Errorf("psm: deposit: %w", err)
	}
	if err := w.state.TransferNative(from, w.addr, checked); err != nil {
		return err
	}
	return w.state.Mint(w.symbol, from, checked)
}

// Withdraw burns amount of the caller's wrapped tokens and pays out the
// equivalent native value. The payout fails when the recipient rejects it.
func (w *WrappedNative) Withdraw(from [20]byte, amount *big.Int) error {
	if w == nil {
		return fmt.Errorf("psm: wrapped native not initialised")
	}
	checked, err := ensurePositiveAmount(amount)
	if err != nil {
		return fmt.Errorf("psm: withdraw: %w", err)
	}
	if err := w.state.Burn(w.symbol, from, checked); err != nil {
		return err
	}
	return w.state.TransferNative(w.addr, from, checked)
}
