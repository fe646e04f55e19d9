package psm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"pegstable/core/events"
)

var (
	// ErrRedeemNotActive indicates a bare native-currency send reached the
	// router while its fallback receiver is disabled.
	ErrRedeemNotActive = errors.New("psm: router redeem not active")
	// ErrNativeTransferFailed indicates the recipient rejected the native
	// payout at the end of a router redemption.
	ErrNativeTransferFailed = errors.New("psm: native transfer failed")
)

// maxAllowance is the sentinel infinite approval granted once at router
// construction and never decremented.
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Router fronts a single stability module for callers holding the bare
// native currency: it wraps on the way in and unwraps on the way out, so
// users never touch the reserve token directly. No native value remains in
// the router after a call.
type Router struct {
	mu           sync.Mutex
	state        State
	module       *PegStabilityModule
	wrapped      *WrappedNative
	addr         [20]byte
	emitter      events.Emitter
	redeemActive bool
	accepting    bool
}

// NewRouter wires the router to its module and wrapper and grants the
// module a one-time infinite allowance over both the issued token and the
// wrapped reserve, so swap pulls never fail on approvals.
func NewRouter(store State, module *PegStabilityModule, wrapped *WrappedNative, addr [20]byte, redeemActive bool) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("psm: router state required")
	}
	if module == nil {
		return nil, fmt.Errorf("psm: router module required")
	}
	if wrapped == nil {
		return nil, fmt.Errorf("psm: router wrapper required")
	}
	if wrapped.Symbol() != module.ReserveSymbol() {
		return nil, fmt.Errorf("psm: wrapper symbol %s does not match reserve %s", wrapped.Symbol(), module.ReserveSymbol())
	}
	r := &Router{
		state:        store,
		module:       module,
		wrapped:      wrapped,
		addr:         addr,
		emitter:      events.NoopEmitter{},
		redeemActive: redeemActive,
	}
	if err := store.Approve(module.IssuedSymbol(), addr, module.ModuleAddress(), maxAllowance); err != nil {
		return nil, err
	}
	if err := store.Approve(module.ReserveSymbol(), addr, module.ModuleAddress(), maxAllowance); err != nil {
		return nil, err
	}
	return r, nil
}

// SetEmitter wires the event sink for redeem-active toggles.
func (r *Router) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Address returns the router's account address.
func (r *Router) Address() [20]byte { return r.addr }

// RedeemActive reports whether the fallback receiver accepts bare sends.
func (r *Router) RedeemActive() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redeemActive
}

// SetRedeemActive toggles the fallback receiver. Admin only.
func (r *Router) SetRedeemActive(caller [20]byte, active bool) error {
	if r == nil {
		return fmt.Errorf("psm: router not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.HasRole(RolePSMAdmin, caller[:]) {
		return ErrUnauthorized
	}
	r.redeemActive = active
	r.emitter.Emit(events.RouterRedeemToggled{Caller: caller, Active: active})
	return nil
}

// OnNativeTransfer implements the native receiver hook. Value is accepted
// while the router is mid-operation or when it arrives from the wrapper
// (unwrap proceeds); bare sends require the redeem-active gate.
func (r *Router) OnNativeTransfer(from [20]byte, amount *big.Int) error {
	if r == nil {
		return fmt.Errorf("psm: router not initialised")
	}
	if r.accepting || from == r.wrapped.ModuleAddress() {
		return nil
	}
	if !r.redeemActive {
		return ErrRedeemNotActive
	}
	return nil
}

// Mint pulls native value from the caller, wraps it, and forwards the
// wrapped reserve to the module, issuing tokens to the recipient. Failure
// at any step leaves state untouched.
func (r *Router) Mint(caller, to [20]byte, value, minAmountOut *big.Int, deadline int64) (*SwapReceipt, error) {
	if r == nil {
		return nil, fmt.Errorf("psm: router not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	checked, err := ensurePositiveAmount(value)
	if err != nil {
		return nil, fmt.Errorf("psm: router mint: %w", err)
	}
	if err := r.module.deadlineExceeded(deadline); err != nil {
		return nil, err
	}
	snapshot := r.state.Snapshot()
	r.accepting = true
	defer func() { r.accepting = false }()
	if err := r.state.TransferNative(caller, r.addr, checked); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := r.wrapped.Deposit(r.addr, checked); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	receipt, err := r.module.Mint(r.addr, to, checked, minAmountOut, deadline)
	if err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	return receipt, nil
}

// Redeem pulls issued tokens from the caller (who must have approved the
// router), redeems them for the wrapped reserve, unwraps, and pays native
// value to the recipient last. A rejected payout fails the whole call.
func (r *Router) Redeem(caller, to [20]byte, amountIn, minAmountOut *big.Int, deadline int64) (*SwapReceipt, error) {
	if r == nil {
		return nil, fmt.Errorf("psm: router not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	checked, err := ensurePositiveAmount(amountIn)
	if err != nil {
		return nil, fmt.Errorf("psm: router redeem: %w", err)
	}
	if err := r.module.deadlineExceeded(deadline); err != nil {
		return nil, err
	}
	snapshot := r.state.Snapshot()
	r.accepting = true
	defer func() { r.accepting = false }()
	if err := r.state.TransferFrom(r.module.IssuedSymbol(), r.addr, caller, r.addr, checked); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	receipt, err := r.module.Redeem(r.addr, r.addr, checked, minAmountOut, deadline)
	if err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	out := receipt.AmountOut
	if out.Sign() > 0 {
		if err := r.wrapped.Withdraw(r.addr, out); err != nil {
			r.state.RevertToSnapshot(snapshot)
			return nil, err
		}
		// The recipient is paid last; its rejection must unwind the
		// pulled tokens and the burn.
		r.accepting = false
		if err := r.state.TransferNative(r.addr, to, out); err != nil {
			r.state.RevertToSnapshot(snapshot)
			return nil, fmt.Errorf("%w: %v", ErrNativeTransferFailed, err)
		}
	}
	return receipt, nil
}
