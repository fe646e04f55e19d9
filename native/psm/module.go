package psm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"pegstable/core/events"
	"pegstable/native/common"
)

var (
	// ErrSlippageExceeded indicates the quoted output fell below the
	// caller's minimum.
	ErrSlippageExceeded = errors.New("psm: slippage exceeded")
	// ErrOrderExpired indicates the call arrived after its deadline.
	ErrOrderExpired = errors.New("psm: order expired")
	// ErrInsufficientReserves indicates custody is below the redemption
	// threshold or cannot cover the requested payout.
	ErrInsufficientReserves = errors.New("psm: insufficient reserves")
	// ErrUnauthorized indicates the caller lacks the admin role required
	// by a privileged setter.
	ErrUnauthorized = errors.New("psm: caller not authorized")
)

// PegStabilityModule prices mint and redeem swaps between the reserve asset
// and the issued token against an oracle, taking an output-side fee and
// throttling net new issuance through a rate-limited budget.
type PegStabilityModule struct {
	mu      sync.RWMutex
	state   State
	oracle  *OracleAdapter
	budget  *RateLimitedBudget
	ledger  *SwapLedger
	pauses  common.PauseView
	emitter events.Emitter
	clock   func() time.Time

	reserveSymbol     string
	issuedSymbol      string
	moduleAddr        [20]byte
	mintFeeBps        uint64
	redeemFeeBps      uint64
	reservesThreshold *big.Int
}

// New constructs the module from runtime parameters. The oracle adapter is
// supplied by the caller; the mint budget is derived from the parameters.
func New(store State, oracle *OracleAdapter, params Params) (*PegStabilityModule, error) {
	if store == nil {
		return nil, fmt.Errorf("psm: state required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("psm: oracle adapter required")
	}
	if params.MintFeeBps >= bpsGranularity || params.RedeemFeeBps >= bpsGranularity {
		return nil, fmt.Errorf("psm: fee must be below %d bps", bpsGranularity)
	}
	threshold := params.ReservesThreshold
	if threshold == nil {
		threshold = big.NewInt(0)
	}
	if threshold.Sign() < 0 {
		return nil, fmt.Errorf("psm: reserves threshold must not be negative")
	}
	budget, err := NewRateLimitedBudget(store, valueOrZero(params.BufferCap), valueOrZero(params.ReplenishRate))
	if err != nil {
		return nil, err
	}
	return &PegStabilityModule{
		state:             store,
		oracle:            oracle,
		budget:            budget,
		ledger:            NewSwapLedger(store),
		emitter:           events.NoopEmitter{},
		clock:             time.Now,
		reserveSymbol:     params.ReserveSymbol,
		issuedSymbol:      params.IssuedSymbol,
		moduleAddr:        params.ModuleAddress,
		mintFeeBps:        params.MintFeeBps,
		redeemFeeBps:      params.RedeemFeeBps,
		reservesThreshold: new(big.Int).Set(threshold),
	}, nil
}

// SetEmitter wires the event sink consuming mint/redeem notifications.
func (m *PegStabilityModule) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetPauses wires the operator switchboard consulted before every swap.
func (m *PegStabilityModule) SetPauses(pauses common.PauseView) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses = pauses
}

// SetClock overrides the time source used for deadline checks.
func (m *PegStabilityModule) SetClock(clock func() time.Time) {
	if m == nil || clock == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	m.budget.SetClock(clock)
	m.ledger.SetClock(clock)
	m.oracle.SetClock(clock)
}

// ModuleAddress returns the custody address holding the reserve.
func (m *PegStabilityModule) ModuleAddress() [20]byte {
	return m.moduleAddr
}

// ReserveSymbol returns the reserve asset symbol.
func (m *PegStabilityModule) ReserveSymbol() string { return m.reserveSymbol }

// IssuedSymbol returns the issued token symbol.
func (m *PegStabilityModule) IssuedSymbol() string { return m.issuedSymbol }

// Ledger exposes the swap receipt audit trail.
func (m *PegStabilityModule) Ledger() *SwapLedger { return m.ledger }

func valueOrZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return amount
}

// floorRat truncates a non-negative rational to its integer part.
func floorRat(value *big.Rat) *big.Int {
	return new(big.Int).Quo(value.Num(), value.Denom())
}

func applyOutputFee(value *big.Rat, feeBps uint64) *big.Rat {
	retained := new(big.Rat).SetFrac64(int64(bpsGranularity-feeBps), bpsGranularity)
	return new(big.Rat).Mul(value, retained)
}

func (m *PegStabilityModule) quoteMint(amountIn *big.Int) (*big.Int, *big.Rat, error) {
	price, err := m.oracle.Price()
	if err != nil {
		return nil, nil, err
	}
	gross := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), price)
	return floorRat(applyOutputFee(gross, m.mintFeeBps)), price, nil
}

func (m *PegStabilityModule) quoteRedeem(amountIn *big.Int) (*big.Int, *big.Rat, error) {
	price, err := m.oracle.Price()
	if err != nil {
		return nil, nil, err
	}
	gross := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), new(big.Rat).Inv(price))
	return floorRat(applyOutputFee(gross, m.redeemFeeBps)), price, nil
}

// GetMintAmountOut quotes the issued-token output for a reserve input. The
// fee is taken from the output side and the result rounds down.
func (m *PegStabilityModule) GetMintAmountOut(amountIn *big.Int) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	checked, err := ensurePositiveAmount(amountIn)
	if err != nil {
		return nil, fmt.Errorf("psm: mint quote: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, _, err := m.quoteMint(checked)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRedeemAmountOut quotes the reserve output for an issued-token input.
func (m *PegStabilityModule) GetRedeemAmountOut(amountIn *big.Int) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	checked, err := ensurePositiveAmount(amountIn)
	if err != nil {
		return nil, fmt.Errorf("psm: redeem quote: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, _, err := m.quoteRedeem(checked)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMaxMintAmountOut reports the currently available mint budget.
func (m *PegStabilityModule) GetMaxMintAmountOut() (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	return m.budget.Buffer()
}

// GetMaxRedeemAmountOut reports the reserve amount redemptions can draw on:
// the full custody balance, or zero while custody sits below the reserves
// threshold.
func (m *PegStabilityModule) GetMaxRedeemAmountOut() (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.redeemableCustody()
}

func (m *PegStabilityModule) redeemableCustody() (*big.Int, error) {
	custody, err := m.state.Balance(m.moduleAddr, m.reserveSymbol)
	if err != nil {
		return nil, err
	}
	if custody.Cmp(m.reservesThreshold) < 0 {
		return big.NewInt(0), nil
	}
	return custody, nil
}

// failureReason maps a rejection to the stable label carried on failure
// events and metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrOrderExpired):
		return "expired"
	case errors.Is(err, ErrInvalidOracle):
		return "invalid_oracle"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrInsufficientReserves):
		return "insufficient_reserves"
	default:
		return "other"
	}
}

func (m *PegStabilityModule) emitSwapFailed(direction SwapDirection, err error) {
	m.emitter.Emit(events.PegSwapFailed{Direction: string(direction), Reason: failureReason(err)})
}

func (m *PegStabilityModule) checkDeadline(deadline int64) error {
	if deadline <= 0 {
		return nil
	}
	if m.clock().UTC().Unix() > deadline {
		return ErrOrderExpired
	}
	return nil
}

// deadlineExceeded lets front-ends fail an expired order before moving any
// value toward the module.
func (m *PegStabilityModule) deadlineExceeded(deadline int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkDeadline(deadline)
}

// Mint pulls amountIn of the reserve asset from the caller into custody and
// issues the quoted token amount to the recipient. The caller must have
// approved the module for the reserve amount. Failure at any step leaves
// state untouched.
func (m *PegStabilityModule) Mint(caller, to [20]byte, amountIn, minAmountOut *big.Int, deadline int64) (receipt *SwapReceipt, err error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if err != nil {
			m.emitSwapFailed(DirectionMint, err)
		}
	}()
	if err := common.Guard(m.pauses, ModuleName); err != nil {
		return nil, err
	}
	checked, err := ensurePositiveAmount(amountIn)
	if err != nil {
		return nil, fmt.Errorf("psm: mint: %w", err)
	}
	if err := m.checkDeadline(deadline); err != nil {
		return nil, err
	}
	out, price, err := m.quoteMint(checked)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, ErrSlippageExceeded
	}
	snapshot := m.state.Snapshot()
	receipt, err = m.executeMint(caller, to, checked, out, price)
	if err != nil {
		m.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	m.emitter.Emit(events.PegMinted{
		ReceiptID: receipt.ReceiptID,
		Caller:    caller,
		Recipient: to,
		AmountIn:  receipt.AmountIn,
		AmountOut: receipt.AmountOut,
		Rate:      receipt.Rate,
	})
	return receipt, nil
}

func (m *PegStabilityModule) executeMint(caller, to [20]byte, amountIn, out *big.Int, price *big.Rat) (*SwapReceipt, error) {
	if err := m.state.TransferFrom(m.reserveSymbol, m.moduleAddr, caller, m.moduleAddr, amountIn); err != nil {
		return nil, err
	}
	if out.Sign() > 0 {
		if err := m.budget.Consume(out); err != nil {
			return nil, err
		}
		if err := m.state.Mint(m.issuedSymbol, to, out); err != nil {
			return nil, err
		}
	}
	return m.ledger.Record(&SwapReceipt{
		Direction: DirectionMint,
		Caller:    caller,
		Recipient: to,
		AmountIn:  amountIn,
		AmountOut: out,
		Rate:      price.RatString(),
	})
}

// Redeem pulls amountIn of the issued token from the caller, burns it, and
// pays the quoted reserve amount to the recipient from custody. Redemption
// requires the pre-redeem custody balance to meet the reserves threshold
// and is not rate limited. Failure at any step leaves state untouched.
func (m *PegStabilityModule) Redeem(caller, to [20]byte, amountIn, minAmountOut *big.Int, deadline int64) (receipt *SwapReceipt, err error) {
	if m == nil {
		return nil, fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if err != nil {
			m.emitSwapFailed(DirectionRedeem, err)
		}
	}()
	if err := common.Guard(m.pauses, ModuleName); err != nil {
		return nil, err
	}
	checked, err := ensurePositiveAmount(amountIn)
	if err != nil {
		return nil, fmt.Errorf("psm: redeem: %w", err)
	}
	if err := m.checkDeadline(deadline); err != nil {
		return nil, err
	}
	out, price, err := m.quoteRedeem(checked)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, ErrSlippageExceeded
	}
	snapshot := m.state.Snapshot()
	receipt, err = m.executeRedeem(caller, to, checked, out, price)
	if err != nil {
		m.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	m.emitter.Emit(events.PegRedeemed{
		ReceiptID: receipt.ReceiptID,
		Caller:    caller,
		Recipient: to,
		AmountIn:  receipt.AmountIn,
		AmountOut: receipt.AmountOut,
		Rate:      receipt.Rate,
	})
	return receipt, nil
}

func (m *PegStabilityModule) executeRedeem(caller, to [20]byte, amountIn, out *big.Int, price *big.Rat) (*SwapReceipt, error) {
	custody, err := m.state.Balance(m.moduleAddr, m.reserveSymbol)
	if err != nil {
		return nil, err
	}
	// Both gates are judged on the pre-redeem custody balance.
	if custody.Cmp(m.reservesThreshold) < 0 {
		return nil, ErrInsufficientReserves
	}
	if out.Cmp(custody) > 0 {
		return nil, ErrInsufficientReserves
	}
	if err := m.state.TransferFrom(m.issuedSymbol, m.moduleAddr, caller, m.moduleAddr, amountIn); err != nil {
		return nil, err
	}
	if err := m.state.Burn(m.issuedSymbol, m.moduleAddr, amountIn); err != nil {
		return nil, err
	}
	receipt, err := m.ledger.Record(&SwapReceipt{
		Direction: DirectionRedeem,
		Caller:    caller,
		Recipient: to,
		AmountIn:  amountIn,
		AmountOut: out,
		Rate:      price.RatString(),
	})
	if err != nil {
		return nil, err
	}
	// Reserve leaves custody last so a failed payout cannot strand a
	// partially settled redemption.
	if out.Sign() > 0 {
		if err := m.state.Transfer(m.reserveSymbol, m.moduleAddr, to, out); err != nil {
			return nil, err
		}
	}
	return receipt, nil
}

func (m *PegStabilityModule) requireAdmin(caller [20]byte) error {
	if !m.state.HasRole(RolePSMAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

func (m *PegStabilityModule) emitParamUpdate(caller [20]byte, param, value string) {
	m.emitter.Emit(events.PSMParamUpdated{Caller: caller, Param: param, Value: value})
}

// SetMintFee updates the mint fee. Admin only; the fee must stay below
// 10000 bps.
func (m *PegStabilityModule) SetMintFee(caller [20]byte, bps uint64) error {
	if m == nil {
		return fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if bps >= bpsGranularity {
		return fmt.Errorf("psm: mint fee must be below %d bps", bpsGranularity)
	}
	m.mintFeeBps = bps
	m.emitParamUpdate(caller, "mintFeeBps", fmt.Sprintf("%d", bps))
	return nil
}

// SetRedeemFee updates the redeem fee. Admin only; the fee must stay below
// 10000 bps.
func (m *PegStabilityModule) SetRedeemFee(caller [20]byte, bps uint64) error {
	if m == nil {
		return fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if bps >= bpsGranularity {
		return fmt.Errorf("psm: redeem fee must be below %d bps", bpsGranularity)
	}
	m.redeemFeeBps = bps
	m.emitParamUpdate(caller, "redeemFeeBps", fmt.Sprintf("%d", bps))
	return nil
}

// SetReservesThreshold updates the custody floor gating redemption. Admin
// only.
func (m *PegStabilityModule) SetReservesThreshold(caller [20]byte, threshold *big.Int) error {
	if m == nil {
		return fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 {
		return fmt.Errorf("psm: reserves threshold must not be negative")
	}
	m.reservesThreshold = new(big.Int).Set(threshold)
	m.emitParamUpdate(caller, "reservesThreshold", threshold.String())
	return nil
}

// SetOracle swaps the primary and backup price feeds. Admin only.
func (m *PegStabilityModule) SetOracle(caller [20]byte, primary, backup PriceOracle) error {
	if m == nil {
		return fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if primary == nil {
		return fmt.Errorf("psm: primary oracle required")
	}
	m.oracle.SetOracles(primary, backup)
	m.emitParamUpdate(caller, "oracle", "rotated")
	return nil
}

// SetBudgetParams updates the mint budget's cap and replenish rate. Admin
// only.
func (m *PegStabilityModule) SetBudgetParams(caller [20]byte, bufferCap, ratePerSecond *big.Int) error {
	if m == nil {
		return fmt.Errorf("psm: module not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireAdmin(caller); err != nil {
		return err
	}
	if err := m.budget.SetParams(bufferCap, ratePerSecond); err != nil {
		return err
	}
	m.emitParamUpdate(caller, "budget", fmt.Sprintf("cap=%s rate=%s", bufferCap, ratePerSecond))
	return nil
}

// Status is a read-only snapshot of the module for operational surfaces.
type Status struct {
	ReserveSymbol     string   `json:"reserveSymbol"`
	IssuedSymbol      string   `json:"issuedSymbol"`
	MintFeeBps        uint64   `json:"mintFeeBps"`
	RedeemFeeBps      uint64   `json:"redeemFeeBps"`
	ReservesThreshold *big.Int `json:"reservesThreshold"`
	CustodyBalance    *big.Int `json:"custodyBalance"`
	BudgetBuffer      *big.Int `json:"budgetBuffer"`
	BudgetCap         *big.Int `json:"budgetCap"`
	MaxRedeemable     *big.Int `json:"maxRedeemable"`
	Price             string   `json:"price"`
	RedeemAvailable   bool     `json:"redeemAvailable"`
}

// Status reports fees, custody, budget headroom, and the current price. A
// stale or invalid oracle is reported as an empty price rather than an
// error so operators can still see the rest.
func (m *PegStabilityModule) Status() (Status, error) {
	if m == nil {
		return Status{}, fmt.Errorf("psm: module not initialised")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	custody, err := m.state.Balance(m.moduleAddr, m.reserveSymbol)
	if err != nil {
		return Status{}, err
	}
	buffer, err := m.budget.Buffer()
	if err != nil {
		return Status{}, err
	}
	redeemable, err := m.redeemableCustody()
	if err != nil {
		return Status{}, err
	}
	status := Status{
		ReserveSymbol:     m.reserveSymbol,
		IssuedSymbol:      m.issuedSymbol,
		MintFeeBps:        m.mintFeeBps,
		RedeemFeeBps:      m.redeemFeeBps,
		ReservesThreshold: new(big.Int).Set(m.reservesThreshold),
		CustodyBalance:    custody,
		BudgetBuffer:      buffer,
		BudgetCap:         m.budget.BufferCap(),
		MaxRedeemable:     redeemable,
		RedeemAvailable:   custody.Cmp(m.reservesThreshold) >= 0,
	}
	if price, err := m.oracle.Price(); err == nil {
		status.Price = price.RatString()
	}
	return status, nil
}
