package psm

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

type rejectingReceiver struct{}

func (rejectingReceiver) OnNativeTransfer(from [20]byte, amount *big.Int) error {
	return fmt.Errorf("recipient refuses value")
}

func (env *testEnv) fundNative(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := env.manager.SetNativeBalance(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("fund native: %v", err)
	}
}

// seedRedeemable stocks module custody with reserve tokens backed by native
// value at the wrapper, so redemptions can unwrap.
func (env *testEnv) seedRedeemable(t *testing.T, amount int64) {
	t.Helper()
	env.fundReserve(t, moduleAddr, amount)
	env.fundNative(t, wrappedAddr, amount)
}

func TestRouterMintWrapsAndForwards(t *testing.T) {
	env := newTestEnv(t)
	env.fundNative(t, userAddr, 1000)

	receipt, err := env.router.Mint(userAddr, recipientAddr, big.NewInt(1000), nil, 0)
	if err != nil {
		t.Fatalf("router mint: %v", err)
	}
	if receipt.AmountOut.Int64() != 4_985_000 {
		t.Fatalf("out = %s, want 4985000", receipt.AmountOut)
	}
	if got := env.balance(t, recipientAddr, "PEG"); got.Int64() != 4_985_000 {
		t.Fatalf("recipient = %s, want 4985000", got)
	}
	if got := env.nativeBalance(t, userAddr); got.Sign() != 0 {
		t.Fatalf("user native = %s, want 0", got)
	}
	if got := env.nativeBalance(t, routerAddr); got.Sign() != 0 {
		t.Fatalf("router retained native value: %s", got)
	}
	if got := env.nativeBalance(t, wrappedAddr); got.Int64() != 1000 {
		t.Fatalf("wrapper backing = %s, want 1000", got)
	}
	if got := env.balance(t, moduleAddr, "WNAT"); got.Int64() != 1000 {
		t.Fatalf("custody = %s, want 1000", got)
	}
}

func TestRouterRedeemUnwrapsAndPaysRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.seedRedeemable(t, 10_000_000)
	env.fundIssued(t, userAddr, 10_000_000)
	env.approve(t, "PEG", userAddr, routerAddr, 10_000_000)

	receipt, err := env.router.Redeem(userAddr, recipientAddr, big.NewInt(10_000_000), nil, 0)
	if err != nil {
		t.Fatalf("router redeem: %v", err)
	}
	if receipt.AmountOut.Int64() != 1994 {
		t.Fatalf("out = %s, want 1994", receipt.AmountOut)
	}
	if got := env.nativeBalance(t, recipientAddr); got.Int64() != 1994 {
		t.Fatalf("recipient native = %s, want 1994", got)
	}
	if got := env.balance(t, userAddr, "PEG"); got.Sign() != 0 {
		t.Fatalf("user still holds issued tokens: %s", got)
	}
	if got := env.nativeBalance(t, routerAddr); got.Sign() != 0 {
		t.Fatalf("router retained native value: %s", got)
	}
	if got := env.balance(t, routerAddr, "WNAT"); got.Sign() != 0 {
		t.Fatalf("router retained wrapped value: %s", got)
	}
}

func TestRouterRedeemRejectedPayoutReverts(t *testing.T) {
	env := newTestEnv(t)
	env.seedRedeemable(t, 10_000_000)
	env.fundIssued(t, userAddr, 10_000_000)
	env.approve(t, "PEG", userAddr, routerAddr, 10_000_000)
	env.manager.RegisterNativeReceiver(recipientAddr, rejectingReceiver{})

	_, err := env.router.Redeem(userAddr, recipientAddr, big.NewInt(10_000_000), nil, 0)
	if !errors.Is(err, ErrNativeTransferFailed) {
		t.Fatalf("expected ErrNativeTransferFailed, got %v", err)
	}
	if got := env.balance(t, userAddr, "PEG"); got.Int64() != 10_000_000 {
		t.Fatalf("issued tokens not restored: %s", got)
	}
	if got := env.balance(t, moduleAddr, "WNAT"); got.Int64() != 10_000_000 {
		t.Fatalf("custody not restored: %s", got)
	}
	if got := env.nativeBalance(t, recipientAddr); got.Sign() != 0 {
		t.Fatalf("recipient received value despite rejection: %s", got)
	}
}

func TestRouterFallbackGatedByRedeemActive(t *testing.T) {
	env := newTestEnv(t)
	env.fundNative(t, userAddr, 100)

	err := env.manager.TransferNative(userAddr, routerAddr, big.NewInt(5))
	if !errors.Is(err, ErrRedeemNotActive) {
		t.Fatalf("expected ErrRedeemNotActive, got %v", err)
	}
	if got := env.nativeBalance(t, userAddr); got.Int64() != 100 {
		t.Fatalf("rejected send moved value: %s", got)
	}

	if err := env.router.SetRedeemActive(userAddr, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.router.SetRedeemActive(adminAddr, true); err != nil {
		t.Fatalf("set redeem active: %v", err)
	}
	if err := env.manager.TransferNative(userAddr, routerAddr, big.NewInt(5)); err != nil {
		t.Fatalf("send with redeem active: %v", err)
	}
}

func TestRouterRoundTripLosesValue(t *testing.T) {
	env := newTestEnv(t)
	if err := env.module.SetReservesThreshold(adminAddr, big.NewInt(0)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	env.fundNative(t, userAddr, 1000)

	minted, err := env.router.Mint(userAddr, userAddr, big.NewInt(1000), nil, 0)
	if err != nil {
		t.Fatalf("router mint: %v", err)
	}
	env.approve(t, "PEG", userAddr, routerAddr, minted.AmountOut.Int64())
	redeemed, err := env.router.Redeem(userAddr, userAddr, minted.AmountOut, nil, 0)
	if err != nil {
		t.Fatalf("router redeem: %v", err)
	}
	if redeemed.AmountOut.Int64() != 994 {
		t.Fatalf("expected 994 back, got %s", redeemed.AmountOut)
	}
	if got := env.nativeBalance(t, userAddr); got.Int64() != 994 {
		t.Fatalf("user native = %s, want 994", got)
	}
}

func TestRouterMintRequiresNativeBalance(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.router.Mint(userAddr, userAddr, big.NewInt(1000), nil, 0); err == nil {
		t.Fatalf("expected failure without native balance")
	}
	if got := env.balance(t, userAddr, "PEG"); got.Sign() != 0 {
		t.Fatalf("issued despite failure: %s", got)
	}
}

func TestRouterDeadlineCheckedBeforeTransfers(t *testing.T) {
	env := newTestEnv(t)
	expired := env.now.Unix() - 1

	// The caller holds no native balance; an expired order must still be
	// reported as expired rather than as a transfer failure.
	if _, err := env.router.Mint(userAddr, userAddr, big.NewInt(100), nil, expired); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("router mint: expected ErrOrderExpired, got %v", err)
	}
	// Likewise without any router approval on the redeem side.
	if _, err := env.router.Redeem(userAddr, userAddr, big.NewInt(100), nil, expired); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("router redeem: expected ErrOrderExpired, got %v", err)
	}
}
