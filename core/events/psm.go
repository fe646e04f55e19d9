package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

const (
	// TypePegMinted is emitted when the stability module issues tokens
	// against a reserve deposit.
	TypePegMinted = "psm.minted"
	// TypePegRedeemed is emitted when issued tokens are burned for reserves.
	TypePegRedeemed = "psm.redeemed"
	// TypePegSwapFailed is emitted when a mint or redeem is rejected before
	// settlement.
	TypePegSwapFailed = "psm.swap_failed"
	// TypePSMParamUpdated is emitted when a privileged setter changes module
	// configuration.
	TypePSMParamUpdated = "psm.param_updated"
	// TypeRouterRedeemToggled is emitted when the router's redeem gate flips.
	TypeRouterRedeemToggled = "psm.router_redeem_toggled"
)

func formatAddr(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// PegMinted captures a completed mint through the stability module.
type PegMinted struct {
	ReceiptID string
	Caller    [20]byte
	Recipient [20]byte
	AmountIn  *big.Int
	AmountOut *big.Int
	Rate      string
}

func (PegMinted) EventType() string { return TypePegMinted }

func (e PegMinted) Payload() *Payload {
	return &Payload{
		Type: TypePegMinted,
		Attributes: map[string]string{
			"receiptId": strings.TrimSpace(e.ReceiptID),
			"caller":    formatAddr(e.Caller),
			"recipient": formatAddr(e.Recipient),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
			"rate":      strings.TrimSpace(e.Rate),
		},
	}
}

// PegRedeemed captures a completed redemption through the stability module.
type PegRedeemed struct {
	ReceiptID string
	Caller    [20]byte
	Recipient [20]byte
	AmountIn  *big.Int
	AmountOut *big.Int
	Rate      string
}

func (PegRedeemed) EventType() string { return TypePegRedeemed }

func (e PegRedeemed) Payload() *Payload {
	return &Payload{
		Type: TypePegRedeemed,
		Attributes: map[string]string{
			"receiptId": strings.TrimSpace(e.ReceiptID),
			"caller":    formatAddr(e.Caller),
			"recipient": formatAddr(e.Recipient),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
			"rate":      strings.TrimSpace(e.Rate),
		},
	}
}

// PegSwapFailed records a mint or redeem rejected before any value moved.
type PegSwapFailed struct {
	Direction string
	Reason    string
}

func (PegSwapFailed) EventType() string { return TypePegSwapFailed }

func (e PegSwapFailed) Payload() *Payload {
	return &Payload{
		Type: TypePegSwapFailed,
		Attributes: map[string]string{
			"direction": strings.TrimSpace(e.Direction),
			"reason":    strings.TrimSpace(e.Reason),
		},
	}
}

// PSMParamUpdated records a privileged configuration change.
type PSMParamUpdated struct {
	Caller [20]byte
	Param  string
	Value  string
}

func (PSMParamUpdated) EventType() string { return TypePSMParamUpdated }

func (e PSMParamUpdated) Payload() *Payload {
	return &Payload{
		Type: TypePSMParamUpdated,
		Attributes: map[string]string{
			"caller": formatAddr(e.Caller),
			"param":  strings.TrimSpace(e.Param),
			"value":  strings.TrimSpace(e.Value),
		},
	}
}

// RouterRedeemToggled records the router's redeem gate changing state.
type RouterRedeemToggled struct {
	Caller [20]byte
	Active bool
}

func (RouterRedeemToggled) EventType() string { return TypeRouterRedeemToggled }

func (e RouterRedeemToggled) Payload() *Payload {
	return &Payload{
		Type: TypeRouterRedeemToggled,
		Attributes: map[string]string{
			"caller": formatAddr(e.Caller),
			"active": strconv.FormatBool(e.Active),
		},
	}
}
