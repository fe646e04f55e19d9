package metrics

import (
	"pegstable/core/events"
)

// SwapEmitter feeds swap events into the prometheus registry before handing
// them to the next sink in the chain.
type SwapEmitter struct {
	next events.Emitter
}

// NewSwapEmitter wraps the provided emitter; next may be nil.
func NewSwapEmitter(next events.Emitter) *SwapEmitter {
	return &SwapEmitter{next: next}
}

func (e *SwapEmitter) Emit(evt events.Event) {
	if e == nil {
		return
	}
	switch typed := evt.(type) {
	case events.PegMinted:
		PSM().ObserveSwap("mint", typed.AmountOut)
	case events.PegRedeemed:
		PSM().ObserveSwap("redeem", typed.AmountOut)
	case events.PegSwapFailed:
		PSM().ObserveSwapFailure(typed.Direction, typed.Reason)
	}
	if e.next != nil {
		e.next.Emit(evt)
	}
}
