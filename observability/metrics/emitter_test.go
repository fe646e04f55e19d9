package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"pegstable/core/events"
)

type recordingSink struct {
	seen []events.Event
}

func (s *recordingSink) Emit(evt events.Event) {
	s.seen = append(s.seen, evt)
}

func TestSwapEmitterCountsCompletedSwaps(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewSwapEmitter(sink)

	before := testutil.ToFloat64(PSM().swaps.WithLabelValues("mint"))
	emitter.Emit(events.PegMinted{ReceiptID: "r1", AmountIn: big.NewInt(1), AmountOut: big.NewInt(4985)})

	require.Equal(t, before+1, testutil.ToFloat64(PSM().swaps.WithLabelValues("mint")))
	require.Len(t, sink.seen, 1)
}

func TestSwapEmitterCountsRejectedSwaps(t *testing.T) {
	sink := &recordingSink{}
	emitter := NewSwapEmitter(sink)

	before := testutil.ToFloat64(PSM().swapFailures.WithLabelValues("mint", "slippage"))
	emitter.Emit(events.PegSwapFailed{Direction: "mint", Reason: "slippage"})
	emitter.Emit(events.PegSwapFailed{Direction: "mint", Reason: "slippage"})

	require.Equal(t, before+2, testutil.ToFloat64(PSM().swapFailures.WithLabelValues("mint", "slippage")))
	require.Len(t, sink.seen, 2)
}
