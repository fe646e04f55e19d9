package psm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ErrRateLimitExceeded indicates the mint budget cannot cover the requested
// amount. Nothing is consumed; the caller should back off and retry after
// replenishment.
var ErrRateLimitExceeded = errors.New("psm: rate limit exceeded")

type storedBudget struct {
	Buffer     string
	LastUpdate uint64
}

// RateLimitedBudget is a token-bucket throttle on net new issuance. The
// buffer replenishes linearly up to bufferCap and is decremented by each
// consumption; a request beyond the materialized buffer fails outright and
// never blocks or queues.
type RateLimitedBudget struct {
	store         State
	bufferCap     *big.Int
	ratePerSecond *big.Int
	clock         func() time.Time
}

// NewRateLimitedBudget constructs a budget persisted through the provided
// state. The buffer starts full.
func NewRateLimitedBudget(store State, bufferCap, ratePerSecond *big.Int) (*RateLimitedBudget, error) {
	if store == nil {
		return nil, fmt.Errorf("psm: budget state required")
	}
	if bufferCap == nil || bufferCap.Sign() < 0 {
		return nil, fmt.Errorf("psm: buffer cap must not be negative")
	}
	if ratePerSecond == nil || ratePerSecond.Sign() < 0 {
		return nil, fmt.Errorf("psm: replenish rate must not be negative")
	}
	return &RateLimitedBudget{
		store:         store,
		bufferCap:     new(big.Int).Set(bufferCap),
		ratePerSecond: new(big.Int).Set(ratePerSecond),
		clock:         time.Now,
	}, nil
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (b *RateLimitedBudget) SetClock(clock func() time.Time) {
	if b == nil || clock == nil {
		return
	}
	b.clock = clock
}

// BufferCap returns the configured maximum instantaneous allowance.
func (b *RateLimitedBudget) BufferCap() *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b.bufferCap)
}

func (b *RateLimitedBudget) load() (*big.Int, uint64, bool, error) {
	var stored storedBudget
	ok, err := b.store.KVGet(budgetKey, &stored)
	if err != nil {
		return nil, 0, false, err
	}
	if !ok {
		return nil, 0, false, nil
	}
	trimmed := strings.TrimSpace(stored.Buffer)
	if trimmed == "" {
		return big.NewInt(0), stored.LastUpdate, true, nil
	}
	buffer, parsed := new(big.Int).SetString(trimmed, 10)
	if !parsed {
		return nil, 0, false, fmt.Errorf("psm: invalid stored buffer %q", stored.Buffer)
	}
	return buffer, stored.LastUpdate, true, nil
}

// materialize applies linear replenishment since the last update, capped at
// bufferCap. It always uses the current call's clock so the buffer never
// drifts across calls.
func (b *RateLimitedBudget) materialize(now time.Time) (*big.Int, error) {
	buffer, last, ok, err := b.load()
	if err != nil {
		return nil, err
	}
	if !ok {
		// Never touched: the bucket starts full.
		return new(big.Int).Set(b.bufferCap), nil
	}
	nowUnix := now.Unix()
	if nowUnix < 0 {
		nowUnix = 0
	}
	if uint64(nowUnix) > last && b.ratePerSecond.Sign() > 0 {
		elapsed := new(big.Int).SetUint64(uint64(nowUnix) - last)
		buffer.Add(buffer, elapsed.Mul(elapsed, b.ratePerSecond))
	}
	if buffer.Cmp(b.bufferCap) > 0 {
		buffer.Set(b.bufferCap)
	}
	return buffer, nil
}

// Buffer returns the currently available allowance without consuming it.
func (b *RateLimitedBudget) Buffer() (*big.Int, error) {
	if b == nil {
		return nil, fmt.Errorf("psm: budget not initialised")
	}
	return b.materialize(b.clock().UTC())
}

// Consume deducts amount from the materialized buffer, failing with
// ErrRateLimitExceeded when the buffer cannot cover it. There is no partial
// consumption.
func (b *RateLimitedBudget) Consume(amount *big.Int) error {
	if b == nil {
		return fmt.Errorf("psm: budget not initialised")
	}
	checked, err := ensurePositiveAmount(amount)
	if err != nil {
		return fmt.Errorf("psm: consume: %w", err)
	}
	now := b.clock().UTC()
	buffer, err := b.materialize(now)
	if err != nil {
		return err
	}
	if checked.Cmp(buffer) > 0 {
		return ErrRateLimitExceeded
	}
	buffer.Sub(buffer, checked)
	nowUnix := now.Unix()
	if nowUnix < 0 {
		nowUnix = 0
	}
	return b.store.KVPut(budgetKey, storedBudget{
		Buffer:     buffer.String(),
		LastUpdate: uint64(nowUnix),
	})
}

// SetParams replaces the cap and replenish rate. The stored buffer is
// materialized first so accrued replenishment is not lost, then clamped to
// the new cap.
func (b *RateLimitedBudget) SetParams(bufferCap, ratePerSecond *big.Int) error {
	if b == nil {
		return fmt.Errorf("psm: budget not initialised")
	}
	if bufferCap == nil || bufferCap.Sign() < 0 {
		return fmt.Errorf("psm: buffer cap must not be negative")
	}
	if ratePerSecond == nil || ratePerSecond.Sign() < 0 {
		return fmt.Errorf("psm: replenish rate must not be negative")
	}
	now := b.clock().UTC()
	buffer, err := b.materialize(now)
	if err != nil {
		return err
	}
	b.bufferCap = new(big.Int).Set(bufferCap)
	b.ratePerSecond = new(big.Int).Set(ratePerSecond)
	if buffer.Cmp(b.bufferCap) > 0 {
		buffer.Set(b.bufferCap)
	}
	nowUnix := now.Unix()
	if nowUnix < 0 {
		nowUnix = 0
	}
	return b.store.KVPut(budgetKey, storedBudget{
		Buffer:     buffer.String(),
		LastUpdate: uint64(nowUnix),
	})
}
