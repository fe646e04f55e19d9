package psm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Config models the stability-module section parsed from configuration.
// Amount fields are decimal strings in base units and accept scientific
// notation (e.g. "1e18") and underscore separators.
type Config struct {
	ReserveSymbol        string `toml:"ReserveSymbol"`
	IssuedSymbol         string `toml:"IssuedSymbol"`
	ModuleAddress        string `toml:"ModuleAddress"`
	MintFeeBps           uint64 `toml:"MintFeeBps"`
	RedeemFeeBps         uint64 `toml:"RedeemFeeBps"`
	ReservesThresholdWei string `toml:"ReservesThresholdWei"`
	BufferCapWei         string `toml:"BufferCapWei"`
	ReplenishRateWei     string `toml:"ReplenishRateWei"`
	OracleMaxAgeSeconds  uint64 `toml:"OracleMaxAgeSeconds"`
	OracleDecimalsShift  int    `toml:"OracleDecimalsShift"`
	OracleInvert         bool   `toml:"OracleInvert"`
	RouterRedeemActive   bool   `toml:"RouterRedeemActive"`
}

// Normalise trims whitespace and applies canonical casing to symbols.
func (c Config) Normalise() Config {
	normalized := c
	normalized.ReserveSymbol = strings.ToUpper(strings.TrimSpace(c.ReserveSymbol))
	normalized.IssuedSymbol = strings.ToUpper(strings.TrimSpace(c.IssuedSymbol))
	normalized.ModuleAddress = strings.TrimSpace(c.ModuleAddress)
	normalized.ReservesThresholdWei = strings.TrimSpace(c.ReservesThresholdWei)
	normalized.BufferCapWei = strings.TrimSpace(c.BufferCapWei)
	normalized.ReplenishRateWei = strings.TrimSpace(c.ReplenishRateWei)
	return normalized
}

// Params contains the runtime representation of the module configuration.
type Params struct {
	ReserveSymbol       string
	IssuedSymbol        string
	ModuleAddress       [20]byte
	MintFeeBps          uint64
	RedeemFeeBps        uint64
	ReservesThreshold   *big.Int
	BufferCap           *big.Int
	ReplenishRate       *big.Int
	OracleMaxAge        time.Duration
	OracleDecimalsShift int
	OracleInvert        bool
	RouterRedeemActive  bool
}

// Parameters converts the textual configuration into runtime values and
// verifies bounds.
func (c Config) Parameters() (Params, error) {
	normalized := c.Normalise()
	params := Params{
		ReserveSymbol:       normalized.ReserveSymbol,
		IssuedSymbol:        normalized.IssuedSymbol,
		MintFeeBps:          normalized.MintFeeBps,
		RedeemFeeBps:        normalized.RedeemFeeBps,
		OracleDecimalsShift: normalized.OracleDecimalsShift,
		OracleInvert:        normalized.OracleInvert,
		RouterRedeemActive:  normalized.RouterRedeemActive,
	}
	if params.ReserveSymbol == "" {
		return params, fmt.Errorf("psm: reserve symbol required")
	}
	if params.IssuedSymbol == "" {
		return params, fmt.Errorf("psm: issued symbol required")
	}
	if params.ReserveSymbol == params.IssuedSymbol {
		return params, fmt.Errorf("psm: reserve and issued symbols must differ")
	}
	if normalized.MintFeeBps >= bpsGranularity {
		return params, fmt.Errorf("psm: mint fee must be below %d bps", bpsGranularity)
	}
	if normalized.RedeemFeeBps >= bpsGranularity {
		return params, fmt.Errorf("psm: redeem fee must be below %d bps", bpsGranularity)
	}
	addr, err := ParseAddress(normalized.ModuleAddress)
	if err != nil {
		return params, fmt.Errorf("psm: module address: %w", err)
	}
	params.ModuleAddress = addr
	if params.ReservesThreshold, err = parseBaseAmount(normalized.ReservesThresholdWei); err != nil {
		return params, fmt.Errorf("psm: reserves threshold: %w", err)
	}
	if params.BufferCap, err = parseBaseAmount(normalized.BufferCapWei); err != nil {
		return params, fmt.Errorf("psm: buffer cap: %w", err)
	}
	if params.ReplenishRate, err = parseBaseAmount(normalized.ReplenishRateWei); err != nil {
		return params, fmt.Errorf("psm: replenish rate: %w", err)
	}
	params.OracleMaxAge = time.Duration(normalized.OracleMaxAgeSeconds) * time.Second
	return params, nil
}

// parseBaseAmount parses a non-negative integer amount expressed as a
// decimal string, optionally with a fractional part and scientific notation
// as long as the result is a whole number of base units.
func parseBaseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	normalized := trimmed
	var exponent int64
	if idx := strings.IndexAny(normalized, "eE"); idx != -1 {
		expPart := strings.TrimSpace(normalized[idx+1:])
		if expPart == "" {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		exponent = expValue
		normalized = strings.TrimSpace(normalized[:idx])
	}
	normalized = strings.TrimPrefix(normalized, "+")
	if strings.HasPrefix(normalized, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	parts := strings.Split(normalized, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format")
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" {
		return big.NewInt(0), nil
	}
	if !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format")
	}
	fracLen := len(fractionalPart)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	digits = strings.TrimLeft(digits, "0")
	totalExponent := exponent - int64(fracLen)
	if totalExponent < 0 {
		return nil, fmt.Errorf("amount must be an integer")
	}
	if digits == "" {
		digits = "0"
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", int(totalExponent))
	}
	amount := new(big.Int)
	if _, ok := amount.SetString(digits, 10); !ok {
		return nil, fmt.Errorf("invalid amount value")
	}
	return amount, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
