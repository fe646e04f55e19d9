package genesis

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pegstable/core/state"
)

// Token declares a token to register at genesis.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

// Balance seeds a token balance.
type Balance struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol"`
	Amount  string `yaml:"amount"`
}

// NativeBalance seeds a native currency balance.
type NativeBalance struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// RoleGrant assigns a role to a set of addresses.
type RoleGrant struct {
	Role      string   `yaml:"role"`
	Addresses []string `yaml:"addresses"`
}

// Document is the genesis state seeded into a fresh database.
type Document struct {
	Tokens         []Token         `yaml:"tokens"`
	Balances       []Balance       `yaml:"balances"`
	NativeBalances []NativeBalance `yaml:"nativeBalances"`
	Roles          []RoleGrant     `yaml:"roles"`
}

// Load parses the YAML genesis document at path.
func Load(path string) (*Document, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("genesis: path required")
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", trimmed, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML genesis document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("genesis: parse: %w", err)
	}
	return &doc, nil
}

// Apply seeds the document into the state manager. The caller commits.
func (d *Document) Apply(manager *state.Manager) error {
	if d == nil {
		return fmt.Errorf("genesis: document required")
	}
	if manager == nil {
		return fmt.Errorf("genesis: state manager required")
	}
	for _, token := range d.Tokens {
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("genesis: token %s: %w", token.Symbol, err)
		}
	}
	for _, balance := range d.Balances {
		addr, err := parseAddress(balance.Address)
		if err != nil {
			return fmt.Errorf("genesis: balance: %w", err)
		}
		amount, err := parseAmount(balance.Amount)
		if err != nil {
			return fmt.Errorf("genesis: balance %s: %w", balance.Address, err)
		}
		if err := manager.SetBalance(addr, balance.Symbol, amount); err != nil {
			return fmt.Errorf("genesis: balance %s: %w", balance.Address, err)
		}
	}
	for _, native := range d.NativeBalances {
		addr, err := parseAddress(native.Address)
		if err != nil {
			return fmt.Errorf("genesis: native balance: %w", err)
		}
		amount, err := parseAmount(native.Amount)
		if err != nil {
			return fmt.Errorf("genesis: native balance %s: %w", native.Address, err)
		}
		if err := manager.SetNativeBalance(addr, amount); err != nil {
			return fmt.Errorf("genesis: native balance %s: %w", native.Address, err)
		}
	}
	for _, grant := range d.Roles {
		for _, raw := range grant.Addresses {
			addr, err := parseAddress(raw)
			if err != nil {
				return fmt.Errorf("genesis: role %s: %w", grant.Role, err)
			}
			if err := manager.SetRole(grant.Role, addr[:]); err != nil {
				return fmt.Errorf("genesis: role %s: %w", grant.Role, err)
			}
		}
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address length %d", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
