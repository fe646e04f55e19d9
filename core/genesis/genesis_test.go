package genesis

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"pegstable/core/state"
	"pegstable/storage"
)

const sampleDocument = `
tokens:
  - symbol: WNAT
    name: Wrapped Native
    decimals: 18
  - symbol: PEG
    name: Peg Token
    decimals: 18
balances:
  - address: "0x0000000000000000000000000000000000000010"
    symbol: WNAT
    amount: "1_000_000"
nativeBalances:
  - address: "0x0000000000000000000000000000000000000010"
    amount: "5000"
roles:
  - role: ROLE_PSM_ADMIN
    addresses:
      - "0x000000000000000000000000000000000000000a"
`

func TestParseAndApply(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)
	require.Len(t, doc.Tokens, 2)

	manager := state.NewManager(storage.NewMemDB())
	require.NoError(t, doc.Apply(manager))

	var user [20]byte
	user[19] = 0x10
	balance, err := manager.Balance(user, "WNAT")
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(1_000_000)))

	native, err := manager.NativeBalance(user)
	require.NoError(t, err)
	require.Zero(t, native.Cmp(big.NewInt(5000)))

	var admin [20]byte
	admin[19] = 0x0a
	require.True(t, manager.HasRole("ROLE_PSM_ADMIN", admin[:]))
	require.False(t, manager.HasRole("ROLE_PSM_ADMIN", user[:]))
}

func TestApplyRejectsBadAddress(t *testing.T) {
	doc := &Document{Balances: []Balance{{Address: "0x1234", Symbol: "WNAT", Amount: "1"}}}
	manager := state.NewManager(storage.NewMemDB())
	require.Error(t, doc.Apply(manager))
}

func TestApplyRejectsUnknownToken(t *testing.T) {
	doc := &Document{Balances: []Balance{{
		Address: "0x0000000000000000000000000000000000000010",
		Symbol:  "GHOST",
		Amount:  "1",
	}}}
	manager := state.NewManager(storage.NewMemDB())
	require.Error(t, doc.Apply(manager))
}
