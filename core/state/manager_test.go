package state

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"pegstable/storage"
)

func addrOf(last byte) [20]byte {
	var addr [20]byte
	addr[19] = last
	return addr
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager := NewManager(storage.NewMemDB())
	require.NoError(t, manager.RegisterToken("WNAT", "Wrapped Native", 18))
	return manager
}

func TestRegisterTokenOnce(t *testing.T) {
	manager := newTestManager(t)
	require.True(t, manager.TokenExists("WNAT"))
	require.True(t, manager.TokenExists("wnat"))
	require.Error(t, manager.RegisterToken("WNAT", "Duplicate", 18))

	meta, err := manager.Token("WNAT")
	require.NoError(t, err)
	require.Equal(t, "WNAT", meta.Symbol)
	require.EqualValues(t, 18, meta.Decimals)
}

func TestMintBurnTransfer(t *testing.T) {
	manager := newTestManager(t)
	alice, bob := addrOf(1), addrOf(2)

	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(1000)))
	require.NoError(t, manager.Transfer("WNAT", alice, bob, big.NewInt(400)))
	require.NoError(t, manager.Burn("WNAT", bob, big.NewInt(100)))

	aliceBal, err := manager.Balance(alice, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 600, aliceBal.Int64())
	bobBal, err := manager.Balance(bob, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 300, bobBal.Int64())

	require.Error(t, manager.Transfer("WNAT", alice, bob, big.NewInt(10_000)))
	require.Error(t, manager.Burn("WNAT", bob, big.NewInt(10_000)))
	require.Error(t, manager.Mint("GHOST", alice, big.NewInt(1)))
}

func TestAllowanceDecrementsExceptMax(t *testing.T) {
	manager := newTestManager(t)
	owner, spender, sink := addrOf(1), addrOf(2), addrOf(3)
	require.NoError(t, manager.Mint("WNAT", owner, big.NewInt(1000)))

	require.NoError(t, manager.Approve("WNAT", owner, spender, big.NewInt(500)))
	require.NoError(t, manager.TransferFrom("WNAT", spender, owner, sink, big.NewInt(200)))
	remaining, err := manager.Allowance("WNAT", owner, spender)
	require.NoError(t, err)
	require.EqualValues(t, 300, remaining.Int64())

	require.Error(t, manager.TransferFrom("WNAT", spender, owner, sink, big.NewInt(400)))

	require.NoError(t, manager.Approve("WNAT", owner, spender, MaxAllowance))
	require.NoError(t, manager.TransferFrom("WNAT", spender, owner, sink, big.NewInt(300)))
	remaining, err = manager.Allowance("WNAT", owner, spender)
	require.NoError(t, err)
	require.Zero(t, remaining.Cmp(MaxAllowance))
}

func TestTransferFromOwnerSkipsAllowance(t *testing.T) {
	manager := newTestManager(t)
	owner, sink := addrOf(1), addrOf(3)
	require.NoError(t, manager.Mint("WNAT", owner, big.NewInt(100)))
	require.NoError(t, manager.TransferFrom("WNAT", owner, owner, sink, big.NewInt(40)))
}

func TestSnapshotRevert(t *testing.T) {
	manager := newTestManager(t)
	alice := addrOf(1)
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(1000)))

	rev := manager.Snapshot()
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(500)))
	require.NoError(t, manager.KVPut([]byte("probe"), "value"))
	manager.RevertToSnapshot(rev)

	balance, err := manager.Balance(alice, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 1000, balance.Int64())
	var out string
	ok, err := manager.KVGet([]byte("probe"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNestedSnapshots(t *testing.T) {
	manager := newTestManager(t)
	alice := addrOf(1)
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(100)))

	outer := manager.Snapshot()
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(10)))
	inner := manager.Snapshot()
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(1)))
	manager.RevertToSnapshot(inner)

	balance, err := manager.Balance(alice, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 110, balance.Int64())

	manager.RevertToSnapshot(outer)
	balance, err = manager.Balance(alice, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 100, balance.Int64())
}

func TestCommitPersists(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)
	require.NoError(t, manager.RegisterToken("WNAT", "Wrapped Native", 18))
	alice := addrOf(1)
	require.NoError(t, manager.Mint("WNAT", alice, big.NewInt(77)))
	require.NoError(t, manager.Commit())

	reopened := NewManager(db)
	balance, err := reopened.Balance(alice, "WNAT")
	require.NoError(t, err)
	require.EqualValues(t, 77, balance.Int64())
	require.True(t, reopened.TokenExists("WNAT"))
}

type hookRecorder struct {
	calls int
	fail  bool
}

func (h *hookRecorder) OnNativeTransfer(from [20]byte, amount *big.Int) error {
	h.calls++
	if h.fail {
		return fmt.Errorf("receiver rejects value")
	}
	return nil
}

func TestNativeTransferConsultsReceiver(t *testing.T) {
	manager := newTestManager(t)
	alice, contract := addrOf(1), addrOf(9)
	require.NoError(t, manager.SetNativeBalance(alice, big.NewInt(100)))

	hook := &hookRecorder{}
	manager.RegisterNativeReceiver(contract, hook)
	require.NoError(t, manager.TransferNative(alice, contract, big.NewInt(40)))
	require.Equal(t, 1, hook.calls)

	hook.fail = true
	require.Error(t, manager.TransferNative(alice, contract, big.NewInt(40)))

	aliceBal, err := manager.NativeBalance(alice)
	require.NoError(t, err)
	require.EqualValues(t, 60, aliceBal.Int64())
	contractBal, err := manager.NativeBalance(contract)
	require.NoError(t, err)
	require.EqualValues(t, 40, contractBal.Int64())
}

func TestRolesSortedAndQueryable(t *testing.T) {
	manager := newTestManager(t)
	admin := addrOf(0x0a)
	require.NoError(t, manager.SetRole("ROLE_PSM_ADMIN", admin[:]))
	require.NoError(t, manager.SetRole("ROLE_PSM_ADMIN", admin[:]))
	require.True(t, manager.HasRole("ROLE_PSM_ADMIN", admin[:]))
	other := addrOf(1)
	require.False(t, manager.HasRole("ROLE_PSM_ADMIN", other[:]))
	require.False(t, manager.HasRole("", admin[:]))
}

func TestKVAppendAndList(t *testing.T) {
	manager := newTestManager(t)
	key := []byte("journal")
	require.NoError(t, manager.KVAppend(key, []byte("one")))
	require.NoError(t, manager.KVAppend(key, []byte("two")))

	var entries [][]byte
	require.NoError(t, manager.KVGetList(key, &entries))
	require.Len(t, entries, 2)
	require.Equal(t, []byte("one"), entries[0])
	require.Equal(t, []byte("two"), entries[1])
}
