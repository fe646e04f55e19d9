package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"pegstable/storage"
)

// NativeReceiver is implemented by accounts that observe incoming native
// currency transfers, mirroring a contract's payable fallback. Returning an
// error rejects the transfer before any balance moves.
type NativeReceiver interface {
	OnNativeTransfer(from [20]byte, amount *big.Int) error
}

// Manager provides token, role, and generic key-value state on top of a
// storage.Database. Writes accumulate in an in-memory overlay with a journal
// so a call can be reverted as a unit; Commit flushes the overlay to the
// backing database.
//
// Manager is not safe for concurrent use: callers are expected to serialize
// state transitions, matching the execution model of the engine.
type Manager struct {
	db        storage.Database
	overlay   map[string][]byte
	journal   []journalEntry
	receivers map[[20]byte]NativeReceiver
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:        db,
		overlay:   make(map[string][]byte),
		receivers: make(map[[20]byte]NativeReceiver),
	}
}

// TokenMetadata describes a registered token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	nativePrefix    = []byte("native:")
	rolePrefix      = []byte("role:")
)

// MaxAllowance marks an unlimited approval; transfers drawing on it do not
// decrement the stored value.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(symbol string, addr [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+2+2*len(owner))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner[:]...)
	buf = append(buf, ':')
	buf = append(buf, spender[:]...)
	return ethcrypto.Keccak256(buf)
}

func nativeKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len(nativePrefix)+len(addr))
	buf = append(buf, nativePrefix...)
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// --- overlay plumbing ---

func (m *Manager) read(key []byte) ([]byte, error) {
	if value, ok := m.overlay[string(key)]; ok {
		return value, nil
	}
	return m.db.Get(key)
}

func (m *Manager) write(key, value []byte) {
	k := string(key)
	prev, existed := m.overlay[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, existed: existed})
	m.overlay[k] = value
}

// Snapshot records the current journal position. A later RevertToSnapshot
// discards every overlay mutation made after this point.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot unwinds the overlay back to the given snapshot.
func (m *Manager) RevertToSnapshot(rev int) {
	if rev < 0 || rev > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= rev; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:rev]
}

// Commit flushes the overlay to the backing database and resets the journal.
func (m *Manager) Commit() error {
	keys := make([]string, 0, len(m.overlay))
	for k := range m.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.db.Put([]byte(k), m.overlay[k]); err != nil {
			return err
		}
	}
	m.journal = m.journal[:0]
	return nil
}

// --- token registry ---

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.read(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.read(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores metadata for a token and records it in the index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(tokenListKey, encoded)
	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encodedMeta, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	m.write(tokenMetadataKey(normalized), encodedMeta)
	return nil
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(strings.ToUpper(strings.TrimSpace(symbol)))
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// --- balances ---

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("token %s not registered", normalized)
	}
	return normalized, nil
}

func (m *Manager) readAmount(key []byte) (*big.Int, error) {
	data, err := m.read(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) writeAmount(key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.write(key, encoded)
	return nil
}

// Balance retrieves a token balance for the provided account.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return m.readAmount(balanceKey(normalized, addr))
}

// SetBalance stores an account balance, primarily for genesis seeding.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.writeAmount(balanceKey(normalized, addr), amount)
}

func checkedAdd(current, amount *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(current, amount)
	if _, overflow := uint256.FromBig(sum); overflow {
		return nil, fmt.Errorf("balance overflow")
	}
	return sum, nil
}

// Mint credits newly issued tokens to the recipient.
func (m *Manager) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	current, err := m.readAmount(balanceKey(normalized, to))
	if err != nil {
		return err
	}
	updated, err := checkedAdd(current, amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", normalized, err)
	}
	return m.writeAmount(balanceKey(normalized, to), updated)
}

// Burn destroys tokens held by the account.
func (m *Manager) Burn(symbol string, from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("burn amount must be positive")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	current, err := m.readAmount(balanceKey(normalized, from))
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("burn %s: insufficient balance", normalized)
	}
	return m.writeAmount(balanceKey(normalized, from), new(big.Int).Sub(current, amount))
}

// Transfer moves tokens between accounts.
func (m *Manager) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	fromBal, err := m.readAmount(balanceKey(normalized, from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s: insufficient balance", normalized)
	}
	toBal, err := m.readAmount(balanceKey(normalized, to))
	if err != nil {
		return err
	}
	updated, err := checkedAdd(toBal, amount)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", normalized, err)
	}
	if err := m.writeAmount(balanceKey(normalized, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.writeAmount(balanceKey(normalized, to), updated)
}

// --- allowances ---

// Approve sets the spender's allowance over the owner's tokens.
func (m *Manager) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("allowance must not be negative")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.writeAmount(allowanceKey(normalized, owner, spender), amount)
}

// Allowance reports the spender's remaining allowance over the owner's tokens.
func (m *Manager) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return m.readAmount(allowanceKey(normalized, owner, spender))
}

// TransferFrom moves tokens from owner to recipient drawing on the spender's
// allowance. An allowance equal to MaxAllowance is treated as unlimited and
// is not decremented.
func (m *Manager) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if spender != owner {
		allowed, err := m.readAmount(allowanceKey(normalized, owner, spender))
		if err != nil {
			return err
		}
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("transfer %s: allowance exceeded", normalized)
		}
		if allowed.Cmp(MaxAllowance) != 0 {
			if err := m.writeAmount(allowanceKey(normalized, owner, spender), new(big.Int).Sub(allowed, amount)); err != nil {
				return err
			}
		}
	}
	return m.Transfer(normalized, owner, to, amount)
}

// --- native currency ---

// NativeBalance retrieves the native currency balance of the account.
func (m *Manager) NativeBalance(addr [20]byte) (*big.Int, error) {
	return m.readAmount(nativeKey(addr))
}

// SetNativeBalance stores a native balance, primarily for genesis seeding.
func (m *Manager) SetNativeBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.writeAmount(nativeKey(addr), amount)
}

// RegisterNativeReceiver installs a fallback hook for the account. Incoming
// native transfers consult the hook before balances move, so a rejecting
// receiver leaves state untouched.
func (m *Manager) RegisterNativeReceiver(addr [20]byte, r NativeReceiver) {
	if r == nil {
		delete(m.receivers, addr)
		return
	}
	m.receivers[addr] = r
}

// TransferNative moves native currency between accounts.
func (m *Manager) TransferNative(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	fromBal, err := m.readAmount(nativeKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("native transfer: insufficient balance")
	}
	if receiver, ok := m.receivers[to]; ok {
		if err := receiver.OnNativeTransfer(from, amount); err != nil {
			return err
		}
	}
	toBal, err := m.readAmount(nativeKey(to))
	if err != nil {
		return err
	}
	updated, err := checkedAdd(toBal, amount)
	if err != nil {
		return fmt.Errorf("native transfer: %w", err)
	}
	if err := m.writeAmount(nativeKey(from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.writeAmount(nativeKey(to), updated)
}

// --- roles ---

// SetRole associates an address with the specified role. Duplicate
// assignments are ignored while the stored list remains sorted for
// determinism.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	key := roleKey(trimmed)
	data, err := m.read(key)
	if err != nil {
		return err
	}
	var members [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &members); err != nil {
			return err
		}
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	m.write(key, encoded)
	return nil
}

// HasRole reports whether the address holds the role. Read failures result
// in a false return, matching the best-effort semantics required by callers.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	data, err := m.read(roleKey(strings.TrimSpace(role)))
	if err != nil || len(data) == 0 {
		return false
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// --- generic key-value facade ---

// KVPut stores the value under the key using RLP encoding. Keys are hashed
// with keccak256 before hitting the backing store.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the key and decodes it into out.
// The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the value to the RLP-encoded byte-slice list stored under
// the key. Duplicate values are ignored to keep indexes deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(hashed, encoded)
	return nil
}

// KVGetList decodes the RLP-encoded slice stored under the key into out.
// When no value is present the destination is reset to an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
