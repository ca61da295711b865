package state

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/storage"
)

var (
	// ErrUnauthorized is returned when the caller does not hold the role an
	// entry point requires.
	ErrUnauthorized = errors.New("state: caller not authorized")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrTokenNotRegistered is returned for balance operations on unknown tokens.
	ErrTokenNotRegistered = errors.New("state: token not registered")
)

// Manager provides record, balance and role storage on top of a key-value
// database. Values are RLP encoded and keys are keccak hashed.
//
// Manager is not safe for concurrent use.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the backing store.
func (m *Manager) Database() storage.Database {
	return m.db
}

type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	supplyPrefix  = []byte("supply:")
	rolePrefix    = []byte("role:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func supplyKey(symbol string) []byte {
	buf := make([]byte, len(supplyPrefix)+len(symbol))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], symbol)
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

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.get(tokenListKey)
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

func (m *Manager) writeTokenList(list []string) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(tokenListKey, encoded)
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.get(tokenMetadataKey(symbol))
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

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
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
	if err := m.writeTokenList(list); err != nil {
		return err
	}

	encoded, err := rlp.EncodeToBytes(&TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals})
	if err != nil {
		return err
	}
	return m.db.Put(tokenMetadataKey(normalized), encoded)
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(normalizeSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

func (m *Manager) readAmount(key []byte) (*uint256.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return amount.Zero(), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	return amount.FromBig(value)
}

func (m *Manager) writeAmount(key []byte, value *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(amount.ToBig(value))
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	return normalized, nil
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr [20]byte, symbol string) (*uint256.Int, error) {
	return m.readAmount(balanceKey(addr, normalizeSymbol(symbol)))
}

// SetBalance overwrites an account balance without touching the supply.
func (m *Manager) SetBalance(addr [20]byte, symbol string, value *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.writeAmount(balanceKey(addr, normalized), value)
}

// TotalSupply returns the minted supply of a token.
func (m *Manager) TotalSupply(symbol string) (*uint256.Int, error) {
	return m.readAmount(supplyKey(normalizeSymbol(symbol)))
}

// Mint credits the account and grows the supply.
func (m *Manager) Mint(addr [20]byte, symbol string, value *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount.IsZero(value) {
		return nil
	}
	balance, err := m.readAmount(balanceKey(addr, normalized))
	if err != nil {
		return err
	}
	supply, err := m.readAmount(supplyKey(normalized))
	if err != nil {
		return err
	}
	if balance, err = amount.Add(balance, value); err != nil {
		return err
	}
	if supply, err = amount.Add(supply, value); err != nil {
		return err
	}
	if err := m.writeAmount(balanceKey(addr, normalized), balance); err != nil {
		return err
	}
	return m.writeAmount(supplyKey(normalized), supply)
}

// Burn debits the account and shrinks the supply.
func (m *Manager) Burn(addr [20]byte, symbol string, value *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount.IsZero(value) {
		return nil
	}
	balance, err := m.readAmount(balanceKey(addr, normalized))
	if err != nil {
		return err
	}
	if balance.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, normalized, amount.Format(balance), amount.Format(value))
	}
	supply, err := m.readAmount(supplyKey(normalized))
	if err != nil {
		return err
	}
	if err := m.writeAmount(balanceKey(addr, normalized), amount.SubFloor(balance, value)); err != nil {
		return err
	}
	return m.writeAmount(supplyKey(normalized), amount.SubFloor(supply, value))
}

// Transfer moves value between two accounts. The debit is checked before any
// write so a failed transfer leaves both balances untouched.
func (m *Manager) Transfer(symbol string, from, to [20]byte, value *uint256.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount.IsZero(value) || from == to {
		return nil
	}
	fromBalance, err := m.readAmount(balanceKey(from, normalized))
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, normalized, amount.Format(fromBalance), amount.Format(value))
	}
	toBalance, err := m.readAmount(balanceKey(to, normalized))
	if err != nil {
		return err
	}
	if toBalance, err = amount.Add(toBalance, value); err != nil {
		return err
	}
	if err := m.writeAmount(balanceKey(from, normalized), amount.SubFloor(fromBalance, value)); err != nil {
		return err
	}
	return m.writeAmount(balanceKey(to, normalized), toBalance)
}

func (m *Manager) loadRole(role string) ([][]byte, error) {
	data, err := m.get(roleKey(role))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (m *Manager) writeRole(role string, members [][]byte) error {
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.db.Put(roleKey(role), encoded)
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr [20]byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	members, err := m.loadRole(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr[:]) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr[:]...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	return m.writeRole(trimmed, members)
}

// RemoveRole drops an address from the role.
func (m *Manager) RemoveRole(role string, addr [20]byte) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.loadRole(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if !bytes.Equal(existing, addr[:]) {
			kept = append(kept, existing)
		}
	}
	return m.writeRole(trimmed, kept)
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([][20]byte, error) {
	members, err := m.loadRole(strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(members))
	for _, member := range members {
		var addr [20]byte
		copy(addr[:], member)
		out = append(out, addr)
	}
	return out, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	members, err := m.loadRole(strings.TrimSpace(role))
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr[:]) {
			return true
		}
	}
	return false
}

// RequireRole fails with ErrUnauthorized unless addr holds one of the roles.
func (m *Manager) RequireRole(addr [20]byte, roles ...string) error {
	for _, role := range roles {
		if m.HasRole(role, addr) {
			return nil
		}
	}
	return fmt.Errorf("%w: requires %s", ErrUnauthorized, strings.Join(roles, " or "))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
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

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.get(hashed)
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
	return m.db.Put(hashed, encoded)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
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
