package core

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/core/state"
	"poolrewards/native/accrual"
	"poolrewards/native/router"
)

// Pool kinds accepted by CreatePool.
const (
	PoolKindLinear    = "linear"
	PoolKindPaginated = "paginated"
	PoolKindBoosted   = "boosted"
)

var (
	ErrUnknownPool     = errors.New("processor: pool not registered")
	ErrPoolRegistered  = errors.New("processor: pool already registered")
	ErrInvalidPoolKind = errors.New("processor: pool kind must be linear, paginated or boosted")
	ErrNotBoosted      = errors.New("processor: pool is not boosted")
)

var (
	registryPoolPrefix      = "registry/pool/"
	registrySetPrefix       = "registry/set/"
	registryLiquidityPrefix = "registry/liquidity/"
)

// PoolRecord is the registry entry of a pool.
type PoolRecord struct {
	Kind       string
	Tokens     []string
	ShareToken string
}

func (r *PoolRecord) Boosted() bool { return r.Kind == PoolKindBoosted }

// AccrualKind maps a standard pool kind onto the accumulator layout.
func (r *PoolRecord) AccrualKind() (accrual.Kind, error) {
	if r.Boosted() {
		return 0, ErrInvalidPoolKind
	}
	return accrual.ParseKind(r.Kind)
}

// NormalizePoolKind validates a kind string.
func NormalizePoolKind(raw string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(raw))
	switch kind {
	case PoolKindLinear, PoolKindPaginated, PoolKindBoosted:
		return kind, nil
	case "":
		return PoolKindPaginated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPoolKind, raw)
	}
}

// ShareTokenSymbol is the symbol of the share token minted to providers of pool.
func ShareTokenSymbol(pool [20]byte) string {
	return fmt.Sprintf("LP-%X", pool[:])
}

func registryPoolKey(pool [20]byte) []byte {
	return append([]byte(registryPoolPrefix), pool[:]...)
}

func registrySetKey(id [32]byte) []byte {
	return append([]byte(registrySetPrefix), id[:]...)
}

func registryLiquidityKey(pool [20]byte) []byte {
	return append([]byte(registryLiquidityPrefix), pool[:]...)
}

// poolRegistry keeps pool records, the token set index and the recorded
// liquidity depth of each pool.
type poolRegistry struct {
	state *state.Manager
}

func (r *poolRegistry) lookup(pool [20]byte) (*PoolRecord, bool, error) {
	var rec PoolRecord
	ok, err := r.state.KVGet(registryPoolKey(pool), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rec, true, nil
}

func (r *poolRegistry) record(pool [20]byte) (*PoolRecord, error) {
	rec, ok, err := r.lookup(pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownPool, pool)
	}
	return rec, nil
}

func (r *poolRegistry) register(pool [20]byte, rec *PoolRecord) error {
	if _, ok, err := r.lookup(pool); err != nil {
		return err
	} else if ok {
		return ErrPoolRegistered
	}
	if err := r.state.KVPut(registryPoolKey(pool), rec); err != nil {
		return err
	}
	return r.state.KVAppend(registrySetKey(router.TokenSetID(rec.Tokens)), pool[:])
}

// Pools implements router.PoolRegistry.
func (r *poolRegistry) Pools(tokens []string) ([][20]byte, error) {
	normalized, err := router.NormalizeTokens(tokens)
	if err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := r.state.KVGetList(registrySetKey(router.TokenSetID(normalized)), &raw); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		var pool [20]byte
		copy(pool[:], entry)
		out = append(out, pool)
	}
	return out, nil
}

func (r *poolRegistry) setLiquidity(pool [20]byte, value *uint256.Int) error {
	return r.state.KVPut(registryLiquidityKey(pool), amount.ToBig(value))
}

func (r *poolRegistry) liquidity(pool [20]byte) (*uint256.Int, error) {
	value := new(big.Int)
	ok, err := r.state.KVGet(registryLiquidityKey(pool), value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return amount.Zero(), nil
	}
	return amount.FromBig(value)
}
