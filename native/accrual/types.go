package accrual

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

// Precision scales the reward-per-share scalars.
var Precision = uint256.NewInt(1_000_000_000_000_000_000)

// Kind selects the accumulator layout of a pool. It is fixed at creation.
type Kind uint8

const (
	KindLinear Kind = iota + 1
	KindPaginated
)

func (k Kind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	case KindPaginated:
		return "paginated"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration string onto a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "linear":
		return KindLinear, nil
	case "paginated", "":
		return KindPaginated, nil
	default:
		return 0, fmt.Errorf("accrual: unknown pool kind %q", raw)
	}
}

// RewardConfig is the emission schedule of a standard pool.
type RewardConfig struct {
	TPS       *uint256.Int
	ExpiresAt uint64
}

// PoolState is the accumulator of a single pool. Inv is the running
// reward-per-share scaled by Precision. Undistributed is the part of
// Accumulated emitted while the pool had no stake; nobody can claim it.
type PoolState struct {
	Kind          Kind
	Block         uint64
	Accumulated   *uint256.Int
	Undistributed *uint256.Int
	Inv           *uint256.Int
	LastTime      uint64
	Claimed       *uint256.Int
	Config        RewardConfig
}

// Clone returns a deep copy of the state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	return &PoolState{
		Kind:          p.Kind,
		Block:         p.Block,
		Accumulated:   amount.Clone(p.Accumulated),
		Undistributed: amount.Clone(p.Undistributed),
		Inv:           amount.Clone(p.Inv),
		LastTime:      p.LastTime,
		Claimed:       amount.Clone(p.Claimed),
		Config: RewardConfig{
			TPS:       amount.Clone(p.Config.TPS),
			ExpiresAt: p.Config.ExpiresAt,
		},
	}
}

type storedPoolState struct {
	Kind          uint8
	Block         uint64
	Accumulated   *big.Int
	Inv           *big.Int
	LastTime      uint64
	Claimed       *big.Int
	TPS           *big.Int
	ExpiresAt     uint64
	Undistributed *big.Int `rlp:"optional"`
}

func newStoredPoolState(p *PoolState) *storedPoolState {
	return &storedPoolState{
		Kind:          uint8(p.Kind),
		Block:         p.Block,
		Accumulated:   amount.ToBig(p.Accumulated),
		Inv:           amount.ToBig(p.Inv),
		LastTime:      p.LastTime,
		Claimed:       amount.ToBig(p.Claimed),
		TPS:           amount.ToBig(p.Config.TPS),
		ExpiresAt:     p.Config.ExpiresAt,
		Undistributed: amount.ToBig(p.Undistributed),
	}
}

func (s *storedPoolState) toPoolState() (*PoolState, error) {
	accumulated, err := amount.FromBig(s.Accumulated)
	if err != nil {
		return nil, fmt.Errorf("accrual: decode accumulated: %w", err)
	}
	inv, err := amount.FromBig(s.Inv)
	if err != nil {
		return nil, fmt.Errorf("accrual: decode inv: %w", err)
	}
	claimed, err := amount.FromBig(s.Claimed)
	if err != nil {
		return nil, fmt.Errorf("accrual: decode claimed: %w", err)
	}
	tps, err := amount.FromBig(s.TPS)
	if err != nil {
		return nil, fmt.Errorf("accrual: decode tps: %w", err)
	}
	undistributed, err := amount.FromBig(s.Undistributed)
	if err != nil {
		return nil, fmt.Errorf("accrual: decode undistributed: %w", err)
	}
	return &PoolState{
		Kind:          Kind(s.Kind),
		Block:         s.Block,
		Accumulated:   accumulated,
		Undistributed: undistributed,
		Inv:           inv,
		LastTime:      s.LastTime,
		Claimed:       claimed,
		Config:        RewardConfig{TPS: tps, ExpiresAt: s.ExpiresAt},
	}, nil
}

// storedPage holds a contiguous run of slot values starting at Offset. Level-0
// pages always start at slot zero; coarse pages of migrated pools may start
// later because the legacy layout never carried them.
type storedPage struct {
	Offset uint64
	Values []*big.Int
}

func (p *storedPage) has(slot uint64) bool {
	return p != nil && slot >= p.Offset && slot < p.Offset+uint64(len(p.Values))
}

func (p *storedPage) next() uint64 {
	return p.Offset + uint64(len(p.Values))
}

type storedLegacyBlock struct {
	Value *big.Int
}
