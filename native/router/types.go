package router

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

// TokenShare earmarks a fraction of the global rate for one token set.
// Share is 7-decimal fixed point; 1_0000000 is the whole budget.
type TokenShare struct {
	Tokens []string
	Share  *uint256.Int
}

// GlobalEpoch is the emission budget currently being split across pools.
type GlobalEpoch struct {
	Epoch     uint64
	TPS       *uint256.Int
	ExpiresAt uint64
	StartedAt uint64
	TokenSets [][]string
}

// TokenSetReward is the per-epoch state of one token set.
type TokenSetReward struct {
	Tokens         []string
	VotingShare    *uint256.Int
	Processed      bool
	TotalLiquidity *uint256.Int
}

// PoolAllocation is the per-epoch state of one pool.
type PoolAllocation struct {
	Tokens     []string
	Liquidity  *uint256.Int
	Configured bool
	TPS        *uint256.Int
}

type storedEpoch struct {
	Epoch     uint64
	TPS       *big.Int
	ExpiresAt uint64
	StartedAt uint64
	TokenSets [][]string
}

type storedTokenSetReward struct {
	Tokens         []string
	VotingShare    *big.Int
	Processed      bool
	TotalLiquidity *big.Int
}

type storedAllocation struct {
	Tokens     []string
	Liquidity  *big.Int
	Configured bool
	TPS        *big.Int
}

func (s *storedEpoch) toEpoch() (*GlobalEpoch, error) {
	tps, err := amount.FromBig(s.TPS)
	if err != nil {
		return nil, fmt.Errorf("router: decode epoch tps: %w", err)
	}
	return &GlobalEpoch{Epoch: s.Epoch, TPS: tps, ExpiresAt: s.ExpiresAt, StartedAt: s.StartedAt, TokenSets: s.TokenSets}, nil
}

func (s *storedTokenSetReward) toTokenSetReward() (*TokenSetReward, error) {
	share, err := amount.FromBig(s.VotingShare)
	if err != nil {
		return nil, fmt.Errorf("router: decode voting share: %w", err)
	}
	total, err := amount.FromBig(s.TotalLiquidity)
	if err != nil {
		return nil, fmt.Errorf("router: decode total liquidity: %w", err)
	}
	return &TokenSetReward{Tokens: s.Tokens, VotingShare: share, Processed: s.Processed, TotalLiquidity: total}, nil
}

func newStoredTokenSetReward(r *TokenSetReward) *storedTokenSetReward {
	return &storedTokenSetReward{
		Tokens:         r.Tokens,
		VotingShare:    amount.ToBig(r.VotingShare),
		Processed:      r.Processed,
		TotalLiquidity: amount.ToBig(r.TotalLiquidity),
	}
}

func (s *storedAllocation) toAllocation() (*PoolAllocation, error) {
	liquidity, err := amount.FromBig(s.Liquidity)
	if err != nil {
		return nil, fmt.Errorf("router: decode liquidity: %w", err)
	}
	tps, err := amount.FromBig(s.TPS)
	if err != nil {
		return nil, fmt.Errorf("router: decode pool tps: %w", err)
	}
	return &PoolAllocation{Tokens: s.Tokens, Liquidity: liquidity, Configured: s.Configured, TPS: tps}, nil
}

func newStoredAllocation(a *PoolAllocation) *storedAllocation {
	return &storedAllocation{
		Tokens:     a.Tokens,
		Liquidity:  amount.ToBig(a.Liquidity),
		Configured: a.Configured,
		TPS:        amount.ToBig(a.TPS),
	}
}
