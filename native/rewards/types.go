package rewards

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

// UserState is the checkpoint of one account in one pool. Block is the last
// pool block the account was credited through; Inv is the reward-per-share
// observed at that block.
type UserState struct {
	Block   uint64
	Inv     *uint256.Int
	ToClaim *uint256.Int
	Claimed *uint256.Int
}

func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	return &UserState{
		Block:   u.Block,
		Inv:     amount.Clone(u.Inv),
		ToClaim: amount.Clone(u.ToClaim),
		Claimed: amount.Clone(u.Claimed),
	}
}

// LegacyUser is a user checkpoint carried over with an imported pool. Block
// is the last pool block the account was credited through.
type LegacyUser struct {
	User    [20]byte
	Block   uint64
	ToClaim *uint256.Int
	Claimed *uint256.Int
}

// PoolMeta binds a pool to its payout token and reserve account.
type PoolMeta struct {
	RewardToken string
	Reserve     [20]byte
}

// Info is the read-only bundle returned by RewardsInfo.
type Info struct {
	TPS         *uint256.Int
	ExpiresAt   uint64
	Accumulated *uint256.Int
	Claimed     *uint256.Int
	Pending     *uint256.Int
	Block       uint64
	LastTime    uint64
	Stake       *uint256.Int
	TotalShares *uint256.Int
}

type storedUserState struct {
	Block   uint64
	Inv     *big.Int
	ToClaim *big.Int
	Claimed *big.Int
}

func newStoredUserState(u *UserState) *storedUserState {
	return &storedUserState{
		Block:   u.Block,
		Inv:     amount.ToBig(u.Inv),
		ToClaim: amount.ToBig(u.ToClaim),
		Claimed: amount.ToBig(u.Claimed),
	}
}

func (s *storedUserState) toUserState() (*UserState, error) {
	inv, err := amount.FromBig(s.Inv)
	if err != nil {
		return nil, fmt.Errorf("rewards: decode inv: %w", err)
	}
	toClaim, err := amount.FromBig(s.ToClaim)
	if err != nil {
		return nil, fmt.Errorf("rewards: decode to_claim: %w", err)
	}
	claimed, err := amount.FromBig(s.Claimed)
	if err != nil {
		return nil, fmt.Errorf("rewards: decode claimed: %w", err)
	}
	return &UserState{Block: s.Block, Inv: inv, ToClaim: toClaim, Claimed: claimed}, nil
}
