package boost

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

// Schedule is one emission window of a boosted pool. Windows may start in the
// future and may overlap; overlapping windows add their rates.
type Schedule struct {
	StartAt   uint64
	ExpiresAt uint64
	TPS       *uint256.Int
}

// PoolState is the accumulator of a boosted pool. Rewards are shared in
// proportion to working balances, so Inv is reward per unit of working supply.
// Undistributed counts reward promoted while the working supply was zero.
type PoolState struct {
	Epoch         uint64
	Inv           *uint256.Int
	Accumulated   *uint256.Int
	Undistributed *uint256.Int
	Claimed       *uint256.Int
	WorkingSupply *uint256.Int
	Schedules     []Schedule
	RewardToken   string
	Reserve       [20]byte
}

func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	out := &PoolState{
		Epoch:         p.Epoch,
		Inv:           amount.Clone(p.Inv),
		Accumulated:   amount.Clone(p.Accumulated),
		Undistributed: amount.Clone(p.Undistributed),
		Claimed:       amount.Clone(p.Claimed),
		WorkingSupply: amount.Clone(p.WorkingSupply),
		RewardToken:   p.RewardToken,
		Reserve:       p.Reserve,
	}
	for _, s := range p.Schedules {
		out.Schedules = append(out.Schedules, Schedule{StartAt: s.StartAt, ExpiresAt: s.ExpiresAt, TPS: amount.Clone(s.TPS)})
	}
	return out
}

// UserState is the checkpoint of one account in one boosted pool.
type UserState struct {
	Inv            *uint256.Int
	ToClaim        *uint256.Int
	Claimed        *uint256.Int
	WorkingBalance *uint256.Int
}

func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	return &UserState{
		Inv:            amount.Clone(u.Inv),
		ToClaim:        amount.Clone(u.ToClaim),
		Claimed:        amount.Clone(u.Claimed),
		WorkingBalance: amount.Clone(u.WorkingBalance),
	}
}

// Info is the read-only bundle returned by RewardsInfo.
type Info struct {
	TPS            *uint256.Int
	ExpiresAt      uint64
	Accumulated    *uint256.Int
	Claimed        *uint256.Int
	Pending        *uint256.Int
	WorkingBalance *uint256.Int
	WorkingSupply  *uint256.Int
	Schedules      []Schedule
}

type storedSchedule struct {
	StartAt   uint64
	ExpiresAt uint64
	TPS       *big.Int
}

type storedPoolState struct {
	Epoch         uint64
	Inv           *big.Int
	Accumulated   *big.Int
	Claimed       *big.Int
	WorkingSupply *big.Int
	Schedules     []storedSchedule
	RewardToken   string
	Reserve       [20]byte
	Undistributed *big.Int `rlp:"optional"`
}

func newStoredPoolState(p *PoolState) *storedPoolState {
	stored := &storedPoolState{
		Epoch:         p.Epoch,
		Inv:           amount.ToBig(p.Inv),
		Accumulated:   amount.ToBig(p.Accumulated),
		Claimed:       amount.ToBig(p.Claimed),
		WorkingSupply: amount.ToBig(p.WorkingSupply),
		Schedules:     make([]storedSchedule, 0, len(p.Schedules)),
		RewardToken:   p.RewardToken,
		Reserve:       p.Reserve,
		Undistributed: amount.ToBig(p.Undistributed),
	}
	for _, s := range p.Schedules {
		stored.Schedules = append(stored.Schedules, storedSchedule{StartAt: s.StartAt, ExpiresAt: s.ExpiresAt, TPS: amount.ToBig(s.TPS)})
	}
	return stored
}

func (s *storedPoolState) toPoolState() (*PoolState, error) {
	decode := func(name string, v *big.Int) (*uint256.Int, error) {
		out, err := amount.FromBig(v)
		if err != nil {
			return nil, fmt.Errorf("boost: decode %s: %w", name, err)
		}
		return out, nil
	}
	var (
		p   = &PoolState{Epoch: s.Epoch, RewardToken: s.RewardToken, Reserve: s.Reserve}
		err error
	)
	if p.Inv, err = decode("inv", s.Inv); err != nil {
		return nil, err
	}
	if p.Accumulated, err = decode("accumulated", s.Accumulated); err != nil {
		return nil, err
	}
	if p.Undistributed, err = decode("undistributed", s.Undistributed); err != nil {
		return nil, err
	}
	if p.Claimed, err = decode("claimed", s.Claimed); err != nil {
		return nil, err
	}
	if p.WorkingSupply, err = decode("working supply", s.WorkingSupply); err != nil {
		return nil, err
	}
	for _, stored := range s.Schedules {
		tps, err := decode("schedule tps", stored.TPS)
		if err != nil {
			return nil, err
		}
		p.Schedules = append(p.Schedules, Schedule{StartAt: stored.StartAt, ExpiresAt: stored.ExpiresAt, TPS: tps})
	}
	return p, nil
}

type storedUserState struct {
	Inv            *big.Int
	ToClaim        *big.Int
	Claimed        *big.Int
	WorkingBalance *big.Int
}

func newStoredUserState(u *UserState) *storedUserState {
	return &storedUserState{
		Inv:            amount.ToBig(u.Inv),
		ToClaim:        amount.ToBig(u.ToClaim),
		Claimed:        amount.ToBig(u.Claimed),
		WorkingBalance: amount.ToBig(u.WorkingBalance),
	}
}

func (s *storedUserState) toUserState() (*UserState, error) {
	fields := []*big.Int{s.Inv, s.ToClaim, s.Claimed, s.WorkingBalance}
	out := make([]*uint256.Int, len(fields))
	for i, v := range fields {
		decoded, err := amount.FromBig(v)
		if err != nil {
			return nil, fmt.Errorf("boost: decode user state: %w", err)
		}
		out[i] = decoded
	}
	return &UserState{Inv: out[0], ToClaim: out[1], Claimed: out[2], WorkingBalance: out[3]}, nil
}
