package core

import (
	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/core/state"
	"poolrewards/native/boost"
	"poolrewards/native/rewards"
)

// stakeView reads pool shares from the share token ledger.
type stakeView struct {
	state *state.Manager
}

func (v *stakeView) TotalShares(pool [20]byte) (*uint256.Int, error) {
	return v.state.TotalSupply(ShareTokenSymbol(pool))
}

func (v *stakeView) Shares(pool, user [20]byte) (*uint256.Int, error) {
	return v.state.Balance(user, ShareTokenSymbol(pool))
}

// lockView reads governance locks from the lock token ledger.
type lockView struct {
	state *state.Manager
	token string
}

func (v *lockView) LockedBalance(user [20]byte) (*uint256.Int, error) {
	if !v.state.TokenExists(v.token) {
		return amount.Zero(), nil
	}
	return v.state.Balance(user, v.token)
}

func (v *lockView) TotalLocked() (*uint256.Int, error) {
	if !v.state.TokenExists(v.token) {
		return amount.Zero(), nil
	}
	return v.state.TotalSupply(v.token)
}

// liquidityOracle serves the liquidity depth recorded by SetLiquidity.
type liquidityOracle struct {
	state *state.Manager
}

func (o *liquidityOracle) Liquidity(pool [20]byte) (*uint256.Int, error) {
	return (&poolRegistry{state: o.state}).liquidity(pool)
}

// poolDispatcher routes per-pool reward calls to the engine owning the pool.
type poolDispatcher struct {
	registry *poolRegistry
	standard *rewards.Engine
	boosted  *boost.Engine
}

type poolRewards interface {
	SetRewardsConfig(pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error
	ConfiguredTotal(pool [20]byte, now uint64) (*uint256.Int, error)
	ClaimedTotal(pool [20]byte) (*uint256.Int, error)
	RewardToken(pool [20]byte) (string, error)
	Reserve(pool [20]byte) ([20]byte, error)
	Claim(pool, user [20]byte, now uint64) (*uint256.Int, error)
}

func (d *poolDispatcher) engine(pool [20]byte) (poolRewards, error) {
	rec, err := d.registry.record(pool)
	if err != nil {
		return nil, err
	}
	if rec.Boosted() {
		return d.boosted, nil
	}
	return d.standard, nil
}

func (d *poolDispatcher) SetRewardsConfig(pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error {
	engine, err := d.engine(pool)
	if err != nil {
		return err
	}
	return engine.SetRewardsConfig(pool, tps, expiresAt, now)
}

func (d *poolDispatcher) ConfiguredTotal(pool [20]byte, now uint64) (*uint256.Int, error) {
	engine, err := d.engine(pool)
	if err != nil {
		return nil, err
	}
	return engine.ConfiguredTotal(pool, now)
}

func (d *poolDispatcher) ClaimedTotal(pool [20]byte) (*uint256.Int, error) {
	engine, err := d.engine(pool)
	if err != nil {
		return nil, err
	}
	return engine.ClaimedTotal(pool)
}

func (d *poolDispatcher) RewardToken(pool [20]byte) (string, error) {
	engine, err := d.engine(pool)
	if err != nil {
		return "", err
	}
	return engine.RewardToken(pool)
}

func (d *poolDispatcher) Reserve(pool [20]byte) ([20]byte, error) {
	engine, err := d.engine(pool)
	if err != nil {
		return [20]byte{}, err
	}
	return engine.Reserve(pool)
}

func (d *poolDispatcher) Claim(pool, user [20]byte, now uint64) (*uint256.Int, error) {
	engine, err := d.engine(pool)
	if err != nil {
		return nil, err
	}
	return engine.Claim(pool, user, now)
}
