package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/core/state"
	"poolrewards/crypto"
	"poolrewards/native/accrual"
	"poolrewards/native/boost"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/rewards"
	"poolrewards/native/router"
)

var (
	ErrAlreadyBootstrapped = errors.New("processor: admin already bootstrapped")
	ErrInvalidAmount       = errors.New("processor: amount must be positive")
	ErrReservedToken       = errors.New("processor: token is managed by the processor")
	ErrLegacyKind          = errors.New("processor: only paginated pools carry legacy history")
)

const shareTokenPrefix = "LP-"

// PoolSpec describes a pool to register.
type PoolSpec struct {
	Pool        [20]byte
	Kind        string
	Tokens      []string
	RewardToken string
	Reserve     [20]byte
}

// LegacyStake is a staker of an imported pool: its share balance and its
// checkpoint in the exported history.
type LegacyStake struct {
	User    [20]byte
	Shares  *uint256.Int
	Block   uint64
	ToClaim *uint256.Int
	Claimed *uint256.Int
}

// LegacyPool is the accrual history of a paginated pool exported from the
// one-record-per-block layout.
type LegacyPool struct {
	State    accrual.PoolState
	PerBlock []*uint256.Int
	Stakes   []LegacyStake
}

// RewardsInfo is the read-only view of one pool and one account, across both
// standard and boosted pools.
type RewardsInfo struct {
	Pool           [20]byte
	Kind           string
	RewardToken    string
	TPS            *uint256.Int
	ExpiresAt      uint64
	Accumulated    *uint256.Int
	Claimed        *uint256.Int
	Pending        *uint256.Int
	Stake          *uint256.Int
	TotalShares    *uint256.Int
	WorkingBalance *uint256.Int
	WorkingSupply  *uint256.Int
	Schedules      []boost.Schedule
}

func requirePositive(v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (p *Processor) reservedToken(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	return normalized == p.opts.LockToken || strings.HasPrefix(normalized, shareTokenPrefix)
}

// Bootstrap grants the admin role to admin and registers the lock token. It
// succeeds only once.
func (p *Processor) Bootstrap(ctx context.Context, admin [20]byte) error {
	return p.execute(ctx, "bootstrap", func(_ context.Context, env *Env) error {
		members, err := env.State.RoleMembers(nativecommon.RoleAdmin)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			return ErrAlreadyBootstrapped
		}
		if err := env.State.SetRole(nativecommon.RoleAdmin, admin); err != nil {
			return err
		}
		if !env.State.TokenExists(p.opts.LockToken) {
			if err := env.State.RegisterToken(p.opts.LockToken, "Governance lock", amount.Decimals); err != nil {
				return err
			}
		}
		env.Logger.Info("processor bootstrapped", "admin", crypto.AddressFromRaw(crypto.AccountPrefix, admin).String())
		return nil
	})
}

// GrantRole assigns role to addr. Only admins may grant roles.
func (p *Processor) GrantRole(ctx context.Context, caller [20]byte, role string, addr [20]byte) error {
	return p.execute(ctx, "grant_role", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin); err != nil {
			return err
		}
		switch role {
		case nativecommon.RoleAdmin, nativecommon.RoleRewardsOperator:
		default:
			return fmt.Errorf("processor: unknown role %q", role)
		}
		return env.State.SetRole(role, addr)
	})
}

// RegisterToken registers a reward token.
func (p *Processor) RegisterToken(ctx context.Context, caller [20]byte, symbol, name string) error {
	return p.execute(ctx, "register_token", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin); err != nil {
			return err
		}
		if p.reservedToken(symbol) {
			return fmt.Errorf("%w: %s", ErrReservedToken, symbol)
		}
		return env.State.RegisterToken(symbol, name, amount.Decimals)
	})
}

// CreatePool registers a pool, its share token and its reward state.
func (p *Processor) CreatePool(ctx context.Context, caller [20]byte, spec PoolSpec, now uint64) error {
	return p.execute(ctx, "create_pool", func(_ context.Context, env *Env) error {
		rec, err := registerPool(env, caller, spec)
		if err != nil {
			return err
		}
		if rec.Boosted() {
			err = env.Boost.CreatePool(spec.Pool, spec.RewardToken, spec.Reserve, now)
		} else {
			accKind, kindErr := rec.AccrualKind()
			if kindErr != nil {
				return kindErr
			}
			err = env.Rewards.CreatePool(spec.Pool, accKind, spec.RewardToken, spec.Reserve, now)
		}
		if err != nil {
			return err
		}
		env.Logger.Info("pool created",
			"pool", crypto.AddressFromRaw(crypto.PoolPrefix, spec.Pool).String(),
			"kind", rec.Kind,
			"tokens", strings.Join(rec.Tokens, "/"))
		return nil
	})
}

// ImportLegacyPool registers a paginated pool together with its exported
// per-block history and staker checkpoints. Share tokens are minted to the
// stakers so later checkpoints settle against the imported balances.
func (p *Processor) ImportLegacyPool(ctx context.Context, caller [20]byte, spec PoolSpec, legacy LegacyPool) error {
	return p.execute(ctx, "import_legacy_pool", func(_ context.Context, env *Env) error {
		kind, err := NormalizePoolKind(spec.Kind)
		if err != nil {
			return err
		}
		if kind != PoolKindPaginated || legacy.State.Kind != accrual.KindPaginated {
			return ErrLegacyKind
		}
		rec, err := registerPool(env, caller, spec)
		if err != nil {
			return err
		}
		users := make([]rewards.LegacyUser, 0, len(legacy.Stakes))
		for _, stake := range legacy.Stakes {
			users = append(users, rewards.LegacyUser{User: stake.User, Block: stake.Block, ToClaim: stake.ToClaim, Claimed: stake.Claimed})
		}
		st := legacy.State.Clone()
		if err := env.Rewards.ImportPool(spec.Pool, spec.RewardToken, spec.Reserve, st, legacy.PerBlock, users); err != nil {
			return err
		}
		for _, stake := range legacy.Stakes {
			if amount.IsZero(stake.Shares) {
				continue
			}
			if err := env.State.Mint(stake.User, rec.ShareToken, stake.Shares); err != nil {
				return err
			}
		}
		env.Logger.Info("legacy pool imported",
			"pool", crypto.AddressFromRaw(crypto.PoolPrefix, spec.Pool).String(),
			"block", st.Block,
			"stakers", len(legacy.Stakes))
		return nil
	})
}

// registerPool records the pool in the registry and creates its share token.
func registerPool(env *Env, caller [20]byte, spec PoolSpec) (*PoolRecord, error) {
	if err := env.State.RequireRole(caller, nativecommon.RoleAdmin); err != nil {
		return nil, err
	}
	kind, err := NormalizePoolKind(spec.Kind)
	if err != nil {
		return nil, err
	}
	tokens, err := router.NormalizeTokens(spec.Tokens)
	if err != nil {
		return nil, err
	}
	if !env.State.TokenExists(spec.RewardToken) {
		return nil, fmt.Errorf("%w: %s", state.ErrTokenNotRegistered, spec.RewardToken)
	}
	rec := &PoolRecord{Kind: kind, Tokens: tokens, ShareToken: ShareTokenSymbol(spec.Pool)}
	if err := env.registry.register(spec.Pool, rec); err != nil {
		return nil, err
	}
	if err := env.State.RegisterToken(rec.ShareToken, "Pool shares", amount.Decimals); err != nil {
		return nil, err
	}
	return rec, nil
}

// Deposit mints value pool shares to user. Standard pools settle the user
// before the stake changes; boosted pools recompute the working balance
// after it.
func (p *Processor) Deposit(ctx context.Context, pool, user [20]byte, value *uint256.Int, now uint64) error {
	return p.execute(ctx, "deposit", func(_ context.Context, env *Env) error {
		if err := requirePositive(value); err != nil {
			return err
		}
		rec, err := env.registry.record(pool)
		if err != nil {
			return err
		}
		if rec.Boosted() {
			if err := env.State.Mint(user, rec.ShareToken, value); err != nil {
				return err
			}
			_, err = env.Boost.CheckpointWorkingBalance(pool, user, now)
			return err
		}
		if _, err := env.Rewards.Checkpoint(pool, user, now); err != nil {
			return err
		}
		return env.State.Mint(user, rec.ShareToken, value)
	})
}

// Withdraw burns value pool shares from user.
func (p *Processor) Withdraw(ctx context.Context, pool, user [20]byte, value *uint256.Int, now uint64) error {
	return p.execute(ctx, "withdraw", func(_ context.Context, env *Env) error {
		if err := requirePositive(value); err != nil {
			return err
		}
		rec, err := env.registry.record(pool)
		if err != nil {
			return err
		}
		if rec.Boosted() {
			if err := env.State.Burn(user, rec.ShareToken, value); err != nil {
				return err
			}
			_, err = env.Boost.CheckpointWorkingBalance(pool, user, now)
			return err
		}
		if _, err := env.Rewards.Checkpoint(pool, user, now); err != nil {
			return err
		}
		return env.State.Burn(user, rec.ShareToken, value)
	})
}

// SetLock sets the governance lock balance of user and refreshes the user's
// working balance in every boosted pool.
func (p *Processor) SetLock(ctx context.Context, user [20]byte, locked *uint256.Int, now uint64) error {
	return p.execute(ctx, "set_lock", func(_ context.Context, env *Env) error {
		if locked == nil {
			return ErrInvalidAmount
		}
		current, err := env.State.Balance(user, p.opts.LockToken)
		if err != nil {
			return err
		}
		switch locked.Cmp(current) {
		case 1:
			err = env.State.Mint(user, p.opts.LockToken, new(uint256.Int).Sub(locked, current))
		case -1:
			err = env.State.Burn(user, p.opts.LockToken, new(uint256.Int).Sub(current, locked))
		}
		if err != nil {
			return err
		}
		pools, err := env.Boost.Pools()
		if err != nil {
			return err
		}
		return env.Boost.OnLockChanged(user, pools, now)
	})
}

// Mint credits value of a reward token to addr, typically to fund a reserve
// or a distribution source.
func (p *Processor) Mint(ctx context.Context, caller, to [20]byte, token string, value *uint256.Int) error {
	return p.execute(ctx, "mint", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin); err != nil {
			return err
		}
		if err := requirePositive(value); err != nil {
			return err
		}
		if p.reservedToken(token) {
			return fmt.Errorf("%w: %s", ErrReservedToken, token)
		}
		return env.State.Mint(to, token, value)
	})
}

// SetLiquidity records the liquidity depth read by FillLiquidity.
func (p *Processor) SetLiquidity(ctx context.Context, caller, pool [20]byte, value *uint256.Int) error {
	return p.execute(ctx, "set_liquidity", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin, nativecommon.RoleRewardsOperator); err != nil {
			return err
		}
		if value == nil {
			return ErrInvalidAmount
		}
		if _, err := env.registry.record(pool); err != nil {
			return err
		}
		return env.registry.setLiquidity(pool, value)
	})
}

// SetRewardsConfig replaces the emission of pool directly.
func (p *Processor) SetRewardsConfig(ctx context.Context, caller, pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error {
	return p.execute(ctx, "set_rewards_config", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin, nativecommon.RoleRewardsOperator); err != nil {
			return err
		}
		if tps == nil {
			return ErrInvalidAmount
		}
		return env.pools.SetRewardsConfig(pool, tps, expiresAt, now)
	})
}

// Schedule adds an emission window to a boosted pool.
func (p *Processor) Schedule(ctx context.Context, caller, pool [20]byte, startAt *uint64, duration uint64, tps *uint256.Int, now uint64) (*boost.Schedule, error) {
	var out *boost.Schedule
	err := p.execute(ctx, "schedule", func(_ context.Context, env *Env) error {
		if err := env.State.RequireRole(caller, nativecommon.RoleAdmin, nativecommon.RoleRewardsOperator); err != nil {
			return err
		}
		rec, err := env.registry.record(pool)
		if err != nil {
			return err
		}
		if !rec.Boosted() {
			return ErrNotBoosted
		}
		out, err = env.Boost.Schedule(pool, startAt, duration, tps, now)
		return err
	})
	return out, err
}

// Claim pays user's rewards in pool and returns the amount paid.
func (p *Processor) Claim(ctx context.Context, pool, user [20]byte, now uint64) (*uint256.Int, error) {
	var paid *uint256.Int
	err := p.execute(ctx, "claim", func(_ context.Context, env *Env) error {
		var err error
		paid, err = env.pools.Claim(pool, user, now)
		return err
	})
	return paid, err
}

// ClaimAll claims user's rewards from every listed pool in one execution.
func (p *Processor) ClaimAll(ctx context.Context, user [20]byte, pools [][20]byte, now uint64) (*uint256.Int, error) {
	var paid *uint256.Int
	err := p.execute(ctx, "claim_all", func(_ context.Context, env *Env) error {
		var err error
		paid, err = env.Router.Claim(user, pools, now)
		return err
	})
	return paid, err
}

// RewardsInfo reports the pool emission and the pending rewards of user
// without mutating state.
func (p *Processor) RewardsInfo(ctx context.Context, pool, user [20]byte, now uint64) (*RewardsInfo, error) {
	var out *RewardsInfo
	err := p.query(ctx, "rewards_info", func(_ context.Context, env *Env) error {
		rec, err := env.registry.record(pool)
		if err != nil {
			return err
		}
		token, err := env.pools.RewardToken(pool)
		if err != nil {
			return err
		}
		info := &RewardsInfo{Pool: pool, Kind: rec.Kind, RewardToken: token}
		if rec.Boosted() {
			bi, err := env.Boost.RewardsInfo(pool, user, now)
			if err != nil {
				return err
			}
			stakes := &stakeView{state: env.State}
			if info.Stake, err = stakes.Shares(pool, user); err != nil {
				return err
			}
			if info.TotalShares, err = stakes.TotalShares(pool); err != nil {
				return err
			}
			info.TPS, info.ExpiresAt = bi.TPS, bi.ExpiresAt
			info.Accumulated, info.Claimed, info.Pending = bi.Accumulated, bi.Claimed, bi.Pending
			info.WorkingBalance, info.WorkingSupply = bi.WorkingBalance, bi.WorkingSupply
			info.Schedules = bi.Schedules
		} else {
			ri, err := env.Rewards.RewardsInfo(pool, user, now)
			if err != nil {
				return err
			}
			info.TPS, info.ExpiresAt = ri.TPS, ri.ExpiresAt
			info.Accumulated, info.Claimed, info.Pending = ri.Accumulated, ri.Claimed, ri.Pending
			info.Stake, info.TotalShares = ri.Stake, ri.TotalShares
		}
		out = info
		return nil
	})
	return out, err
}

// ConfigureGlobal opens a new distribution epoch.
func (p *Processor) ConfigureGlobal(ctx context.Context, caller [20]byte, tps *uint256.Int, expiresAt uint64, shares []router.TokenShare, now uint64) (*router.GlobalEpoch, error) {
	var out *router.GlobalEpoch
	err := p.execute(ctx, "configure_global", func(_ context.Context, env *Env) error {
		var err error
		out, err = env.Router.ConfigureGlobal(caller, tps, expiresAt, shares, now)
		return err
	})
	return out, err
}

// FillLiquidity snapshots the liquidity of a token set for the current epoch.
func (p *Processor) FillLiquidity(ctx context.Context, tokens []string) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.execute(ctx, "fill_liquidity", func(_ context.Context, env *Env) error {
		var err error
		out, err = env.Router.FillLiquidity(tokens)
		return err
	})
	return out, err
}

// ConfigPoolRewards pushes the pool's share of the current epoch into its
// reward config. The token set is taken from the pool registry.
func (p *Processor) ConfigPoolRewards(ctx context.Context, pool [20]byte, now uint64) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.execute(ctx, "config_pool_rewards", func(_ context.Context, env *Env) error {
		rec, err := env.registry.record(pool)
		if err != nil {
			return err
		}
		out, err = env.Router.ConfigPoolRewards(pool, rec.Tokens, now)
		return err
	})
	return out, err
}

// DistributeOutstanding tops up the pool reserve from source.
func (p *Processor) DistributeOutstanding(ctx context.Context, caller, pool, source [20]byte, now uint64) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.execute(ctx, "distribute_outstanding", func(_ context.Context, env *Env) error {
		var err error
		out, err = env.Router.DistributeOutstanding(caller, pool, source, now)
		return err
	})
	return out, err
}

// Balance returns the token balance of addr.
func (p *Processor) Balance(ctx context.Context, addr [20]byte, token string) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.query(ctx, "balance", func(_ context.Context, env *Env) error {
		var err error
		out, err = env.State.Balance(addr, token)
		return err
	})
	return out, err
}

// Pool returns the registry entry of pool.
func (p *Processor) Pool(ctx context.Context, pool [20]byte) (*PoolRecord, error) {
	var out *PoolRecord
	err := p.query(ctx, "pool", func(_ context.Context, env *Env) error {
		var err error
		out, err = env.registry.record(pool)
		return err
	})
	return out, err
}

// Epoch returns the current distribution epoch, if any.
func (p *Processor) Epoch(ctx context.Context) (*router.GlobalEpoch, bool, error) {
	var (
		out *router.GlobalEpoch
		ok  bool
	)
	err := p.query(ctx, "epoch", func(_ context.Context, env *Env) error {
		var err error
		out, ok, err = env.Router.Epoch()
		return err
	})
	return out, ok, err
}

// PoolAllocation returns the pool's allocation record in the current epoch.
func (p *Processor) PoolAllocation(ctx context.Context, pool [20]byte) (*router.PoolAllocation, bool, error) {
	var (
		out *router.PoolAllocation
		ok  bool
	)
	err := p.query(ctx, "pool_allocation", func(_ context.Context, env *Env) error {
		var err error
		out, ok, err = env.Router.PoolAllocation(pool)
		return err
	})
	return out, ok, err
}
