// Package router splits one global emission budget across pools. Each epoch
// earmarks voting shares per token set; liquidity is frozen per token set
// before any pool of that set is allocated its rate.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/crypto"
	nativecommon "poolrewards/native/common"
	"poolrewards/observability/metrics"
)

const moduleName = "router"

var (
	ErrAlreadyConfigured     = errors.New("router: epoch already configured at this timestamp")
	ErrAlreadyFilled         = errors.New("router: liquidity already filled for token set")
	ErrLiquidityNotFilled    = errors.New("router: liquidity not filled for token set")
	ErrTokenSetNotConfigured = errors.New("router: token set has no share in the current epoch")
	ErrDuplicateTokenSet     = errors.New("router: token set listed twice")
	ErrSharesExceedTotal     = errors.New("router: voting shares exceed 100%")
	ErrNoEpoch               = errors.New("router: no global epoch configured")
	ErrEpochExpired          = errors.New("router: global epoch has expired")
	ErrInvalidExpiration     = errors.New("router: expiration must be in the future")
	ErrPoolNotInTokenSet     = errors.New("router: pool was filled under a different token set")
	ErrSourceNotCaller       = errors.New("router: funding source must be the caller")
	errNilState              = errors.New("router engine: state not configured")
	errMissingCollaborator   = errors.New("router engine: collaborator not configured")
)

// Storage is the persistence surface required by the engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// LiquidityOracle reports the current liquidity depth of a pool.
type LiquidityOracle interface {
	Liquidity(pool [20]byte) (*uint256.Int, error)
}

// PoolRegistry lists the pools trading a token set.
type PoolRegistry interface {
	Pools(tokens []string) ([][20]byte, error)
}

// PoolRewards is the per-pool reward engine the router drives.
type PoolRewards interface {
	SetRewardsConfig(pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error
	ConfiguredTotal(pool [20]byte, now uint64) (*uint256.Int, error)
	ClaimedTotal(pool [20]byte) (*uint256.Int, error)
	RewardToken(pool [20]byte) (string, error)
	Reserve(pool [20]byte) ([20]byte, error)
	Claim(pool, user [20]byte, now uint64) (*uint256.Int, error)
}

// Engine is the distribution router.
type Engine struct {
	state     Storage
	auth      nativecommon.Authorizer
	bank      nativecommon.Bank
	oracle    LiquidityOracle
	registry  PoolRegistry
	pools     PoolRewards
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	telemetry *metrics.RewardsMetrics
}

func NewEngine() *Engine {
	return &Engine{logger: slog.Default(), telemetry: metrics.Rewards()}
}

func (e *Engine) SetState(state Storage) { e.state = state }
func (e *Engine) SetAuthorizer(auth nativecommon.Authorizer) { e.auth = auth }
func (e *Engine) SetBank(bank nativecommon.Bank) { e.bank = bank }
func (e *Engine) SetOracle(oracle LiquidityOracle) { e.oracle = oracle }
func (e *Engine) SetRegistry(registry PoolRegistry) { e.registry = registry }
func (e *Engine) SetPoolRewards(pools PoolRewards) { e.pools = pools }
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) require(collaborators ...interface{}) error {
	if e.state == nil {
		return errNilState
	}
	for _, c := range collaborators {
		if c == nil {
			return errMissingCollaborator
		}
	}
	return nil
}

// Epoch returns the current global epoch.
func (e *Engine) Epoch() (*GlobalEpoch, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedEpoch
	ok, err := e.state.KVGet(epochKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	epoch, err := stored.toEpoch()
	if err != nil {
		return nil, false, err
	}
	return epoch, true, nil
}

func (e *Engine) requireEpoch() (*GlobalEpoch, error) {
	epoch, ok, err := e.Epoch()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoEpoch
	}
	return epoch, nil
}

func (e *Engine) tokenSet(epoch uint64, id [32]byte) (*TokenSetReward, bool, error) {
	var stored storedTokenSetReward
	ok, err := e.state.KVGet(tokenSetKey(epoch, id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	reward, err := stored.toTokenSetReward()
	if err != nil {
		return nil, false, err
	}
	return reward, true, nil
}

func (e *Engine) allocation(epoch uint64, pool [20]byte) (*PoolAllocation, bool, error) {
	var stored storedAllocation
	ok, err := e.state.KVGet(allocationKey(epoch, pool), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	alloc, err := stored.toAllocation()
	if err != nil {
		return nil, false, err
	}
	return alloc, true, nil
}

// TokenSetReward returns the current-epoch state of a token set.
func (e *Engine) TokenSetReward(tokens []string) (*TokenSetReward, bool, error) {
	normalized, err := NormalizeTokens(tokens)
	if err != nil {
		return nil, false, err
	}
	epoch, err := e.requireEpoch()
	if err != nil {
		return nil, false, err
	}
	return e.tokenSet(epoch.Epoch, TokenSetID(normalized))
}

// PoolAllocation returns the current-epoch allocation of a pool.
func (e *Engine) PoolAllocation(pool [20]byte) (*PoolAllocation, bool, error) {
	epoch, err := e.requireEpoch()
	if err != nil {
		return nil, false, err
	}
	return e.allocation(epoch.Epoch, pool)
}

// ConfigureGlobal starts a new epoch splitting tps across the listed token
// sets until expiresAt. The new epoch fully supersedes the previous one.
func (e *Engine) ConfigureGlobal(caller [20]byte, tps *uint256.Int, expiresAt uint64, shares []TokenShare, now uint64) (*GlobalEpoch, error) {
	if err := e.require(e.auth); err != nil {
		return nil, err
	}
	if err := e.auth.RequireRole(caller, nativecommon.RoleAdmin); err != nil {
		return nil, err
	}
	if expiresAt <= now {
		return nil, fmt.Errorf("%w: expires_at=%d now=%d", ErrInvalidExpiration, expiresAt, now)
	}
	prev, ok, err := e.Epoch()
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	if ok {
		if prev.StartedAt == now {
			return nil, fmt.Errorf("%w: epoch %d started at %d", ErrAlreadyConfigured, prev.Epoch, now)
		}
		next = prev.Epoch + 1
	}

	total := amount.Zero()
	seen := make(map[[32]byte]struct{}, len(shares))
	records := make([]*TokenSetReward, 0, len(shares))
	sets := make([][]string, 0, len(shares))
	for _, share := range shares {
		normalized, err := NormalizeTokens(share.Tokens)
		if err != nil {
			return nil, err
		}
		id := TokenSetID(normalized)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateTokenSet, normalized)
		}
		seen[id] = struct{}{}
		if total, err = amount.Add(total, share.Share); err != nil {
			return nil, err
		}
		records = append(records, &TokenSetReward{
			Tokens:         normalized,
			VotingShare:    amount.Clone(share.Share),
			TotalLiquidity: amount.Zero(),
		})
		sets = append(sets, normalized)
	}
	if total.Gt(amount.Unit) {
		return nil, fmt.Errorf("%w: %s", ErrSharesExceedTotal, amount.Format(total))
	}

	epoch := &GlobalEpoch{Epoch: next, TPS: amount.Clone(tps), ExpiresAt: expiresAt, StartedAt: now, TokenSets: sets}
	for _, record := range records {
		if err := e.state.KVPut(tokenSetKey(next, TokenSetID(record.Tokens)), newStoredTokenSetReward(record)); err != nil {
			return nil, err
		}
	}
	stored := &storedEpoch{Epoch: next, TPS: amount.ToBig(tps), ExpiresAt: expiresAt, StartedAt: now, TokenSets: sets}
	if err := e.state.KVPut(epochKey, stored); err != nil {
		return nil, err
	}
	if ok {
		if err := e.windDown(prev, expiresAt, now); err != nil {
			return nil, err
		}
	}
	e.telemetry.SetGlobalEpoch(next)
	e.logger.Info("router: global epoch configured",
		"epoch", next, "tps", amount.Format(tps), "expires_at", expiresAt, "token_sets", len(sets))
	return epoch, nil
}

// windDown zeroes the rate of every pool the previous epoch configured, so
// only pools allocated under the new epoch emit from now on.
func (e *Engine) windDown(prev *GlobalEpoch, expiresAt, now uint64) error {
	if prev.ExpiresAt <= now {
		return nil
	}
	if err := e.require(e.registry, e.pools); err != nil {
		return err
	}
	stopped := 0
	for _, tokens := range prev.TokenSets {
		pools, err := e.registry.Pools(tokens)
		if err != nil {
			return err
		}
		for _, pool := range pools {
			alloc, ok, err := e.allocation(prev.Epoch, pool)
			if err != nil {
				return err
			}
			if !ok || !alloc.Configured || amount.IsZero(alloc.TPS) {
				continue
			}
			if err := e.pools.SetRewardsConfig(pool, amount.Zero(), expiresAt, now); err != nil {
				return fmt.Errorf("router: wind down pool %s: %w", crypto.AddressFromRaw(crypto.PoolPrefix, pool), err)
			}
			stopped++
		}
	}
	if stopped > 0 {
		e.logger.Info("router: previous epoch wound down", "epoch", prev.Epoch, "pools", stopped)
	}
	return nil
}

// FillLiquidity freezes the liquidity of every pool trading tokens for the
// current epoch. It may be called by anyone, once per token set per epoch.
func (e *Engine) FillLiquidity(tokens []string) (*uint256.Int, error) {
	if err := e.require(e.oracle, e.registry); err != nil {
		return nil, err
	}
	normalized, err := NormalizeTokens(tokens)
	if err != nil {
		return nil, err
	}
	epoch, err := e.requireEpoch()
	if err != nil {
		return nil, err
	}
	id := TokenSetID(normalized)
	set, ok, err := e.tokenSet(epoch.Epoch, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTokenSetNotConfigured, normalized)
	}
	if set.Processed {
		return nil, fmt.Errorf("%w: %v in epoch %d", ErrAlreadyFilled, normalized, epoch.Epoch)
	}
	pools, err := e.registry.Pools(normalized)
	if err != nil {
		return nil, err
	}
	total := amount.Zero()
	for _, pool := range pools {
		liquidity, err := e.oracle.Liquidity(pool)
		if err != nil {
			return nil, err
		}
		alloc := &PoolAllocation{Tokens: normalized, Liquidity: amount.Clone(liquidity), TPS: amount.Zero()}
		if err := e.state.KVPut(allocationKey(epoch.Epoch, pool), newStoredAllocation(alloc)); err != nil {
			return nil, err
		}
		if total, err = amount.Add(total, liquidity); err != nil {
			return nil, err
		}
	}
	set.Processed = true
	set.TotalLiquidity = total
	if err := e.state.KVPut(tokenSetKey(epoch.Epoch, id), newStoredTokenSetReward(set)); err != nil {
		return nil, err
	}
	e.logger.Info("router: liquidity filled",
		"epoch", epoch.Epoch, "tokens", normalized, "pools", len(pools), "total", amount.Format(total))
	return total, nil
}

// PoolRate is tps * share * liquidity / (1_0000000 * total), rounded down.
func PoolRate(tps, share, liquidity, total *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero(total) || amount.IsZero(liquidity) {
		return amount.Zero(), nil
	}
	weighted, err := amount.Mul(tps, share)
	if err != nil {
		return nil, err
	}
	denom, err := amount.Mul(amount.Unit, total)
	if err != nil {
		return nil, err
	}
	return amount.MulDiv(weighted, liquidity, denom)
}

// ConfigPoolRewards pushes the pool's slice of the epoch budget into its
// reward engine. The allocation is marked configured and persisted before the
// push, so repeated or re-entrant calls return the stored rate.
func (e *Engine) ConfigPoolRewards(pool [20]byte, tokens []string, now uint64) (*uint256.Int, error) {
	if err := e.require(e.pools); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeTokens(tokens)
	if err != nil {
		return nil, err
	}
	epoch, err := e.requireEpoch()
	if err != nil {
		return nil, err
	}
	set, ok, err := e.tokenSet(epoch.Epoch, TokenSetID(normalized))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTokenSetNotConfigured, normalized)
	}
	if !set.Processed {
		return nil, fmt.Errorf("%w: %v", ErrLiquidityNotFilled, normalized)
	}
	alloc, ok, err := e.allocation(epoch.Epoch, pool)
	if err != nil {
		return nil, err
	}
	outcome := "configured"
	switch {
	case !ok:
		alloc = &PoolAllocation{Tokens: normalized, Liquidity: amount.Zero(), TPS: amount.Zero()}
		outcome = "absent"
	case alloc.Configured:
		e.telemetry.ObserveAllocation("repeat")
		return amount.Clone(alloc.TPS), nil
	case !slices.Equal(alloc.Tokens, normalized):
		return nil, fmt.Errorf("%w: filled under %v", ErrPoolNotInTokenSet, alloc.Tokens)
	}
	if epoch.ExpiresAt <= now {
		return nil, fmt.Errorf("%w: epoch %d expired at %d", ErrEpochExpired, epoch.Epoch, epoch.ExpiresAt)
	}
	rate, err := PoolRate(epoch.TPS, set.VotingShare, alloc.Liquidity, set.TotalLiquidity)
	if err != nil {
		return nil, err
	}
	alloc.Configured = true
	alloc.TPS = rate
	if err := e.state.KVPut(allocationKey(epoch.Epoch, pool), newStoredAllocation(alloc)); err != nil {
		return nil, err
	}
	if err := e.pools.SetRewardsConfig(pool, rate, epoch.ExpiresAt, now); err != nil {
		return nil, err
	}
	e.telemetry.ObserveAllocation(outcome)
	e.logger.Info("router: pool rewards configured",
		"epoch", epoch.Epoch, "pool", crypto.AddressFromRaw(crypto.PoolPrefix, pool).String(), "tps", amount.Format(rate))
	return rate, nil
}

// DistributeOutstanding moves into the pool reserve exactly what the pool
// owes beyond its claimed total and current reserve balance. The caller funds
// the transfer from its own account.
func (e *Engine) DistributeOutstanding(caller, pool, source [20]byte, now uint64) (*uint256.Int, error) {
	if err := e.require(e.auth, e.bank, e.pools); err != nil {
		return nil, err
	}
	if err := e.auth.RequireRole(caller, nativecommon.RoleAdmin, nativecommon.RoleRewardsOperator); err != nil {
		return nil, err
	}
	if source != caller {
		return nil, ErrSourceNotCaller
	}
	configured, err := e.pools.ConfiguredTotal(pool, now)
	if err != nil {
		return nil, err
	}
	claimed, err := e.pools.ClaimedTotal(pool)
	if err != nil {
		return nil, err
	}
	token, err := e.pools.RewardToken(pool)
	if err != nil {
		return nil, err
	}
	reserve, err := e.pools.Reserve(pool)
	if err != nil {
		return nil, err
	}
	funded, err := e.bank.Balance(reserve, token)
	if err != nil {
		return nil, err
	}
	covered, err := amount.Add(claimed, funded)
	if err != nil {
		return nil, err
	}
	if !configured.Gt(covered) {
		return amount.Zero(), nil
	}
	outstanding := new(uint256.Int).Sub(configured, covered)
	if err := e.bank.Transfer(token, source, reserve, outstanding); err != nil {
		return nil, err
	}
	e.telemetry.ObserveDistributed(outstanding)
	return outstanding, nil
}

// Claim claims user's rewards from every listed pool and returns the total.
func (e *Engine) Claim(user [20]byte, pools [][20]byte, now uint64) (*uint256.Int, error) {
	if err := e.require(e.pools); err != nil {
		return nil, err
	}
	total := amount.Zero()
	for _, pool := range pools {
		paid, err := e.pools.Claim(pool, user, now)
		if err != nil {
			return nil, err
		}
		if total, err = amount.Add(total, paid); err != nil {
			return nil, err
		}
	}
	return total, nil
}
