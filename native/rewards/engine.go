// Package rewards credits liquidity providers of standard pools. Every stake
// change is preceded by a checkpoint that settles the account against the
// pool accumulator at the stake that was in force.
package rewards

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/native/accrual"
	nativecommon "poolrewards/native/common"
	"poolrewards/observability/metrics"
)

const moduleName = "rewards"

var (
	ErrInsufficientReserve = errors.New("rewards: reserve balance below claim")
	ErrInvalidRewardToken  = errors.New("rewards: reward token required")
	errNilState            = errors.New("rewards engine: state not configured")
	errNilStakes           = errors.New("rewards engine: stake view not configured")
	errNilBank             = errors.New("rewards engine: bank not configured")
)

// Storage is the persistence surface required by the engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// StakeView reports pool share balances.
type StakeView interface {
	TotalShares(pool [20]byte) (*uint256.Int, error)
	Shares(pool, user [20]byte) (*uint256.Int, error)
}

// Engine implements checkpoint and claim for standard pools on top of the
// accrual engine.
type Engine struct {
	state     Storage
	accrual   *accrual.Engine
	stakes    StakeView
	bank      nativecommon.Bank
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	telemetry *metrics.RewardsMetrics
}

// NewEngine wraps the accumulator engine.
func NewEngine(acc *accrual.Engine) *Engine {
	return &Engine{
		accrual:   acc,
		logger:    slog.Default(),
		telemetry: metrics.Rewards(),
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetStakeView wires the share balance collaborator.
func (e *Engine) SetStakeView(view StakeView) { e.stakes = view }

// SetBank wires the token transfer collaborator.
func (e *Engine) SetBank(bank nativecommon.Bank) { e.bank = bank }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Accrual exposes the underlying accumulator engine.
func (e *Engine) Accrual() *accrual.Engine { return e.accrual }

func (e *Engine) ready() error {
	switch {
	case e.state == nil:
		return errNilState
	case e.stakes == nil:
		return errNilStakes
	}
	return nil
}

// CreatePool registers a standard pool paying rewardToken out of reserve.
func (e *Engine) CreatePool(pool [20]byte, kind accrual.Kind, rewardToken string, reserve [20]byte, now uint64) error {
	if e.state == nil {
		return errNilState
	}
	token := strings.ToUpper(strings.TrimSpace(rewardToken))
	if token == "" {
		return ErrInvalidRewardToken
	}
	if _, err := e.accrual.CreatePool(pool, kind, now); err != nil {
		return err
	}
	return e.state.KVPut(poolMetaKey(pool), &PoolMeta{RewardToken: token, Reserve: reserve})
}

// ImportPool installs a paginated pool whose history lives in the legacy
// per-block layout, together with the checkpoints of its stakers. The pages
// are migrated lazily on first touch.
func (e *Engine) ImportPool(pool [20]byte, rewardToken string, reserve [20]byte, st *accrual.PoolState, perBlock []*uint256.Int, users []LegacyUser) error {
	if e.state == nil {
		return errNilState
	}
	token := strings.ToUpper(strings.TrimSpace(rewardToken))
	if token == "" {
		return ErrInvalidRewardToken
	}
	if st == nil {
		return accrual.ErrNotPaginated
	}
	for _, u := range users {
		if u.Block > st.Block {
			return fmt.Errorf("rewards: legacy checkpoint at block %d is ahead of pool block %d", u.Block, st.Block)
		}
	}
	if err := e.accrual.ImportLegacy(pool, st, perBlock); err != nil {
		return err
	}
	if err := e.state.KVPut(poolMetaKey(pool), &PoolMeta{RewardToken: token, Reserve: reserve}); err != nil {
		return err
	}
	for _, u := range users {
		checkpoint := &UserState{Block: u.Block, Inv: amount.Zero(), ToClaim: amount.Clone(u.ToClaim), Claimed: amount.Clone(u.Claimed)}
		if err := e.putUser(pool, u.User, checkpoint); err != nil {
			return err
		}
	}
	e.logger.Info("rewards: legacy pool imported", "block", st.Block, "users", len(users))
	return nil
}

// Meta returns the payout binding of pool.
func (e *Engine) Meta(pool [20]byte) (*PoolMeta, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var meta PoolMeta
	ok, err := e.state.KVGet(poolMetaKey(pool), &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accrual.ErrPoolNotFound
	}
	return &meta, nil
}

// HasPool reports whether pool was created by this engine.
func (e *Engine) HasPool(pool [20]byte) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	return e.state.KVGet(poolMetaKey(pool), nil)
}

// User returns the stored checkpoint of user. Absent accounts report ok=false.
func (e *Engine) User(pool, user [20]byte) (*UserState, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedUserState
	ok, err := e.state.KVGet(userStateKey(pool, user), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	u, err := stored.toUserState()
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (e *Engine) putUser(pool, user [20]byte, u *UserState) error {
	return e.state.KVPut(userStateKey(pool, user), newStoredUserState(u))
}

// Checkpoint advances the pool using the current total stake and credits
// user for every block since its last checkpoint at its current stake. It
// must run before any change to the user's or the pool's share balance.
func (e *Engine) Checkpoint(pool, user [20]byte, now uint64) (*UserState, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total, err := e.stakes.TotalShares(pool)
	if err != nil {
		return nil, err
	}
	st, err := e.accrual.Advance(pool, total, now)
	if err != nil {
		return nil, err
	}
	return e.credit(pool, user, st)
}

func (e *Engine) credit(pool, user [20]byte, st *accrual.PoolState) (*UserState, error) {
	u, ok, err := e.User(pool, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		u = &UserState{Block: st.Block, Inv: amount.Clone(st.Inv), ToClaim: amount.Zero(), Claimed: amount.Zero()}
		if err := e.putUser(pool, user, u); err != nil {
			return nil, err
		}
		return u.Clone(), nil
	}
	if u.Block == st.Block {
		return u, nil
	}
	stake, err := e.stakes.Shares(pool, user)
	if err != nil {
		return nil, err
	}
	if !stake.IsZero() {
		delta, err := e.earned(pool, st, u, stake)
		if err != nil {
			return nil, err
		}
		if u.ToClaim, err = amount.Add(u.ToClaim, delta); err != nil {
			return nil, err
		}
	}
	u.Block = st.Block
	u.Inv = amount.Clone(st.Inv)
	if err := e.putUser(pool, user, u); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

func (e *Engine) earned(pool [20]byte, st *accrual.PoolState, u *UserState, stake *uint256.Int) (*uint256.Int, error) {
	var perShare *uint256.Int
	switch st.Kind {
	case accrual.KindPaginated:
		sum, err := e.accrual.RangeReward(pool, u.Block+1, st.Block)
		if err != nil {
			return nil, err
		}
		perShare = sum
	default:
		diff, err := amount.Sub(st.Inv, u.Inv)
		if err != nil {
			return nil, fmt.Errorf("rewards: user ahead of pool: %w", err)
		}
		perShare = diff
	}
	return accrual.ShareOf(perShare, stake)
}

// Claim settles user and pays out everything it is owed. The checkpoint is
// zeroed and persisted before the transfer so a re-entrant claim finds nothing
// left to pay.
func (e *Engine) Claim(pool, user [20]byte, now uint64) (*uint256.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, errNilBank
	}
	u, err := e.Checkpoint(pool, user, now)
	if err != nil {
		return nil, err
	}
	payout := amount.Clone(u.ToClaim)
	if payout.IsZero() {
		return payout, nil
	}
	meta, err := e.Meta(pool)
	if err != nil {
		return nil, err
	}
	reserve, err := e.bank.Balance(meta.Reserve, meta.RewardToken)
	if err != nil {
		return nil, err
	}
	if reserve.Lt(payout) {
		return nil, fmt.Errorf("%w: reserve %s, owed %s", ErrInsufficientReserve, amount.Format(reserve), amount.Format(payout))
	}
	u.ToClaim = amount.Zero()
	if u.Claimed, err = amount.Add(u.Claimed, payout); err != nil {
		return nil, err
	}
	if err := e.putUser(pool, user, u); err != nil {
		return nil, err
	}
	if err := e.accrual.AddClaimed(pool, payout); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(meta.RewardToken, meta.Reserve, user, payout); err != nil {
		return nil, err
	}
	e.telemetry.ObserveClaim(moduleName, payout)
	e.logger.Debug("rewards: claimed", "amount", amount.Format(payout), "block", u.Block)
	return payout, nil
}

// SetRewardsConfig replaces the emission schedule of pool after settling the
// pool under the outgoing one.
func (e *Engine) SetRewardsConfig(pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	total, err := e.stakes.TotalShares(pool)
	if err != nil {
		return err
	}
	_, err = e.accrual.SetConfig(pool, accrual.RewardConfig{TPS: tps, ExpiresAt: expiresAt}, total, now)
	return err
}

// RewardConfig returns the schedule currently in force.
func (e *Engine) RewardConfig(pool [20]byte) (accrual.RewardConfig, error) {
	st, ok, err := e.accrual.Pool(pool)
	if err != nil {
		return accrual.RewardConfig{}, err
	}
	if !ok {
		return accrual.RewardConfig{}, accrual.ErrPoolNotFound
	}
	return st.Config, nil
}

// Pending returns what user could claim at now without writing anything.
func (e *Engine) Pending(pool, user [20]byte, now uint64) (*uint256.Int, error) {
	info, err := e.RewardsInfo(pool, user, now)
	if err != nil {
		return nil, err
	}
	return info.Pending, nil
}

// RewardsInfo returns the pool schedule and accumulator projected to now
// together with the pending reward of user.
func (e *Engine) RewardsInfo(pool, user [20]byte, now uint64) (*Info, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	st, ok, err := e.accrual.Pool(pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accrual.ErrPoolNotFound
	}
	total, err := e.stakes.TotalShares(pool)
	if err != nil {
		return nil, err
	}
	next, blockValue, err := e.accrual.Preview(pool, total, now)
	if err != nil {
		return nil, err
	}
	stake, err := e.stakes.Shares(pool, user)
	if err != nil {
		return nil, err
	}
	info := &Info{
		TPS:         amount.Clone(next.Config.TPS),
		ExpiresAt:   next.Config.ExpiresAt,
		Accumulated: next.Accumulated,
		Claimed:     next.Claimed,
		Pending:     amount.Zero(),
		Block:       next.Block,
		LastTime:    next.LastTime,
		Stake:       stake,
		TotalShares: total,
	}
	u, ok, err := e.User(pool, user)
	if err != nil || !ok {
		return info, err
	}
	info.Pending = amount.Clone(u.ToClaim)
	if stake.IsZero() {
		return info, nil
	}
	var perShare *uint256.Int
	if st.Kind == accrual.KindPaginated {
		stored, err := e.accrual.PendingRange(pool, u.Block+1, st.Block)
		if err != nil {
			return nil, err
		}
		if perShare, err = amount.Add(stored, blockValue); err != nil {
			return nil, err
		}
	} else if perShare, err = amount.Sub(next.Inv, u.Inv); err != nil {
		return nil, err
	}
	delta, err := accrual.ShareOf(perShare, stake)
	if err != nil {
		return nil, err
	}
	if info.Pending, err = amount.Add(info.Pending, delta); err != nil {
		return nil, err
	}
	return info, nil
}

// ConfiguredTotal is everything the pool has emitted plus what its schedule
// still owes after now.
func (e *Engine) ConfiguredTotal(pool [20]byte, now uint64) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total, err := e.stakes.TotalShares(pool)
	if err != nil {
		return nil, err
	}
	next, _, err := e.accrual.Preview(pool, total, now)
	if err != nil {
		return nil, err
	}
	return accrual.ConfiguredTotal(next, now)
}

// ClaimedTotal is the amount already paid out of the pool reserve.
func (e *Engine) ClaimedTotal(pool [20]byte) (*uint256.Int, error) {
	st, ok, err := e.accrual.Pool(pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accrual.ErrPoolNotFound
	}
	return st.Claimed, nil
}

func (e *Engine) RewardToken(pool [20]byte) (string, error) {
	meta, err := e.Meta(pool)
	if err != nil {
		return "", err
	}
	return meta.RewardToken, nil
}

func (e *Engine) Reserve(pool [20]byte) ([20]byte, error) {
	meta, err := e.Meta(pool)
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Reserve, nil
}
