// Package boost distributes rewards of boosted pools by working balance: raw
// stake capped by the account's share of governance-locked tokens.
package boost

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/crypto"
	"poolrewards/native/accrual"
	nativecommon "poolrewards/native/common"
	"poolrewards/observability/metrics"
)

const moduleName = "boost"

var (
	ErrPoolExists          = errors.New("boost: pool already exists")
	ErrPoolNotFound        = errors.New("boost: pool not found")
	ErrScheduleInPast      = errors.New("boost: schedule starts in the past")
	ErrInvalidDuration     = errors.New("boost: schedule duration must be positive")
	ErrInvalidRate         = errors.New("boost: schedule rate must be positive")
	ErrTooManySchedules    = errors.New("boost: too many live schedules")
	ErrInsufficientReserve = errors.New("boost: reserve balance below claim")
	ErrTimeRegression      = errors.New("boost: timestamp precedes last update")
	errNilState            = errors.New("boost engine: state not configured")
	errNilViews            = errors.New("boost engine: stake or lock view not configured")
	errNilBank             = errors.New("boost engine: bank not configured")
	errInvalidTokenless    = errors.New("boost engine: tokenless share must be at most 10000 bps")
)

// Storage is the persistence surface required by the engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// StakeView reports raw pool share balances.
type StakeView interface {
	TotalShares(pool [20]byte) (*uint256.Int, error)
	Shares(pool, user [20]byte) (*uint256.Int, error)
}

// LockView reports governance lock balances.
type LockView interface {
	LockedBalance(user [20]byte) (*uint256.Int, error)
	TotalLocked() (*uint256.Int, error)
}

// Params tunes the boost curve and schedule limits.
type Params struct {
	TokenlessBps uint64
	MaxSchedules int
}

func DefaultParams() Params {
	return Params{TokenlessBps: DefaultTokenlessBps, MaxSchedules: 10}
}

// Engine implements the boosted pools.
type Engine struct {
	state     Storage
	params    Params
	stakes    StakeView
	locks     LockView
	bank      nativecommon.Bank
	pauses    nativecommon.PauseView
	logger    *slog.Logger
	telemetry *metrics.RewardsMetrics
}

func NewEngine(params Params) (*Engine, error) {
	if params.TokenlessBps > bpsDenominator {
		return nil, errInvalidTokenless
	}
	if params.MaxSchedules <= 0 {
		params.MaxSchedules = DefaultParams().MaxSchedules
	}
	return &Engine{
		params:    params,
		logger:    slog.Default(),
		telemetry: metrics.Rewards(),
	}, nil
}

func (e *Engine) SetState(state Storage) { e.state = state }
func (e *Engine) SetStakeView(view StakeView) { e.stakes = view }
func (e *Engine) SetLockView(view LockView) { e.locks = view }
func (e *Engine) SetBank(bank nativecommon.Bank) { e.bank = bank }
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// CreatePool registers a boosted pool paying rewardToken out of reserve.
func (e *Engine) CreatePool(pool [20]byte, rewardToken string, reserve [20]byte, now uint64) error {
	if e.state == nil {
		return errNilState
	}
	token := strings.ToUpper(strings.TrimSpace(rewardToken))
	if token == "" {
		return errors.New("boost: reward token required")
	}
	if _, ok, err := e.Pool(pool); err != nil {
		return err
	} else if ok {
		return ErrPoolExists
	}
	st := &PoolState{
		Epoch:         now,
		Inv:           amount.Zero(),
		Accumulated:   amount.Zero(),
		Undistributed: amount.Zero(),
		Claimed:       amount.Zero(),
		WorkingSupply: amount.Zero(),
		RewardToken:   token,
		Reserve:       reserve,
	}
	if err := e.putPool(pool, st); err != nil {
		return err
	}
	return e.state.KVAppend(poolIndexKey, pool[:])
}

// Pools lists every boosted pool in creation order.
func (e *Engine) Pools() ([][20]byte, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(poolIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			return nil, fmt.Errorf("boost: malformed pool index entry of %d bytes", len(entry))
		}
		var pool [20]byte
		copy(pool[:], entry)
		out = append(out, pool)
	}
	return out, nil
}

func (e *Engine) Pool(pool [20]byte) (*PoolState, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedPoolState
	ok, err := e.state.KVGet(poolStateKey(pool), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	st, err := stored.toPoolState()
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func (e *Engine) requirePool(pool [20]byte) (*PoolState, error) {
	st, ok, err := e.Pool(pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return st, nil
}

func (e *Engine) putPool(pool [20]byte, st *PoolState) error {
	return e.state.KVPut(poolStateKey(pool), newStoredPoolState(st))
}

// User returns the stored checkpoint of user in pool.
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

// promote accrues every schedule window that overlaps (Epoch, now] and drops
// the windows that have ended. It mutates st in place.
func promote(st *PoolState, now uint64) (*uint256.Int, error) {
	if now < st.Epoch {
		return nil, fmt.Errorf("%w: now=%d epoch=%d", ErrTimeRegression, now, st.Epoch)
	}
	reward := amount.Zero()
	live := st.Schedules[:0:0]
	for _, s := range st.Schedules {
		if s.StartAt <= now {
			from, to := s.StartAt, s.ExpiresAt
			if from < st.Epoch {
				from = st.Epoch
			}
			if to > now {
				to = now
			}
			if to > from {
				part, err := amount.Mul(s.TPS, uint256.NewInt(to-from))
				if err != nil {
					return nil, err
				}
				if reward, err = amount.Add(reward, part); err != nil {
					return nil, err
				}
			}
		}
		if s.ExpiresAt > now {
			live = append(live, s)
		}
	}
	perUnit, err := accrual.PerShare(reward, st.WorkingSupply)
	if err != nil {
		return nil, err
	}
	if st.Accumulated, err = amount.Add(st.Accumulated, reward); err != nil {
		return nil, err
	}
	if st.Inv, err = amount.Add(st.Inv, perUnit); err != nil {
		return nil, err
	}
	if amount.IsZero(st.WorkingSupply) {
		if st.Undistributed, err = amount.Add(st.Undistributed, reward); err != nil {
			return nil, err
		}
	}
	st.Schedules = live
	st.Epoch = now
	return reward, nil
}

// Advance promotes the pool schedules up to now and persists the pool.
func (e *Engine) Advance(pool [20]byte, now uint64) (*PoolState, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	reward, err := promote(st, now)
	if err != nil {
		return nil, err
	}
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	e.telemetry.ObserveAccrued(moduleName, reward)
	return st, nil
}

func credit(st *PoolState, u *UserState) error {
	diff, err := amount.Sub(st.Inv, u.Inv)
	if err != nil {
		return fmt.Errorf("boost: user ahead of pool: %w", err)
	}
	delta, err := accrual.ShareOf(diff, u.WorkingBalance)
	if err != nil {
		return err
	}
	if u.ToClaim, err = amount.Add(u.ToClaim, delta); err != nil {
		return err
	}
	u.Inv = amount.Clone(st.Inv)
	return nil
}

func (e *Engine) loadOrPosition(pool, user [20]byte, st *PoolState) (*UserState, error) {
	u, ok, err := e.User(pool, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		u = &UserState{
			Inv:            amount.Clone(st.Inv),
			ToClaim:        amount.Zero(),
			Claimed:        amount.Zero(),
			WorkingBalance: amount.Zero(),
		}
	}
	return u, nil
}

// Checkpoint credits user at its persisted working balance without
// recomputing it.
func (e *Engine) Checkpoint(pool, user [20]byte, now uint64) (*UserState, error) {
	if e.state == nil {
		return nil, errNilState
	}
	st, err := e.Advance(pool, now)
	if err != nil {
		return nil, err
	}
	u, err := e.loadOrPosition(pool, user, st)
	if err != nil {
		return nil, err
	}
	if err := credit(st, u); err != nil {
		return nil, err
	}
	if err := e.putUser(pool, user, u); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

// CheckpointWorkingBalance credits user at the working balance that was in
// force, then recomputes it from the current raw stake and lock balances and
// moves the pool working supply by the difference. It must run after every
// raw stake change and every lock change.
func (e *Engine) CheckpointWorkingBalance(pool, user [20]byte, now uint64) (*UserState, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.stakes == nil || e.locks == nil {
		return nil, errNilViews
	}
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	reward, err := promote(st, now)
	if err != nil {
		return nil, err
	}
	u, err := e.loadOrPosition(pool, user, st)
	if err != nil {
		return nil, err
	}
	if err := credit(st, u); err != nil {
		return nil, err
	}
	next, err := e.computeWorkingBalance(pool, user)
	if err != nil {
		return nil, err
	}
	supply, err := amount.Sub(st.WorkingSupply, u.WorkingBalance)
	if err != nil {
		return nil, fmt.Errorf("boost: working supply below member balance: %w", err)
	}
	if st.WorkingSupply, err = amount.Add(supply, next); err != nil {
		return nil, err
	}
	u.WorkingBalance = next
	if err := e.putUser(pool, user, u); err != nil {
		return nil, err
	}
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	e.telemetry.ObserveAccrued(moduleName, reward)
	e.telemetry.SetWorkingSupply(crypto.AddressFromRaw(crypto.PoolPrefix, pool).String(), st.WorkingSupply)
	return u.Clone(), nil
}

func (e *Engine) computeWorkingBalance(pool, user [20]byte) (*uint256.Int, error) {
	raw, err := e.stakes.Shares(pool, user)
	if err != nil {
		return nil, err
	}
	totalRaw, err := e.stakes.TotalShares(pool)
	if err != nil {
		return nil, err
	}
	locked, err := e.locks.LockedBalance(user)
	if err != nil {
		return nil, err
	}
	totalLocked, err := e.locks.TotalLocked()
	if err != nil {
		return nil, err
	}
	return WorkingBalance(raw, totalRaw, locked, totalLocked, e.params.TokenlessBps)
}

// OnLockChanged refreshes the working balance of user in every listed pool.
func (e *Engine) OnLockChanged(user [20]byte, pools [][20]byte, now uint64) error {
	for _, pool := range pools {
		if _, err := e.CheckpointWorkingBalance(pool, user, now); err != nil {
			return fmt.Errorf("boost: refresh %s: %w", crypto.AddressFromRaw(crypto.PoolPrefix, pool), err)
		}
	}
	return nil
}

// Schedule appends an emission window of duration seconds starting at startAt,
// or at now when startAt is nil.
func (e *Engine) Schedule(pool [20]byte, startAt *uint64, duration uint64, tps *uint256.Int, now uint64) (*Schedule, error) {
	start := now
	if startAt != nil {
		start = *startAt
	}
	if start < now {
		return nil, fmt.Errorf("%w: start=%d now=%d", ErrScheduleInPast, start, now)
	}
	if duration == 0 {
		return nil, ErrInvalidDuration
	}
	if amount.IsZero(tps) {
		return nil, ErrInvalidRate
	}
	if start+duration < start {
		return nil, amount.ErrOverflow
	}
	st, err := e.Advance(pool, now)
	if err != nil {
		return nil, err
	}
	if len(st.Schedules) >= e.params.MaxSchedules {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySchedules, e.params.MaxSchedules)
	}
	sched := Schedule{StartAt: start, ExpiresAt: start + duration, TPS: amount.Clone(tps)}
	idx := sort.Search(len(st.Schedules), func(i int) bool { return st.Schedules[i].StartAt > start })
	st.Schedules = append(st.Schedules, Schedule{})
	copy(st.Schedules[idx+1:], st.Schedules[idx:])
	st.Schedules[idx] = sched
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	e.telemetry.IncSchedulesAdded()
	return &sched, nil
}

// SetRewardsConfig replaces every schedule with a single window running from
// now until expiresAt. A zero rate clears the schedule list.
func (e *Engine) SetRewardsConfig(pool [20]byte, tps *uint256.Int, expiresAt, now uint64) error {
	if expiresAt <= now {
		return fmt.Errorf("%w: expires_at=%d now=%d", accrual.ErrInvalidExpiration, expiresAt, now)
	}
	st, err := e.Advance(pool, now)
	if err != nil {
		return err
	}
	st.Schedules = nil
	if !amount.IsZero(tps) {
		st.Schedules = []Schedule{{StartAt: now, ExpiresAt: expiresAt, TPS: amount.Clone(tps)}}
	}
	return e.putPool(pool, st)
}

// Claim settles user and pays out everything it is owed. The checkpoint is
// zeroed and persisted before the transfer.
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
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	reserve, err := e.bank.Balance(st.Reserve, st.RewardToken)
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
	if st.Claimed, err = amount.Add(st.Claimed, payout); err != nil {
		return nil, err
	}
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(st.RewardToken, st.Reserve, user, payout); err != nil {
		return nil, err
	}
	e.telemetry.ObserveClaim(moduleName, payout)
	return payout, nil
}

// RewardsInfo projects the pool to now without writing and reports the
// pending reward and working balance of user.
func (e *Engine) RewardsInfo(pool, user [20]byte, now uint64) (*Info, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	active := amount.Zero()
	var expiresAt uint64
	for _, s := range st.Schedules {
		if s.StartAt <= now && now < s.ExpiresAt {
			active.Add(active, s.TPS)
		}
		if s.ExpiresAt > expiresAt {
			expiresAt = s.ExpiresAt
		}
	}
	if _, err := promote(st, now); err != nil {
		return nil, err
	}
	u, ok, err := e.User(pool, user)
	if err != nil {
		return nil, err
	}
	info := &Info{
		TPS:            active,
		ExpiresAt:      expiresAt,
		Accumulated:    st.Accumulated,
		Claimed:        st.Claimed,
		Pending:        amount.Zero(),
		WorkingBalance: amount.Zero(),
		WorkingSupply:  st.WorkingSupply,
		Schedules:      st.Schedules,
	}
	if !ok {
		return info, nil
	}
	if err := credit(st, u); err != nil {
		return nil, err
	}
	info.Pending = u.ToClaim
	info.WorkingBalance = u.WorkingBalance
	return info, nil
}

func (e *Engine) Pending(pool, user [20]byte, now uint64) (*uint256.Int, error) {
	info, err := e.RewardsInfo(pool, user, now)
	if err != nil {
		return nil, err
	}
	return info.Pending, nil
}

// ConfiguredTotal is everything claimable the pool has emitted plus what its
// live schedules still owe after now.
func (e *Engine) ConfiguredTotal(pool [20]byte, now uint64) (*uint256.Int, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	if _, err := promote(st, now); err != nil {
		return nil, err
	}
	total := amount.SubFloor(st.Accumulated, st.Undistributed)
	for _, s := range st.Schedules {
		from := s.StartAt
		if from < now {
			from = now
		}
		if s.ExpiresAt <= from {
			continue
		}
		part, err := amount.Mul(s.TPS, uint256.NewInt(s.ExpiresAt-from))
		if err != nil {
			return nil, err
		}
		if total, err = amount.Add(total, part); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) ClaimedTotal(pool [20]byte) (*uint256.Int, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	return st.Claimed, nil
}

func (e *Engine) RewardToken(pool [20]byte) (string, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return "", err
	}
	return st.RewardToken, nil
}

func (e *Engine) Reserve(pool [20]byte) ([20]byte, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return [20]byte{}, err
	}
	return st.Reserve, nil
}
