// Package accrual maintains the per-pool reward accumulators. Linear pools keep
// a single running reward-per-share scalar; paginated pools additionally record
// the per-block value in a multi-resolution page index so that the reward of an
// arbitrary block range can be summed without replaying every block.
package accrual

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
	"poolrewards/crypto"
	"poolrewards/observability/metrics"
)

var (
	ErrPoolExists         = errors.New("accrual: pool already exists")
	ErrPoolNotFound       = errors.New("accrual: pool not found")
	ErrTimeRegression     = errors.New("accrual: timestamp precedes last update")
	ErrInvalidExpiration  = errors.New("accrual: expiration must be in the future")
	ErrInvalidKind        = errors.New("accrual: invalid pool kind")
	ErrNotPaginated       = errors.New("accrual: pool does not keep a page index")
	ErrRangeOutOfBounds   = errors.New("accrual: range ends beyond the current block")
	ErrPageMissing        = errors.New("accrual: block value missing from page index")
	ErrPageOverwrite      = errors.New("accrual: page slot already written")
	errNilState           = errors.New("accrual: state not configured")
	errInvalidPageSize    = errors.New("accrual: page size must be at least 2")
	errInvalidLevelBounds = errors.New("accrual: max level must be between 1 and 16")
)

// Storage is the persistence surface required by the engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Params tunes the page index.
type Params struct {
	PageSize uint64
	MaxLevel int
}

// DefaultParams returns the production page geometry.
func DefaultParams() Params {
	return Params{PageSize: 100, MaxLevel: 6}
}

// Validate checks the geometry.
func (p Params) Validate() error {
	if p.PageSize < 2 {
		return errInvalidPageSize
	}
	if p.MaxLevel < 1 || p.MaxLevel > 16 {
		return errInvalidLevelBounds
	}
	return nil
}

// Engine owns every pool accumulator stored under the accrual prefixes.
type Engine struct {
	state     Storage
	params    Params
	logger    *slog.Logger
	telemetry *metrics.RewardsMetrics
}

// NewEngine constructs an engine with the supplied page geometry.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:    params,
		logger:    slog.Default(),
		telemetry: metrics.Rewards(),
	}, nil
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetLogger replaces the engine logger. Nil restores the default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Params returns the page geometry.
func (e *Engine) Params() Params { return e.params }

func poolLabel(pool [20]byte) string {
	return crypto.AddressFromRaw(crypto.PoolPrefix, pool).String()
}

// CreatePool positions a fresh accumulator at now with block zero.
func (e *Engine) CreatePool(pool [20]byte, kind Kind, now uint64) (*PoolState, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if kind != KindLinear && kind != KindPaginated {
		return nil, ErrInvalidKind
	}
	if _, ok, err := e.Pool(pool); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrPoolExists
	}
	st := &PoolState{
		Kind:          kind,
		Accumulated:   amount.Zero(),
		Undistributed: amount.Zero(),
		Inv:           amount.Zero(),
		LastTime:      now,
		Claimed:       amount.Zero(),
		Config:        RewardConfig{TPS: amount.Zero()},
	}
	if kind == KindPaginated {
		if err := e.writeBlock(pool, 0, amount.Zero()); err != nil {
			return nil, err
		}
	}
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Pool loads the accumulator of pool.
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

// Emission returns the reward generated by cfg over (from, to], stopping at
// the expiration.
func Emission(cfg RewardConfig, from, to uint64) (*uint256.Int, error) {
	if amount.IsZero(cfg.TPS) || from >= cfg.ExpiresAt || to <= from {
		return amount.Zero(), nil
	}
	end := to
	if end > cfg.ExpiresAt {
		end = cfg.ExpiresAt
	}
	return amount.Mul(cfg.TPS, uint256.NewInt(end-from))
}

// Remaining returns the emission still scheduled after now.
func Remaining(cfg RewardConfig, now uint64) (*uint256.Int, error) {
	if amount.IsZero(cfg.TPS) || cfg.ExpiresAt <= now {
		return amount.Zero(), nil
	}
	return amount.Mul(cfg.TPS, uint256.NewInt(cfg.ExpiresAt-now))
}

// PerShare converts a reward into the reward-per-share increment for the
// given total stake. Zero stake yields zero.
func PerShare(reward, totalShares *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero(reward) || amount.IsZero(totalShares) {
		return amount.Zero(), nil
	}
	return amount.MulDiv(reward, Precision, totalShares)
}

// ShareOf converts a reward-per-share amount back into tokens for stake.
func ShareOf(perShare, stake *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero(perShare) || amount.IsZero(stake) {
		return amount.Zero(), nil
	}
	return amount.MulDiv(perShare, stake, Precision)
}

func (e *Engine) project(st *PoolState, totalShares *uint256.Int, now uint64) (*PoolState, *uint256.Int, error) {
	if now < st.LastTime {
		return nil, nil, fmt.Errorf("%w: now=%d last=%d", ErrTimeRegression, now, st.LastTime)
	}
	reward, err := Emission(st.Config, st.LastTime, now)
	if err != nil {
		return nil, nil, err
	}
	perShare, err := PerShare(reward, totalShares)
	if err != nil {
		return nil, nil, err
	}
	next := st.Clone()
	if next.Accumulated, err = amount.Add(next.Accumulated, reward); err != nil {
		return nil, nil, err
	}
	if next.Inv, err = amount.Add(next.Inv, perShare); err != nil {
		return nil, nil, err
	}
	if amount.IsZero(totalShares) {
		if next.Undistributed, err = amount.Add(next.Undistributed, reward); err != nil {
			return nil, nil, err
		}
	}
	next.Block++
	next.LastTime = now
	return next, perShare, nil
}

// Advance accrues the emission since the last update against totalShares,
// closes the current block and returns the new state. totalShares must be the
// stake that was in force over the elapsed interval.
func (e *Engine) Advance(pool [20]byte, totalShares *uint256.Int, now uint64) (*PoolState, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	next, perShare, err := e.project(st, totalShares, now)
	if err != nil {
		return nil, err
	}
	if next.Kind == KindPaginated {
		if err := e.writeBlock(pool, next.Block, perShare); err != nil {
			return nil, err
		}
	}
	if err := e.putPool(pool, next); err != nil {
		return nil, err
	}
	if reward, err := amount.Sub(next.Accumulated, st.Accumulated); err == nil {
		e.telemetry.ObserveAccrued("accrual", reward)
	}
	return next.Clone(), nil
}

// Preview returns the state an Advance at now would produce together with the
// per-share value of the block it would close. Nothing is written.
func (e *Engine) Preview(pool [20]byte, totalShares *uint256.Int, now uint64) (*PoolState, *uint256.Int, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, nil, err
	}
	return e.project(st, totalShares, now)
}

// SetConfig advances the pool under the outgoing schedule and then replaces it
// wholesale.
func (e *Engine) SetConfig(pool [20]byte, cfg RewardConfig, totalShares *uint256.Int, now uint64) (*PoolState, error) {
	if cfg.ExpiresAt <= now {
		return nil, fmt.Errorf("%w: expires_at=%d now=%d", ErrInvalidExpiration, cfg.ExpiresAt, now)
	}
	st, err := e.Advance(pool, totalShares, now)
	if err != nil {
		return nil, err
	}
	st.Config = RewardConfig{TPS: amount.Clone(cfg.TPS), ExpiresAt: cfg.ExpiresAt}
	if err := e.putPool(pool, st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// AddClaimed records a payout against the pool.
func (e *Engine) AddClaimed(pool [20]byte, value *uint256.Int) error {
	st, err := e.requirePool(pool)
	if err != nil {
		return err
	}
	if st.Claimed, err = amount.Add(st.Claimed, value); err != nil {
		return err
	}
	return e.putPool(pool, st)
}

// ConfiguredTotal is the claimable reward the pool has emitted so far plus
// what its current schedule will still emit after now.
func ConfiguredTotal(st *PoolState, now uint64) (*uint256.Int, error) {
	remaining, err := Remaining(st.Config, now)
	if err != nil {
		return nil, err
	}
	total, err := amount.Add(st.Accumulated, remaining)
	if err != nil {
		return nil, err
	}
	return amount.SubFloor(total, st.Undistributed), nil
}
