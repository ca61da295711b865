package rewards

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"poolrewards/core/amount"
	"poolrewards/core/state"
	"poolrewards/native/accrual"
	"poolrewards/storage"
)

const rewardToken = "RWD"

type mockStakes struct {
	shares map[[20]byte]map[[20]byte]*uint256.Int
}

func newMockStakes() *mockStakes {
	return &mockStakes{shares: make(map[[20]byte]map[[20]byte]*uint256.Int)}
}

func (m *mockStakes) TotalShares(pool [20]byte) (*uint256.Int, error) {
	total := amount.Zero()
	for _, v := range m.shares[pool] {
		total.Add(total, v)
	}
	return total, nil
}

func (m *mockStakes) Shares(pool, user [20]byte) (*uint256.Int, error) {
	return amount.Clone(m.shares[pool][user]), nil
}

func (m *mockStakes) set(pool, user [20]byte, value *uint256.Int) {
	if m.shares[pool] == nil {
		m.shares[pool] = make(map[[20]byte]*uint256.Int)
	}
	m.shares[pool][user] = value
}

type harness struct {
	engine  *Engine
	state   *state.Manager
	stakes  *mockStakes
	pool    [20]byte
	reserve [20]byte
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func newHarness(t *testing.T, kind accrual.Kind) *harness {
	t.Helper()
	acc, err := accrual.NewEngine(accrual.Params{PageSize: 4, MaxLevel: 4})
	require.NoError(t, err)
	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, mgr.RegisterToken(rewardToken, "Reward", amount.Decimals))
	acc.SetState(mgr)
	engine := NewEngine(acc)
	engine.SetState(mgr)
	stakes := newMockStakes()
	engine.SetStakeView(stakes)
	engine.SetBank(mgr)
	h := &harness{engine: engine, state: mgr, stakes: stakes, pool: addr(0xa0), reserve: addr(0xf0)}
	require.NoError(t, engine.CreatePool(h.pool, kind, rewardToken, h.reserve, 0))
	return h
}

// deposit checkpoints before the stake changes, as every stake mutation must.
func (h *harness) deposit(t *testing.T, user [20]byte, stake *uint256.Int, now uint64) {
	t.Helper()
	_, err := h.engine.Checkpoint(h.pool, user, now)
	require.NoError(t, err)
	current, _ := h.stakes.Shares(h.pool, user)
	h.stakes.set(h.pool, user, current.Add(current, stake))
}

func (h *harness) withdraw(t *testing.T, user [20]byte, stake *uint256.Int, now uint64) {
	t.Helper()
	_, err := h.engine.Checkpoint(h.pool, user, now)
	require.NoError(t, err)
	current, _ := h.stakes.Shares(h.pool, user)
	h.stakes.set(h.pool, user, current.Sub(current, stake))
}

func (h *harness) fund(t *testing.T, value *uint256.Int) {
	t.Helper()
	require.NoError(t, h.state.Mint(h.reserve, rewardToken, value))
}

func TestScenarioTwoStakersStaggeredEntry(t *testing.T) {
	for _, kind := range []accrual.Kind{accrual.KindLinear, accrual.KindPaginated} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, kind)
			h.fund(t, amount.Units(60))
			require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(1), 60, 0))

			userA, userB := addr(1), addr(2)
			h.deposit(t, userA, amount.Units(100), 0)
			h.deposit(t, userB, amount.Units(100), 30)

			pendingA, err := h.engine.Pending(h.pool, userA, 100)
			require.NoError(t, err)
			require.True(t, pendingA.Eq(amount.New(45_0000000)), "pending A %s", amount.Format(pendingA))

			paidA, err := h.engine.Claim(h.pool, userA, 100)
			require.NoError(t, err)
			paidB, err := h.engine.Claim(h.pool, userB, 100)
			require.NoError(t, err)
			require.True(t, paidA.Eq(amount.New(45_0000000)), "A got %s", amount.Format(paidA))
			require.True(t, paidB.Eq(amount.New(15_0000000)), "B got %s", amount.Format(paidB))

			balA, _ := h.state.Balance(userA, rewardToken)
			balB, _ := h.state.Balance(userB, rewardToken)
			require.True(t, balA.Eq(paidA))
			require.True(t, balB.Eq(paidB))

			claimed, err := h.engine.ClaimedTotal(h.pool)
			require.NoError(t, err)
			require.True(t, claimed.Eq(amount.Units(60)))

			again, err := h.engine.Claim(h.pool, userA, 120)
			require.NoError(t, err)
			require.True(t, again.IsZero())
		})
	}
}

func TestNoRetroactiveEarning(t *testing.T) {
	h := newHarness(t, accrual.KindPaginated)
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(1), 1_000, 0))
	early, late := addr(1), addr(2)
	h.deposit(t, early, amount.Units(10), 0)
	h.deposit(t, late, amount.Units(10), 50)

	u, err := h.engine.Checkpoint(h.pool, late, 50)
	require.NoError(t, err)
	require.True(t, u.ToClaim.IsZero(), "late joiner must not earn for the past")

	u, err = h.engine.Checkpoint(h.pool, late, 60)
	require.NoError(t, err)
	require.True(t, u.ToClaim.Eq(amount.Units(5)), "late joiner earned %s", amount.Format(u.ToClaim))
}

func TestZeroStakeAdvancesMarkerOnly(t *testing.T) {
	h := newHarness(t, accrual.KindLinear)
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(1), 1_000, 0))
	staker, idle := addr(1), addr(2)
	h.deposit(t, staker, amount.Units(10), 0)
	_, err := h.engine.Checkpoint(h.pool, idle, 0)
	require.NoError(t, err)

	u, err := h.engine.Checkpoint(h.pool, idle, 40)
	require.NoError(t, err)
	require.True(t, u.ToClaim.IsZero())
	st, _, err := h.engine.Accrual().Pool(h.pool)
	require.NoError(t, err)
	require.Equal(t, st.Block, u.Block)
	require.True(t, st.Inv.Eq(u.Inv))
}

func TestClaimFailsWhenReserveShort(t *testing.T) {
	h := newHarness(t, accrual.KindPaginated)
	h.fund(t, amount.Units(5))
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(1), 100, 0))
	user := addr(1)
	h.deposit(t, user, amount.Units(1), 0)
	_, err := h.engine.Claim(h.pool, user, 10)
	if !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
	u, _, err := h.engine.User(h.pool, user)
	require.NoError(t, err)
	require.True(t, u.ToClaim.Eq(amount.Units(10)), "owed amount must stay claimable")
}

// reentrantBank calls back into Claim from inside the transfer.
type reentrantBank struct {
	*state.Manager
	engine   *Engine
	pool     [20]byte
	now      uint64
	nested   *uint256.Int
	reenters int
}

func (b *reentrantBank) Transfer(symbol string, from, to [20]byte, value *uint256.Int) error {
	if b.reenters == 0 {
		b.reenters++
		nested, err := b.engine.Claim(b.pool, to, b.now)
		if err != nil {
			return err
		}
		b.nested = nested
	}
	return b.Manager.Transfer(symbol, from, to, value)
}

func TestReentrantClaimPaysOnce(t *testing.T) {
	h := newHarness(t, accrual.KindPaginated)
	h.fund(t, amount.Units(100))
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(1), 100, 0))
	user := addr(1)
	h.deposit(t, user, amount.Units(3), 0)

	bank := &reentrantBank{Manager: h.state, engine: h.engine, pool: h.pool, now: 40}
	h.engine.SetBank(bank)
	paid, err := h.engine.Claim(h.pool, user, 40)
	require.NoError(t, err)
	require.Equal(t, 1, bank.reenters)
	require.NotNil(t, bank.nested)
	require.True(t, bank.nested.IsZero(), "nested claim paid %s", amount.Format(bank.nested))

	bal, _ := h.state.Balance(user, rewardToken)
	require.True(t, bal.Eq(paid))
	require.True(t, paid.Eq(amount.Units(40)), "paid %s", amount.Format(paid))
}

func TestConservationAcrossStakeChanges(t *testing.T) {
	h := newHarness(t, accrual.KindPaginated)
	const duration = 300
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.New(7_1234567), duration, 0))
	users := [][20]byte{addr(1), addr(2), addr(3)}
	h.deposit(t, users[0], amount.Units(1), 0)
	now := uint64(0)
	for i := 0; i < 90; i++ {
		now += uint64(1 + i%5)
		user := users[i%len(users)]
		stake, _ := h.stakes.Shares(h.pool, user)
		if i%4 == 3 && !stake.IsZero() {
			h.withdraw(t, user, amount.New(stake.Uint64()/2), now)
		} else {
			h.deposit(t, user, amount.New(uint64(1_0000000+i*3_1000000)), now)
		}
	}
	owed := amount.Zero()
	for _, user := range users {
		u, err := h.engine.Checkpoint(h.pool, user, duration+10)
		require.NoError(t, err)
		owed.Add(owed, u.ToClaim)
	}
	budget := new(uint256.Int).Mul(amount.New(7_1234567), amount.New(duration))
	require.False(t, owed.Gt(budget), "owed %s exceeds budget %s", amount.Format(owed), amount.Format(budget))
	// Rounding loses at most one unit per credit.
	require.True(t, new(uint256.Int).Sub(budget, owed).Lt(amount.New(200)), "dust %s", new(uint256.Int).Sub(budget, owed))
}

func TestRewardsInfoAndRouterHooks(t *testing.T) {
	h := newHarness(t, accrual.KindPaginated)
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(2), 100, 0))
	user := addr(1)
	h.deposit(t, user, amount.Units(4), 0)

	info, err := h.engine.RewardsInfo(h.pool, user, 25)
	require.NoError(t, err)
	require.True(t, info.TPS.Eq(amount.Units(2)))
	require.Equal(t, uint64(100), info.ExpiresAt)
	require.True(t, info.Accumulated.Eq(amount.Units(50)))
	require.True(t, info.Pending.Eq(amount.Units(50)))

	configured, err := h.engine.ConfiguredTotal(h.pool, 25)
	require.NoError(t, err)
	require.True(t, configured.Eq(amount.Units(200)))

	cfg, err := h.engine.RewardConfig(h.pool)
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.ExpiresAt)

	token, err := h.engine.RewardToken(h.pool)
	require.NoError(t, err)
	require.Equal(t, rewardToken, token)
	reserve, err := h.engine.Reserve(h.pool)
	require.NoError(t, err)
	require.Equal(t, h.reserve, reserve)

	stranger, err := h.engine.Pending(h.pool, addr(9), 25)
	require.NoError(t, err)
	require.True(t, stranger.IsZero())

	if err := h.engine.SetRewardsConfig(h.pool, amount.Units(1), 20, 25); !errors.Is(err, accrual.ErrInvalidExpiration) {
		t.Fatalf("expected ErrInvalidExpiration, got %v", err)
	}
}

func TestConfiguredTotalSkipsRewardBeforeFirstStake(t *testing.T) {
	h := newHarness(t, accrual.KindLinear)
	require.NoError(t, h.engine.SetRewardsConfig(h.pool, amount.Units(2), 100, 0))
	user := addr(1)
	h.deposit(t, user, amount.Units(4), 10)

	configured, err := h.engine.ConfiguredTotal(h.pool, 25)
	require.NoError(t, err)
	require.True(t, configured.Eq(amount.Units(180)), "configured %s", amount.Format(configured))
	pending, err := h.engine.Pending(h.pool, user, 25)
	require.NoError(t, err)
	require.True(t, pending.Eq(amount.Units(30)), "pending %s", amount.Format(pending))
}
