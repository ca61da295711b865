package core

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"poolrewards/core/amount"
	"poolrewards/core/state"
	"poolrewards/native/accrual"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/rewards"
	"poolrewards/native/router"
	"poolrewards/storage"
)

const rewardToken = "RWD"

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

type harness struct {
	proc     *Processor
	ctx      context.Context
	admin    [20]byte
	operator [20]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewMemLevelDB()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(db.Close)
	proc, err := NewProcessor(db, DefaultOptions())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	h := &harness{proc: proc, ctx: context.Background(), admin: addr(0xa0), operator: addr(0xa1)}
	require.NoError(t, proc.Bootstrap(h.ctx, h.admin))
	require.NoError(t, proc.GrantRole(h.ctx, h.admin, nativecommon.RoleRewardsOperator, h.operator))
	require.NoError(t, proc.RegisterToken(h.ctx, h.admin, rewardToken, "Reward"))
	return h
}

func reserveOf(pool [20]byte) [20]byte {
	out := pool
	out[0] = 0xee
	return out
}

func (h *harness) createPool(t *testing.T, pool [20]byte, kind string, tokens ...string) {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"AAA", "BBB"}
	}
	spec := PoolSpec{Pool: pool, Kind: kind, Tokens: tokens, RewardToken: rewardToken, Reserve: reserveOf(pool)}
	require.NoError(t, h.proc.CreatePool(h.ctx, h.admin, spec, 0))
}

func (h *harness) fund(t *testing.T, to [20]byte, units uint64) {
	t.Helper()
	require.NoError(t, h.proc.Mint(h.ctx, h.admin, to, rewardToken, amount.Units(units)))
}

func (h *harness) balance(t *testing.T, who [20]byte, token string) *uint256.Int {
	t.Helper()
	bal, err := h.proc.Balance(h.ctx, who, token)
	require.NoError(t, err)
	return bal
}

func TestProcessorTwoStakersEndToEnd(t *testing.T) {
	for _, kind := range []string{PoolKindLinear, PoolKindPaginated} {
		t.Run(kind, func(t *testing.T) {
			h := newHarness(t)
			pool := addr(0x10)
			h.createPool(t, pool, kind)
			h.fund(t, reserveOf(pool), 60)
			require.NoError(t, h.proc.SetRewardsConfig(h.ctx, h.operator, pool, amount.Units(1), 60, 0))

			userA, userB := addr(1), addr(2)
			require.NoError(t, h.proc.Deposit(h.ctx, pool, userA, amount.Units(100), 0))
			require.NoError(t, h.proc.Deposit(h.ctx, pool, userB, amount.Units(100), 30))

			info, err := h.proc.RewardsInfo(h.ctx, pool, userA, 100)
			require.NoError(t, err)
			require.True(t, info.Pending.Eq(amount.New(45_0000000)), "pending A %s", amount.Format(info.Pending))
			require.True(t, info.TotalShares.Eq(amount.Units(200)))
			require.Equal(t, kind, info.Kind)

			paidA, err := h.proc.Claim(h.ctx, pool, userA, 100)
			require.NoError(t, err)
			paidB, err := h.proc.Claim(h.ctx, pool, userB, 100)
			require.NoError(t, err)
			require.True(t, paidA.Eq(amount.New(45_0000000)), "A got %s", amount.Format(paidA))
			require.True(t, paidB.Eq(amount.New(15_0000000)), "B got %s", amount.Format(paidB))
			require.True(t, h.balance(t, userA, rewardToken).Eq(paidA))
			require.True(t, h.balance(t, reserveOf(pool), rewardToken).IsZero())
		})
	}
}

func TestProcessorWithdrawSettlesFirst(t *testing.T) {
	h := newHarness(t)
	pool := addr(0x10)
	h.createPool(t, pool, PoolKindPaginated)
	h.fund(t, reserveOf(pool), 100)
	require.NoError(t, h.proc.SetRewardsConfig(h.ctx, h.admin, pool, amount.Units(1), 100, 0))

	user := addr(1)
	require.NoError(t, h.proc.Deposit(h.ctx, pool, user, amount.Units(10), 0))
	require.NoError(t, h.proc.Withdraw(h.ctx, pool, user, amount.Units(10), 20))
	if err := h.proc.Withdraw(h.ctx, pool, user, amount.Units(1), 30); !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	paid, err := h.proc.Claim(h.ctx, pool, user, 50)
	require.NoError(t, err)
	require.True(t, paid.Eq(amount.Units(20)), "paid %s", amount.Format(paid))
	require.True(t, h.balance(t, user, ShareTokenSymbol(pool)).IsZero())
}

func TestProcessorRollsBackFailedExecution(t *testing.T) {
	h := newHarness(t)
	funded, empty := addr(0x10), addr(0x11)
	h.createPool(t, funded, PoolKindLinear)
	h.createPool(t, empty, PoolKindPaginated)
	h.fund(t, reserveOf(funded), 10)
	for _, pool := range [][20]byte{funded, empty} {
		require.NoError(t, h.proc.SetRewardsConfig(h.ctx, h.admin, pool, amount.Units(1), 10, 0))
	}
	user := addr(1)
	for _, pool := range [][20]byte{funded, empty} {
		require.NoError(t, h.proc.Deposit(h.ctx, pool, user, amount.Units(5), 0))
	}

	_, err := h.proc.ClaimAll(h.ctx, user, [][20]byte{funded, empty}, 10)
	if !errors.Is(err, rewards.ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
	// The first pool paid inside the failed execution; none of it may land.
	require.True(t, h.balance(t, user, rewardToken).IsZero())
	require.True(t, h.balance(t, reserveOf(funded), rewardToken).Eq(amount.Units(10)))
	info, err := h.proc.RewardsInfo(h.ctx, funded, user, 10)
	require.NoError(t, err)
	require.True(t, info.Pending.Eq(amount.Units(10)))
	require.True(t, info.Claimed.IsZero())

	paid, err := h.proc.ClaimAll(h.ctx, user, [][20]byte{funded}, 10)
	require.NoError(t, err)
	require.True(t, paid.Eq(amount.Units(10)))
}

func TestProcessorBoostedLockFanOut(t *testing.T) {
	h := newHarness(t)
	pool := addr(0x20)
	h.createPool(t, pool, PoolKindBoosted)
	h.fund(t, reserveOf(pool), 100)
	_, err := h.proc.Schedule(h.ctx, h.operator, pool, nil, 100, amount.Units(1), 0)
	require.NoError(t, err)

	locker, plain := addr(1), addr(2)
	require.NoError(t, h.proc.Deposit(h.ctx, pool, locker, amount.Units(100), 0))
	require.NoError(t, h.proc.Deposit(h.ctx, pool, plain, amount.Units(100), 0))
	require.NoError(t, h.proc.SetLock(h.ctx, locker, amount.Units(10), 0))

	info, err := h.proc.RewardsInfo(h.ctx, pool, locker, 0)
	require.NoError(t, err)
	require.True(t, info.WorkingBalance.Eq(amount.Units(100)), "locker working %s", amount.Format(info.WorkingBalance))
	require.True(t, info.WorkingSupply.Eq(amount.Units(140)), "supply %s", amount.Format(info.WorkingSupply))
	require.Len(t, info.Schedules, 1)

	paidLocker, err := h.proc.Claim(h.ctx, pool, locker, 70)
	require.NoError(t, err)
	paidPlain, err := h.proc.Claim(h.ctx, pool, plain, 70)
	require.NoError(t, err)
	require.True(t, paidLocker.Eq(amount.Units(50)), "locker got %s", amount.Format(paidLocker))
	require.True(t, paidPlain.Eq(amount.Units(20)), "plain got %s", amount.Format(paidPlain))

	// Unlocking drops the locker back to the tokenless floor.
	require.NoError(t, h.proc.SetLock(h.ctx, locker, amount.Zero(), 70))
	info, err = h.proc.RewardsInfo(h.ctx, pool, locker, 70)
	require.NoError(t, err)
	require.True(t, info.WorkingBalance.Eq(amount.Units(40)))
	require.True(t, h.balance(t, locker, DefaultLockToken).IsZero())
}

func TestProcessorRouterFlow(t *testing.T) {
	h := newHarness(t)
	small, large := addr(0x30), addr(0x31)
	h.createPool(t, small, PoolKindLinear)
	h.createPool(t, large, PoolKindBoosted)
	require.NoError(t, h.proc.SetLiquidity(h.ctx, h.operator, small, amount.Units(34)))
	require.NoError(t, h.proc.SetLiquidity(h.ctx, h.operator, large, amount.Units(336)))
	h.fund(t, h.operator, 10_000)

	shares := []router.TokenShare{
		{Tokens: []string{"aaa", "bbb"}, Share: amount.New(5_000_000)},
		{Tokens: []string{"CCC", "DDD"}, Share: amount.New(5_000_000)},
	}
	epoch, err := h.proc.ConfigureGlobal(h.ctx, h.admin, amount.Units(1), 1_000, shares, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), epoch.Epoch)

	total, err := h.proc.FillLiquidity(h.ctx, []string{"BBB", "AAA"})
	require.NoError(t, err)
	require.True(t, total.Eq(amount.Units(370)))

	rateSmall, err := h.proc.ConfigPoolRewards(h.ctx, small, 0)
	require.NoError(t, err)
	rateLarge, err := h.proc.ConfigPoolRewards(h.ctx, large, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(459_459), rateSmall.Uint64())
	require.Equal(t, uint64(4_540_540), rateLarge.Uint64())

	alloc, ok, err := h.proc.PoolAllocation(h.ctx, large)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, alloc.Configured)

	paid, err := h.proc.DistributeOutstanding(h.ctx, h.operator, large, h.operator, 0)
	require.NoError(t, err)
	require.True(t, paid.Eq(new(uint256.Int).Mul(rateLarge, uint256.NewInt(1_000))))
	again, err := h.proc.DistributeOutstanding(h.ctx, h.operator, large, h.operator, 0)
	require.NoError(t, err)
	require.True(t, again.IsZero())
}

func TestProcessorNewEpochStopsDroppedPools(t *testing.T) {
	h := newHarness(t)
	dropped, kept := addr(0x30), addr(0x31)
	h.createPool(t, dropped, PoolKindLinear)
	h.createPool(t, kept, PoolKindBoosted, "CCC", "DDD")
	require.NoError(t, h.proc.SetLiquidity(h.ctx, h.operator, dropped, amount.Units(34)))
	require.NoError(t, h.proc.SetLiquidity(h.ctx, h.operator, kept, amount.Units(50)))
	user := addr(1)
	require.NoError(t, h.proc.Deposit(h.ctx, dropped, user, amount.Units(10), 0))

	first := []router.TokenShare{{Tokens: []string{"AAA", "BBB"}, Share: amount.New(10_000_000)}}
	_, err := h.proc.ConfigureGlobal(h.ctx, h.admin, amount.Units(1), 1_000, first, 0)
	require.NoError(t, err)
	_, err = h.proc.FillLiquidity(h.ctx, []string{"AAA", "BBB"})
	require.NoError(t, err)
	rate, err := h.proc.ConfigPoolRewards(h.ctx, dropped, 0)
	require.NoError(t, err)
	require.True(t, rate.Eq(amount.Units(1)))

	second := []router.TokenShare{{Tokens: []string{"CCC", "DDD"}, Share: amount.New(10_000_000)}}
	_, err = h.proc.ConfigureGlobal(h.ctx, h.admin, amount.Units(1), 1_000, second, 100)
	require.NoError(t, err)
	_, err = h.proc.FillLiquidity(h.ctx, []string{"CCC", "DDD"})
	require.NoError(t, err)
	keptRate, err := h.proc.ConfigPoolRewards(h.ctx, kept, 100)
	require.NoError(t, err)
	require.True(t, keptRate.Eq(amount.Units(1)))

	info, err := h.proc.RewardsInfo(h.ctx, dropped, user, 500)
	require.NoError(t, err)
	require.True(t, info.TPS.IsZero(), "dropped pool still emits %s", amount.Format(info.TPS))
	require.True(t, info.Pending.Eq(amount.Units(100)), "pending %s", amount.Format(info.Pending))

	// The two pools together never exceed the global rate, and the empty kept
	// pool is not funded for the 400 seconds nobody could earn.
	h.fund(t, h.operator, 10_000)
	droppedOwed, err := h.proc.DistributeOutstanding(h.ctx, h.operator, dropped, h.operator, 500)
	require.NoError(t, err)
	keptOwed, err := h.proc.DistributeOutstanding(h.ctx, h.operator, kept, h.operator, 500)
	require.NoError(t, err)
	require.True(t, droppedOwed.Eq(amount.Units(100)), "dropped owed %s", amount.Format(droppedOwed))
	require.True(t, keptOwed.Eq(amount.Units(500)), "kept owed %s", amount.Format(keptOwed))
}

func legacyHistory(t *testing.T, user [20]byte) LegacyPool {
	t.Helper()
	perShare, err := accrual.PerShare(amount.Units(10), amount.Units(10))
	require.NoError(t, err)
	return LegacyPool{
		State: accrual.PoolState{
			Kind:        accrual.KindPaginated,
			Block:       2,
			Accumulated: amount.Units(20),
			Inv:         new(uint256.Int).Mul(perShare, uint256.NewInt(2)),
			LastTime:    100,
			Claimed:     amount.Zero(),
			Config:      accrual.RewardConfig{TPS: amount.Units(1), ExpiresAt: 1_000},
		},
		PerBlock: []*uint256.Int{amount.Zero(), perShare, perShare},
		Stakes: []LegacyStake{
			{User: user, Shares: amount.Units(10), Block: 1, ToClaim: amount.Units(5)},
		},
	}
}

func TestProcessorImportLegacyPool(t *testing.T) {
	h := newHarness(t)
	pool, user := addr(0x50), addr(1)
	spec := PoolSpec{Pool: pool, Kind: PoolKindPaginated, Tokens: []string{"AAA", "BBB"}, RewardToken: rewardToken, Reserve: reserveOf(pool)}
	legacy := legacyHistory(t, user)

	if err := h.proc.ImportLegacyPool(h.ctx, h.operator, spec, legacy); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	linear := spec
	linear.Kind = PoolKindLinear
	if err := h.proc.ImportLegacyPool(h.ctx, h.admin, linear, legacy); !errors.Is(err, ErrLegacyKind) {
		t.Fatalf("expected ErrLegacyKind, got %v", err)
	}
	require.NoError(t, h.proc.ImportLegacyPool(h.ctx, h.admin, spec, legacy))
	if err := h.proc.ImportLegacyPool(h.ctx, h.admin, spec, legacy); err == nil {
		t.Fatalf("expected a second import of the same pool to fail")
	}

	rec, err := h.proc.Pool(h.ctx, pool)
	require.NoError(t, err)
	require.True(t, h.balance(t, user, rec.ShareToken).Eq(amount.Units(10)))

	// 5 carried over, 10 from block 2, 10 accrued after the import.
	info, err := h.proc.RewardsInfo(h.ctx, pool, user, 110)
	require.NoError(t, err)
	require.True(t, info.Pending.Eq(amount.Units(25)), "pending %s", amount.Format(info.Pending))

	h.fund(t, reserveOf(pool), 25)
	paid, err := h.proc.Claim(h.ctx, pool, user, 110)
	require.NoError(t, err)
	require.True(t, paid.Eq(amount.Units(25)), "paid %s", amount.Format(paid))
	require.NoError(t, h.proc.Deposit(h.ctx, pool, addr(2), amount.Units(10), 120))
	info, err = h.proc.RewardsInfo(h.ctx, pool, user, 130)
	require.NoError(t, err)
	require.True(t, info.Pending.Eq(amount.Units(15)), "pending %s", amount.Format(info.Pending))
}

func TestProcessorAuthorization(t *testing.T) {
	h := newHarness(t)
	stranger := addr(0x99)
	pool := addr(0x10)
	spec := PoolSpec{Pool: pool, Kind: PoolKindLinear, Tokens: []string{"AAA", "BBB"}, RewardToken: rewardToken, Reserve: reserveOf(pool)}
	if err := h.proc.CreatePool(h.ctx, stranger, spec, 0); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.proc.Pool(h.ctx, pool); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("rejected pool must not be registered, got %v", err)
	}
	if err := h.proc.Bootstrap(h.ctx, stranger); !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
	if err := h.proc.Mint(h.ctx, h.admin, stranger, DefaultLockToken, amount.Units(1)); !errors.Is(err, ErrReservedToken) {
		t.Fatalf("expected ErrReservedToken, got %v", err)
	}

	h.createPool(t, pool, PoolKindLinear)
	if err := h.proc.CreatePool(h.ctx, h.admin, spec, 0); !errors.Is(err, ErrPoolRegistered) {
		t.Fatalf("expected ErrPoolRegistered, got %v", err)
	}
	if _, err := h.proc.Schedule(h.ctx, h.admin, pool, nil, 10, amount.Units(1), 0); !errors.Is(err, ErrNotBoosted) {
		t.Fatalf("expected ErrNotBoosted, got %v", err)
	}
	if err := h.proc.SetRewardsConfig(h.ctx, stranger, pool, amount.Units(1), 10, 0); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.proc.Deposit(h.ctx, pool, stranger, amount.Zero(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := h.proc.Deposit(h.ctx, addr(0x77), stranger, amount.Units(1), 0); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("expected ErrUnknownPool, got %v", err)
	}
}

func TestNormalizePoolKind(t *testing.T) {
	kind, err := NormalizePoolKind(" Boosted ")
	require.NoError(t, err)
	require.Equal(t, PoolKindBoosted, kind)
	kind, err = NormalizePoolKind("")
	require.NoError(t, err)
	require.Equal(t, PoolKindPaginated, kind)
	if _, err := NormalizePoolKind("curve"); !errors.Is(err, ErrInvalidPoolKind) {
		t.Fatalf("expected ErrInvalidPoolKind, got %v", err)
	}
}
