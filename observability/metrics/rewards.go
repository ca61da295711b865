package metrics

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// tokenScale converts 7-decimal fixed-point amounts into whole tokens.
var tokenScale = big.NewFloat(10_000_000)

type RewardsMetrics struct {
	accrued        *prometheus.CounterVec
	claimed        *prometheus.CounterVec
	claims         *prometheus.CounterVec
	pageFallback   *prometheus.CounterVec
	pageMigrated   prometheus.Counter
	workingSupply  *prometheus.GaugeVec
	allocations    *prometheus.CounterVec
	distributed    prometheus.Counter
	globalEpoch    prometheus.Gauge
	schedulesAdded prometheus.Counter
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *RewardsMetrics
)

func Rewards() *RewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &RewardsMetrics{
			accrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_accrued_tokens_total",
				Help: "Reward tokens emitted into pool accumulators by module.",
			}, []string{"module"}),
			claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_claimed_tokens_total",
				Help: "Reward tokens paid out to liquidity providers by module.",
			}, []string{"module"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_claims_total",
				Help: "Count of claim executions by module.",
			}, []string{"module"}),
			pageFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accrual_page_fallback_total",
				Help: "Coarse page values recomputed from a finer level because the stored value was missing.",
			}, []string{"level"}),
			pageMigrated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "accrual_page_migrated_total",
				Help: "Level-0 pages converted from the legacy per-block layout.",
			}),
			workingSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "boost_working_supply_tokens",
				Help: "Current boosted working supply per pool.",
			}, []string{"pool"}),
			allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "router_pool_allocations_total",
				Help: "Pool allocation attempts by outcome.",
			}, []string{"outcome"}),
			distributed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "router_distributed_tokens_total",
				Help: "Reward tokens moved into pool reserves to cover outstanding liabilities.",
			}),
			globalEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "router_global_epoch",
				Help: "Current global distribution epoch.",
			}),
			schedulesAdded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "boost_schedules_added_total",
				Help: "Count of reward schedules appended to boosted pools.",
			}),
		}
		prometheus.MustRegister(
			rewardsRegistry.accrued,
			rewardsRegistry.claimed,
			rewardsRegistry.claims,
			rewardsRegistry.pageFallback,
			rewardsRegistry.pageMigrated,
			rewardsRegistry.workingSupply,
			rewardsRegistry.allocations,
			rewardsRegistry.distributed,
			rewardsRegistry.globalEpoch,
			rewardsRegistry.schedulesAdded,
		)
	})
	return rewardsRegistry
}

func tokens(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value.ToBig())
	out, _ := new(big.Float).Quo(f, tokenScale).Float64()
	return out
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func (m *RewardsMetrics) ObserveAccrued(module string, value *uint256.Int) {
	if m == nil || value == nil || value.IsZero() {
		return
	}
	m.accrued.WithLabelValues(label(module)).Add(tokens(value))
}

func (m *RewardsMetrics) ObserveClaim(module string, value *uint256.Int) {
	if m == nil {
		return
	}
	module = label(module)
	m.claims.WithLabelValues(module).Inc()
	if value != nil && !value.IsZero() {
		m.claimed.WithLabelValues(module).Add(tokens(value))
	}
}

func (m *RewardsMetrics) IncPageFallback(level string) {
	if m == nil {
		return
	}
	m.pageFallback.WithLabelValues(label(level)).Inc()
}

func (m *RewardsMetrics) IncPageMigrated() {
	if m == nil {
		return
	}
	m.pageMigrated.Inc()
}

func (m *RewardsMetrics) SetWorkingSupply(pool string, value *uint256.Int) {
	if m == nil {
		return
	}
	m.workingSupply.WithLabelValues(label(pool)).Set(tokens(value))
}

func (m *RewardsMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(label(outcome)).Inc()
}

func (m *RewardsMetrics) ObserveDistributed(value *uint256.Int) {
	if m == nil || value == nil || value.IsZero() {
		return
	}
	m.distributed.Add(tokens(value))
}

func (m *RewardsMetrics) SetGlobalEpoch(epoch uint64) {
	if m == nil {
		return
	}
	m.globalEpoch.Set(float64(epoch))
}

func (m *RewardsMetrics) IncSchedulesAdded() {
	if m == nil {
		return
	}
	m.schedulesAdded.Inc()
}
