package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRewardsMetricsCounters(t *testing.T) {
	m := Rewards()
	before := testutil.ToFloat64(m.claims.WithLabelValues("rewards"))
	m.ObserveClaim("rewards", uint256.NewInt(25_000_000))
	if got := testutil.ToFloat64(m.claims.WithLabelValues("rewards")); got != before+1 {
		t.Fatalf("expected claim count %v, got %v", before+1, got)
	}

	fallbackBefore := testutil.ToFloat64(m.pageFallback.WithLabelValues("2"))
	m.IncPageFallback("2")
	if got := testutil.ToFloat64(m.pageFallback.WithLabelValues("2")); got != fallbackBefore+1 {
		t.Fatalf("expected fallback count %v, got %v", fallbackBefore+1, got)
	}

	m.SetWorkingSupply("pool1", uint256.NewInt(15_000_000))
	if got := testutil.ToFloat64(m.workingSupply.WithLabelValues("pool1")); got != 1.5 {
		t.Fatalf("expected working supply 1.5, got %v", got)
	}

	var nilMetrics *RewardsMetrics
	nilMetrics.ObserveClaim("rewards", uint256.NewInt(1))
}

func TestProcessorMetrics(t *testing.T) {
	m := Processor()
	before := testutil.ToFloat64(m.executions.WithLabelValues("claim", "error"))
	m.ObserveExecution("claim", errors.New("boom"), time.Millisecond)
	if got := testutil.ToFloat64(m.executions.WithLabelValues("claim", "error")); got != before+1 {
		t.Fatalf("expected error count %v, got %v", before+1, got)
	}
}
