package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ProcessorMetrics struct {
	executions *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	writes     prometheus.Histogram
}

var (
	processorOnce     sync.Once
	processorRegistry *ProcessorMetrics
)

func Processor() *ProcessorMetrics {
	processorOnce.Do(func() {
		processorRegistry = &ProcessorMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "rewards_executions_total",
				Help: "Entry point executions by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "rewards_execution_seconds",
				Help:    "Entry point execution latency.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			writes: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "rewards_execution_writes",
				Help:    "Number of keys committed per successful execution.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
		}
		prometheus.MustRegister(
			processorRegistry.executions,
			processorRegistry.latency,
			processorRegistry.writes,
		)
	})
	return processorRegistry
}

func (m *ProcessorMetrics) ObserveExecution(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = label(op)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.executions.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *ProcessorMetrics) ObserveCommit(writes int) {
	if m == nil {
		return
	}
	m.writes.Observe(float64(writes))
}
