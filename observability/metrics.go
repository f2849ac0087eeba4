package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics tracks the stablecoin core's operational counters: ledger
// mutations by operation and outcome, liquidation attempts, stability fee
// collections, and snapshot persistence latency.
type CoreMetrics struct {
	ledgerOps      *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	feeCollections *prometheus.CounterVec
	snapshotTime   prometheus.Histogram
}

var (
	coreMetricsOnce sync.Once
	coreRegistry    *CoreMetrics
)

// Core returns the lazily-initialised core metrics registry.
func Core() *CoreMetrics {
	coreMetricsOnce.Do(func() {
		coreRegistry = &CoreMetrics{
			ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecoin",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger mutations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecoin",
				Subsystem: "liquidation",
				Name:      "attempts_total",
				Help:      "Count of liquidation attempts segmented by pool and outcome.",
			}, []string{"pool", "outcome"}),
			feeCollections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecoin",
				Subsystem: "stabilityfee",
				Name:      "collections_total",
				Help:      "Count of stability fee collections segmented by pool and outcome.",
			}, []string{"pool", "outcome"}),
			snapshotTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "stablecoin",
				Subsystem: "storage",
				Name:      "snapshot_seconds",
				Help:      "Latency of ledger snapshot persistence.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			coreRegistry.ledgerOps,
			coreRegistry.liquidations,
			coreRegistry.feeCollections,
			coreRegistry.snapshotTime,
		)
	})
	return coreRegistry
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLedgerOp records one ledger mutation attempt.
func (m *CoreMetrics) ObserveLedgerOp(op string, err error) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, outcomeLabel(err)).Inc()
}

// ObserveLiquidation records one liquidation attempt.
func (m *CoreMetrics) ObserveLiquidation(pool string, err error) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(pool, outcomeLabel(err)).Inc()
}

// ObserveFeeCollection records one stability fee collection attempt.
func (m *CoreMetrics) ObserveFeeCollection(pool string, err error) {
	if m == nil {
		return
	}
	m.feeCollections.WithLabelValues(pool, outcomeLabel(err)).Inc()
}

// ObserveSnapshot records one snapshot persistence duration.
func (m *CoreMetrics) ObserveSnapshot(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotTime.Observe(d.Seconds())
}
