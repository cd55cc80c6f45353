package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// SettlementMetrics groups the collectors recorded by the value-moving
// engines: custody, sales, finalization, vesting and the bonding curve.
type SettlementMetrics struct {
	operations      *prometheus.CounterVec
	errors          *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	finalizations   *prometheus.CounterVec
	reconciliations prometheus.Counter
	volume          *prometheus.CounterVec
	swaps           *prometheus.CounterVec
	graduations     prometheus.Counter
	idempotencyHits *prometheus.CounterVec
	throttles       *prometheus.CounterVec
}

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Count of settlement operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "settlement",
				Name:      "errors_total",
				Help:      "Count of settlement failures segmented by module, operation and reason.",
			}, []string{"module", "operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "settlement",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for settlement operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "finalize",
				Name:      "results_total",
				Help:      "Committed finalization results segmented by terminal status.",
			}, []string{"status"}),
			reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "finalize",
				Name:      "reconciliation_failures_total",
				Help:      "Finalizations rejected because the computed amounts did not reconcile.",
			}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "settlement",
				Name:      "volume_total",
				Help:      "Approximate value moved per module and flow, in smallest token units.",
			}, []string{"module", "flow"}),
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "bonding",
				Name:      "swaps_total",
				Help:      "Executed bonding curve swaps segmented by direction.",
			}, []string{"direction"}),
			graduations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "bonding",
				Name:      "graduations_total",
				Help:      "Pools that crossed their graduation threshold.",
			}),
			idempotencyHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "idempotency",
				Name:      "lookups_total",
				Help:      "Idempotency store lookups segmented by store and result.",
			}, []string{"store", "result"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "settlement",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limits or quotas.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			settlementRegistry.operations,
			settlementRegistry.errors,
			settlementRegistry.latency,
			settlementRegistry.finalizations,
			settlementRegistry.reconciliations,
			settlementRegistry.volume,
			settlementRegistry.swaps,
			settlementRegistry.graduations,
			settlementRegistry.idempotencyHits,
			settlementRegistry.throttles,
		)
	})
	return settlementRegistry
}

// Observe records the outcome and latency of a settlement operation.
func (m *SettlementMetrics) Observe(module, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	mod := labelOrUnknown(module)
	op := labelOrUnknown(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(mod, op, reasonLabel(err)).Inc()
	}
	m.operations.WithLabelValues(mod, op, outcome).Inc()
	m.latency.WithLabelValues(mod, op).Observe(duration.Seconds())
}

// RecordFinalization counts a committed finalization by status.
func (m *SettlementMetrics) RecordFinalization(status string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(labelOrUnknown(strings.ToLower(status))).Inc()
}

// RecordReconciliationFailure counts a finalization rejected by reconciliation.
func (m *SettlementMetrics) RecordReconciliationFailure() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

// AddVolume adds the amount moved by a flow. Values that do not fit a float64
// are clamped.
func (m *SettlementMetrics) AddVolume(module, flow string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.volume.WithLabelValues(labelOrUnknown(module), labelOrUnknown(flow)).Add(bigToFloat(amount))
}

// RecordSwap counts an executed swap.
func (m *SettlementMetrics) RecordSwap(direction string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(labelOrUnknown(strings.ToLower(direction))).Inc()
}

// RecordGraduation counts a pool entering the graduating state.
func (m *SettlementMetrics) RecordGraduation() {
	if m == nil {
		return
	}
	m.graduations.Inc()
}

// RecordIdempotency counts an idempotency lookup; hit reports a replay.
func (m *SettlementMetrics) RecordIdempotency(store string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.idempotencyHits.WithLabelValues(labelOrUnknown(store), result).Inc()
}

// RecordThrottle counts a request rejected by a limiter.
func (m *SettlementMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), labelOrUnknown(reason)).Inc()
}

func labelOrUnknown(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// reasonLabel keeps the sentinel portion of a wrapped error so that dynamic
// values do not explode label cardinality.
func reasonLabel(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown"
	}
	parts := strings.SplitN(msg, ": ", 3)
	if len(parts) >= 2 {
		msg = parts[0] + ": " + parts[1]
	}
	if len(msg) > 80 {
		msg = msg[:80]
	}
	return msg
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
