package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// method activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkledger",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkledger",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkledger",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkledger",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an RPC call. code is the JSON-RPC error code,
// zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks ledger operations and the rollup pipeline.
type LedgerMetrics struct {
	operations   *prometheus.CounterVec
	opLatency    *prometheus.HistogramVec
	pipeline     *prometheus.GaugeVec
	requests     *prometheus.GaugeVec
	evacuation   prometheus.Gauge
	liquidations *prometheus.CounterVec
}

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and failure kind.",
			}, []string{"operation", "kind"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zkledger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			pipeline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zkledger",
				Subsystem: "rollup",
				Name:      "block_number",
				Help:      "Highest block number per pipeline stage.",
			}, []string{"stage"}),
			requests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zkledger",
				Subsystem: "rollup",
				Name:      "l1_requests",
				Help:      "Request queue counters.",
			}, []string{"counter"}),
			evacuation: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zkledger",
				Subsystem: "rollup",
				Name:      "evacuation_mode",
				Help:      "One once evacuation mode has been activated.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zkledger",
				Subsystem: "loan",
				Name:      "liquidations_total",
				Help:      "Liquidations segmented by full or half settlement.",
			}, []string{"mode"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.opLatency,
			ledgerRegistry.pipeline,
			ledgerRegistry.requests,
			ledgerRegistry.evacuation,
			ledgerRegistry.liquidations,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records a ledger operation. kind is the failure
// classification, "ok" on success.
func (m *LedgerMetrics) ObserveOperation(operation, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.operations.WithLabelValues(operation, kind).Inc()
	m.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// PipelineSnapshot is the subset of rollup status exported as gauges.
type PipelineSnapshot struct {
	Committed, Verified, Executed    uint32
	TotalRequests, CommittedRequests uint64
	ExecutedRequests                 uint64
	Evacuating                       bool
}

// SetPipeline publishes the pipeline counters.
func (m *LedgerMetrics) SetPipeline(s PipelineSnapshot) {
	if m == nil {
		return
	}
	m.pipeline.WithLabelValues("committed").Set(float64(s.Committed))
	m.pipeline.WithLabelValues("verified").Set(float64(s.Verified))
	m.pipeline.WithLabelValues("executed").Set(float64(s.Executed))
	m.requests.WithLabelValues("total").Set(float64(s.TotalRequests))
	m.requests.WithLabelValues("committed").Set(float64(s.CommittedRequests))
	m.requests.WithLabelValues("executed").Set(float64(s.ExecutedRequests))
	if s.Evacuating {
		m.evacuation.Set(1)
	} else {
		m.evacuation.Set(0)
	}
}

// RecordLiquidation counts a settled liquidation.
func (m *LedgerMetrics) RecordLiquidation(full bool) {
	if m == nil {
		return
	}
	mode := "half"
	if full {
		mode = "full"
	}
	m.liquidations.WithLabelValues(mode).Inc()
}
