package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the wallet's operational signals.
type Recorder interface {
	TransactionApplied(txType, status string)
	DuplicateReference()
	InsufficientFunds()
	DriftDetected(delta int64)
	TopUpResolved(method, status string)
	CallbackAnomaly(method, kind string)
	UpstreamTimeout(operation string)
	LockWait(d time.Duration)
}

// Noop discards every signal.
type Noop struct{}

func (Noop) TransactionApplied(string, string) {}
func (Noop) DuplicateReference()               {}
func (Noop) InsufficientFunds()                {}
func (Noop) DriftDetected(int64)               {}
func (Noop) TopUpResolved(string, string)      {}
func (Noop) CallbackAnomaly(string, string)    {}
func (Noop) UpstreamTimeout(string)            {}
func (Noop) LockWait(time.Duration)            {}

// Prometheus records signals as Prometheus collectors registered on its own registry.
type Prometheus struct {
	registry           *prometheus.Registry
	transactionsTotal  *prometheus.CounterVec
	duplicateRefsTotal prometheus.Counter
	insufficientTotal  prometheus.Counter
	driftTotal         prometheus.Counter
	driftAbsolute      prometheus.Counter
	topUpsResolved     *prometheus.CounterVec
	callbackAnomalies  *prometheus.CounterVec
	upstreamTimeouts   *prometheus.CounterVec
	lockWaitSeconds    prometheus.Histogram
}

var _ Recorder = (*Prometheus)(nil)
var _ Recorder = Noop{}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Transactions written, partitioned by type and resulting status.",
			},
			[]string{"type", "status"},
		),
		duplicateRefsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "duplicate_references_total",
				Help:      "Writes absorbed because their reference was already used.",
			},
		),
		insufficientTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "insufficient_funds_total",
				Help:      "Deductions refused for insufficient funds.",
			},
		),
		driftTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "balance_drift_total",
				Help:      "Consistency checks that found a cached balance out of line with the ledger.",
			},
		),
		driftAbsolute: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "balance_drift_minor_units_total",
				Help:      "Absolute minor units corrected by consistency checks.",
			},
		),
		topUpsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "topup",
				Name:      "resolved_total",
				Help:      "Top-up requests reaching a terminal state, by method and status.",
			},
			[]string{"method", "status"},
		),
		callbackAnomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "topup",
				Name:      "callback_anomalies_total",
				Help:      "Gateway callbacks that did not match the request state.",
			},
			[]string{"method", "kind"},
		),
		upstreamTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Name:      "upstream_timeouts_total",
				Help:      "External calls abandoned after the upstream timeout.",
			},
			[]string{"operation"},
		),
		lockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "wallet",
				Subsystem: "ledger",
				Name:      "account_lock_wait_seconds",
				Help:      "Time spent waiting for an account's critical section.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) TransactionApplied(txType, status string) {
	m.transactionsTotal.WithLabelValues(txType, status).Inc()
}

func (m *Prometheus) DuplicateReference() {
	m.duplicateRefsTotal.Inc()
}

func (m *Prometheus) InsufficientFunds() {
	m.insufficientTotal.Inc()
}

func (m *Prometheus) DriftDetected(delta int64) {
	m.driftTotal.Inc()
	if delta < 0 {
		delta = -delta
	}
	m.driftAbsolute.Add(float64(delta))
}

func (m *Prometheus) TopUpResolved(method, status string) {
	m.topUpsResolved.WithLabelValues(method, status).Inc()
}

func (m *Prometheus) CallbackAnomaly(method, kind string) {
	m.callbackAnomalies.WithLabelValues(method, kind).Inc()
}

func (m *Prometheus) UpstreamTimeout(operation string) {
	m.upstreamTimeouts.WithLabelValues(operation).Inc()
}

func (m *Prometheus) LockWait(d time.Duration) {
	m.lockWaitSeconds.Observe(d.Seconds())
}
