package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks applied ledger operations.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rewards    *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// HTTPMetrics tracks daemon requests.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

func newLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyledger",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Applied ledger operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyledger",
			Subsystem: "ledger",
			Name:      "errors_total",
			Help:      "Rejected ledger operations segmented by operation and error class.",
		}, []string{"op", "class"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surveyledger",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time spent applying a ledger operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyledger",
			Subsystem: "ledger",
			Name:      "rewards_paid_total",
			Help:      "Rewards issued segmented by reward model.",
		}, []string{"model"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surveyledger",
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Events published to the ledger log segmented by type.",
		}, []string{"type"}),
	}
}

// Ledger returns the process-wide ledger metrics, registering them with the
// default registry on first use.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = newLedgerMetrics()
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.rewards,
			ledgerRegistry.events,
		)
	})
	return ledgerRegistry
}

func label(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// RecordOperation records one applied operation. An empty class means
// success.
func (m *LedgerMetrics) RecordOperation(op, class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = label(op, "unknown")
	outcome := "success"
	if class != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, class).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordReward counts one issued reward for model.
func (m *LedgerMetrics) RecordReward(model string) {
	if m == nil {
		return
	}
	m.rewards.WithLabelValues(label(model, "unknown")).Inc()
}

// RecordEvent counts one published event.
func (m *LedgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(label(eventType, "unknown")).Inc()
}

// Operations exposes the operations counter for tests.
func (m *LedgerMetrics) Operations() *prometheus.CounterVec { return m.operations }

// Errors exposes the error counter for tests.
func (m *LedgerMetrics) Errors() *prometheus.CounterVec { return m.errors }

// Rewards exposes the reward counter for tests.
func (m *LedgerMetrics) Rewards() *prometheus.CounterVec { return m.rewards }

// HTTP returns the process-wide daemon metrics.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "surveyledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "surveyledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "surveyledger",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a completed HTTP request.
func (m *HTTPMetrics) Observe(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = label(route, "unmatched")
	m.requests.WithLabelValues(route, method, strconvStatus(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Throttled records a rate limited request.
func (m *HTTPMetrics) Throttled(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route, "unmatched")).Inc()
}

// Requests exposes the request counter for tests.
func (m *HTTPMetrics) Requests() *prometheus.CounterVec { return m.requests }

func strconvStatus(status int) string {
	if status <= 0 {
		status = 200
	}
	if status < 100 || status > 999 {
		return "other"
	}
	return strconv.Itoa(status)
}
