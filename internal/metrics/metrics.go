package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	registry *prometheus.Registry

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec

	cacheEventTotal *prometheus.CounterVec

	escalationTotal            *prometheus.CounterVec
	delegateDepthExceededTotal prometheus.Counter

	auditWriteDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			registry: prometheus.NewRegistry(),

			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_total",
					Help: "Total orchestrated runs by terminal status.",
				},
				[]string{"status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "run_duration_seconds",
					Help:    "Run duration in seconds by terminal status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_runs",
					Help: "Current in-flight run count.",
				},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_call_total",
					Help: "Total provider invocations by backend and outcome.",
				},
				[]string{"backend", "outcome"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Provider invocation duration in seconds by backend.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			validationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "validation_total",
					Help: "Total validator executions by validator type and result.",
				},
				[]string{"validator", "result"},
			),
			validationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "validation_duration_seconds",
					Help:    "Validator execution duration in seconds by validator type.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"validator"},
			),
			cacheEventTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_event_total",
					Help: "Total response cache events by event kind.",
				},
				[]string{"event"},
			),
			escalationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "escalation_total",
					Help: "Total retry cycles entered by escalation mode.",
				},
				[]string{"mode"},
			),
			delegateDepthExceededTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "delegate_depth_exceeded_total",
					Help: "Total delegate validations rejected for exhausted recursion depth.",
				},
			),
			auditWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "audit_write_duration_seconds",
					Help:    "Audit store write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		m.registry.MustRegister(
			m.runTotal,
			m.runDuration,
			m.activeRuns,
			m.providerCallTotal,
			m.providerCallDuration,
			m.validationTotal,
			m.validationDuration,
			m.cacheEventTotal,
			m.escalationTotal,
			m.delegateDepthExceededTotal,
			m.auditWriteDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// Handler returns an HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	m := getMetrics()
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func RecordRun(status string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetActiveRuns(count int) {
	m := getMetrics()
	m.activeRuns.Set(float64(count))
}

func RecordProviderCall(backend string, duration time.Duration, outcome string) {
	m := getMetrics()
	m.providerCallTotal.WithLabelValues(backend, outcome).Inc()
	m.providerCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordValidation(validator string, duration time.Duration, pass bool) {
	m := getMetrics()
	result := "fail"
	if pass {
		result = "pass"
	}
	m.validationTotal.WithLabelValues(validator, result).Inc()
	m.validationDuration.WithLabelValues(validator).Observe(duration.Seconds())
}

func RecordCacheEvent(event string) {
	m := getMetrics()
	m.cacheEventTotal.WithLabelValues(event).Inc()
}

func RecordEscalation(mode string) {
	m := getMetrics()
	m.escalationTotal.WithLabelValues(mode).Inc()
}

func RecordDelegateDepthExceeded() {
	m := getMetrics()
	m.delegateDepthExceededTotal.Inc()
}

func RecordAuditWrite(duration time.Duration) {
	m := getMetrics()
	m.auditWriteDuration.Observe(duration.Seconds())
}
