// Package metrics provides Prometheus metrics for the generation service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-blackswan/appforge/internal/retry"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GenerationsTotal    *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	CacheLookupsTotal   *prometheus.CounterVec
	LLMRetriesTotal     *prometheus.CounterVec
	LLMFallbacksTotal   *prometheus.CounterVec
	PersistFailures     *prometheus.CounterVec
	ActiveGenerations   prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_http_requests_total",
				Help: "Total HTTP requests by route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appforge_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_generations_total",
				Help: "Finished generation sessions by mode and status.",
			},
			[]string{"mode", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appforge_stage_duration_seconds",
				Help:    "Pipeline stage duration.",
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_cache_lookups_total",
				Help: "Schema cache lookups by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		LLMRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_llm_retries_total",
				Help: "Retried provider calls by operation.",
			},
			[]string{"op"},
		),
		LLMFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_llm_fallbacks_total",
				Help: "Fallback model substitutions by operation and target model.",
			},
			[]string{"op", "model"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_persist_failures_total",
				Help: "Swallowed persistence failures by operation.",
			},
			[]string{"op"},
		),
		ActiveGenerations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appforge_active_generations",
				Help: "Generation sessions currently streaming.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	reg.MustRegister(m.GenerationsTotal)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.CacheLookupsTotal)
	reg.MustRegister(m.LLMRetriesTotal)
	reg.MustRegister(m.LLMFallbacksTotal)
	reg.MustRegister(m.PersistFailures)
	reg.MustRegister(m.ActiveGenerations)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordGeneration counts a finished generation session.
func (m *Metrics) RecordGeneration(mode, status string) {
	m.GenerationsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// GenerationStarted and GenerationFinished track in-flight sessions.
func (m *Metrics) GenerationStarted()  { m.ActiveGenerations.Inc() }
func (m *Metrics) GenerationFinished() { m.ActiveGenerations.Dec() }

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// CacheLookup implements cache.Observer.
func (m *Metrics) CacheLookup(tier, outcome string) {
	m.CacheLookupsTotal.WithLabelValues(tier, outcome).Inc()
}

// PersistFailure implements persist.FailureObserver.
func (m *Metrics) PersistFailure(op string) {
	m.PersistFailures.WithLabelValues(op).Inc()
}

// RetryHooks returns hooks that count provider retries and fallbacks.
func (m *Metrics) RetryHooks() retry.Hooks {
	return retry.Hooks{
		OnRetry: func(op string, _ int, _ error) {
			m.LLMRetriesTotal.WithLabelValues(op).Inc()
		},
		OnFallback: func(op, _, to string) {
			m.LLMFallbacksTotal.WithLabelValues(op, to).Inc()
		},
	}
}
