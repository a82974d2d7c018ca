// Package metrics exposes Prometheus instrumentation for matching, provider
// calls and analysis sessions. All recording methods are safe on a nil
// *Metrics so callers can run uninstrumented.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "compintel"

// Metrics holds every collector the service records into.
type Metrics struct {
	registry *prometheus.Registry

	matchRequests     *prometheus.CounterVec
	strategyErrors    *prometheus.CounterVec
	matchConfidence   prometheus.Histogram
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	providerCost      *prometheus.CounterVec
	sessions          *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	jobs              *prometheus.CounterVec
	progressPublished prometheus.Counter
	busDropped        prometheus.Counter
}

// New registers all collectors on a fresh registry, plus Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	m := &Metrics{
		registry: reg,
		matchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "match", Name: "requests_total",
			Help: "Profile match requests by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		strategyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "match", Name: "strategy_errors_total",
			Help: "Candidate strategy queries that failed against the store.",
		}, []string{"strategy"}),
		matchConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "match", Name: "confidence",
			Help:    "Confidence of resolved matches.",
			Buckets: []float64{.5, .6, .7, .8, .9, .95, 1},
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "calls_total",
			Help: "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "provider", Name: "call_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		providerCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "cost_usd_total",
			Help: "Estimated provider spend in USD.",
		}, []string{"provider"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "finished_total",
			Help: "Analysis sessions that reached a terminal status.",
		}, []string{"status"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active",
			Help: "Analysis sessions currently running.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "jobs_total",
			Help: "Competitor jobs by outcome.",
		}, []string{"outcome"}),
		progressPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "progress", Name: "published_total",
			Help: "Progress records published to the bus.",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "progress", Name: "dropped_total",
			Help: "Progress records dropped for slow subscribers.",
		}),
	}

	reg.MustRegister(
		m.matchRequests, m.strategyErrors, m.matchConfidence,
		m.providerCalls, m.providerDuration, m.providerCost,
		m.sessions, m.sessionsActive, m.jobs,
		m.progressPublished, m.busDropped,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Match outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
)

func (m *Metrics) ObserveMatch(algorithm, outcome string, confidence float64) {
	if m == nil {
		return
	}
	m.matchRequests.WithLabelValues(algorithm, outcome).Inc()
	if outcome == OutcomeFound {
		m.matchConfidence.Observe(confidence)
	}
}

func (m *Metrics) StrategyError(strategy string) {
	if m == nil {
		return
	}
	m.strategyErrors.WithLabelValues(strategy).Inc()
}

func (m *Metrics) ObserveProviderCall(provider string, success bool, seconds, costUSD float64) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(seconds)
	if costUSD > 0 {
		m.providerCost.WithLabelValues(provider).Add(costUSD)
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessions.WithLabelValues(status).Inc()
}

func (m *Metrics) JobFinished(success bool) {
	if m == nil {
		return
	}
	if success {
		m.jobs.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	m.jobs.WithLabelValues(OutcomeFailure).Inc()
}

func (m *Metrics) ProgressPublished() {
	if m == nil {
		return
	}
	m.progressPublished.Inc()
}

func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}
