package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	handoffsTotal         *prometheus.CounterVec
	handoffDuration       *prometheus.HistogramVec
	stageDuration         *prometheus.HistogramVec
	generationAttempts    *prometheus.CounterVec
	generationExhausted   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_upstream_requests_total",
				Help: "Total upstream speech and generation API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		handoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_handoffs_total",
				Help: "Artifacts forwarded to the persistence service, by target and response status.",
			},
			[]string{"target", "status"},
		),
		handoffDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_handoff_duration_seconds",
				Help:    "Persistence handoff duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_pipeline_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "outcome"},
		),
		generationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_generation_attempts_total",
				Help: "Structured generation attempts, by task and outcome.",
			},
			[]string{"task", "outcome"},
		),
		generationExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_generation_exhausted_total",
				Help: "Generations that ran out of attempts without a valid result.",
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.handoffsTotal,
		m.handoffDuration,
		m.stageDuration,
		m.generationAttempts,
		m.generationExhausted,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHandoff(target string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.handoffsTotal.WithLabelValues(target, strconv.Itoa(status)).Inc()
	m.handoffDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func (m *Metrics) ObserveStage(stage string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome(ok)).Observe(duration.Seconds())
}

func (m *Metrics) ObserveGenerationAttempt(task string, ok bool) {
	if m == nil {
		return
	}
	m.generationAttempts.WithLabelValues(task, outcome(ok)).Inc()
}

func (m *Metrics) IncGenerationExhausted(task string) {
	if m == nil {
		return
	}
	m.generationExhausted.WithLabelValues(task).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
