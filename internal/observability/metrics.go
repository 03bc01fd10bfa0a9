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

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamDuration        *prometheus.HistogramVec
	classificationsTotal    *prometheus.CounterVec
	classificationFallbacks *prometheus.CounterVec
	pipelineFailures        *prometheus.CounterVec
	alertsTotal             *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carecompanion_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_upstream_requests_total",
				Help: "Total upstream model API requests.",
			},
			[]string{"service", "endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carecompanion_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"service", "endpoint", "status"},
		),
		classificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_classifications_total",
				Help: "Verdicts produced, by classification method.",
			},
			[]string{"method"},
		),
		classificationFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_classification_fallback_total",
				Help: "Classifications answered by the keyword fallback, by reason.",
			},
			[]string{"reason"},
		),
		pipelineFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_pipeline_failures_total",
				Help: "Pipeline invocations that returned a failure envelope, by error kind.",
			},
			[]string{"kind"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecompanion_alerts_total",
				Help: "Clinical attention alerts, by publish outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.classificationsTotal,
		m.classificationFallbacks,
		m.pipelineFailures,
		m.alertsTotal,
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

// UpstreamObserver returns a callback for the upstream clients, labelled with service.
func (m *Metrics) UpstreamObserver(service string) func(endpoint string, status int, duration time.Duration) {
	return func(endpoint string, status int, duration time.Duration) {
		m.ObserveUpstream(service, endpoint, status, duration)
	}
}

func (m *Metrics) ObserveUpstream(service, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(service, endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(service, endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveClassification(method string) {
	if m == nil {
		return
	}
	m.classificationsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) IncClassificationFallback(reason string) {
	if m == nil {
		return
	}
	m.classificationFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPipelineFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.pipelineFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveAlert(outcome string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(outcome).Inc()
}
