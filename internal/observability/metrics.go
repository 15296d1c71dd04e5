package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the metric namespace used when none is given.
const DefaultNamespace = "avaproxy"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
	ResultNoop    = "noop"
)

// Metrics holds the Prometheus collectors for the gateway pool and client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	endpointsActive *prometheus.GaugeVec
	provisionTotal  *prometheus.CounterVec
	teardownTotal   *prometheus.CounterVec
	providerRetries *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.endpointsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoints_active",
			Help:      "Number of active gateway endpoints in the pool",
		},
		[]string{"region"},
	)

	m.provisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_total",
			Help:      "Total number of endpoint provisioning attempts by outcome",
		},
		[]string{"region", "result"},
	)

	m.teardownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_total",
			Help:      "Total number of endpoint teardown attempts by outcome",
		},
		[]string{"region", "result"},
	)

	m.providerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total number of retried cloud provider calls",
		},
		[]string{"op"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help: "Provider circuit breaker state per region " +
				"(0=closed, 1=half-open, 2=open)",
		},
		[]string{"region"},
	)

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests routed through gateway endpoints",
		},
		[]string{"region", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of requests routed through gateway endpoints",
			Buckets: []float64{
				.01, .025, .05, .1, .25,
				.5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"region"},
	)

	m.registry.MustRegister(
		m.endpointsActive,
		m.provisionTotal,
		m.teardownTotal,
		m.providerRetries,
		m.breakerState,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetEndpointsActive sets the number of active endpoints for a region.
func (m *Metrics) SetEndpointsActive(region string, n int) {
	if m == nil {
		return
	}
	m.endpointsActive.WithLabelValues(region).Set(float64(n))
}

// RecordProvision records the outcome of one provisioning attempt.
func (m *Metrics) RecordProvision(region, result string) {
	if m == nil {
		return
	}
	m.provisionTotal.WithLabelValues(region, result).Inc()
}

// RecordTeardown records the outcome of one teardown attempt.
func (m *Metrics) RecordTeardown(region, result string) {
	if m == nil {
		return
	}
	m.teardownTotal.WithLabelValues(region, result).Inc()
}

// RecordProviderRetry records a retried cloud provider call.
func (m *Metrics) RecordProviderRetry(op string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(op).Inc()
}

// SetCircuitBreakerState records the provider circuit breaker state of a region.
func (m *Metrics) SetCircuitBreakerState(region string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(region).Set(float64(state))
}

// RecordRequest records a routed request. status is the HTTP status code
// as a string, or "error" when no response was received.
func (m *Metrics) RecordRequest(region, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(region, status).Inc()
	m.requestDuration.WithLabelValues(region).Observe(duration.Seconds())
}
