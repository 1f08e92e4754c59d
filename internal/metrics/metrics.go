// Package metrics exposes the gateway's dispatch counters on a dedicated
// prometheus registry, served from the admin listener.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks gateway metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total dispatched requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Dispatch duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total upstream retry attempts by route.",
		}, []string{"route"}),
		fallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallbacks_total",
			Help: "Total fallback responses by route and reason.",
		}, []string{"route", "reason"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state by name: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
	}
}

// RecordRequest records a completed dispatch.
func (c *Collector) RecordRequest(routeID, method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(routeID, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(routeID).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt.
func (c *Collector) RecordRetry(routeID string) {
	c.retriesTotal.WithLabelValues(routeID).Inc()
}

// RecordFallback records a resolved fallback response.
func (c *Collector) RecordFallback(routeID, reason string) {
	c.fallbacksTotal.WithLabelValues(routeID, reason).Inc()
}

// SetBreakerState publishes a breaker's current state.
func (c *Collector) SetBreakerState(name string, state int) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
