// Package metrics exposes the front's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for backend responses as classified by the API client.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeRequestError = "request_error"
	OutcomeNetworkError = "network_error"
)

// Collector records metrics. A nil *Collector records nothing.
type Collector struct {
	apiResponses  *prometheus.CounterVec
	apiLatency    prometheus.Histogram
	roleLookups   *prometheus.CounterVec
	roleFetches   prometheus.Counter
	signIns       *prometheus.CounterVec
	activeClients prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherfit_api_responses_total",
			Help: "Backend responses by outcome.",
		}, []string{"outcome"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherfit_api_request_duration_seconds",
			Help:    "Backend request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		roleLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherfit_role_lookups_total",
			Help: "Role lookups by cache result.",
		}, []string{"result"}),
		roleFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aetherfit_role_fetches_total",
			Help: "Role fetches issued to the backend.",
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherfit_sign_ins_total",
			Help: "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aetherfit_active_clients",
			Help: "Browser client instances currently held in memory.",
		}),
	}

	reg.MustRegister(
		c.apiResponses,
		c.apiLatency,
		c.roleLookups,
		c.roleFetches,
		c.signIns,
		c.activeClients,
	)
	return c
}

// RecordAPIResponse records one backend call.
func (c *Collector) RecordAPIResponse(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.apiResponses.WithLabelValues(outcome).Inc()
	c.apiLatency.Observe(d.Seconds())
}

// RecordRoleLookup records a role lookup as "hit", "miss" or "error".
func (c *Collector) RecordRoleLookup(result string) {
	if c == nil {
		return
	}
	c.roleLookups.WithLabelValues(result).Inc()
}

// RecordRoleFetch counts a request actually sent for a role.
func (c *Collector) RecordRoleFetch() {
	if c == nil {
		return
	}
	c.roleFetches.Inc()
}

// RecordSignIn records a sign-in attempt.
func (c *Collector) RecordSignIn(method string, ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.signIns.WithLabelValues(method, result).Inc()
}

// SetActiveClients sets the number of live client instances.
func (c *Collector) SetActiveClients(n int) {
	if c == nil {
		return
	}
	c.activeClients.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
