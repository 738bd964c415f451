// Package metrics registers the gateway's Prometheus series:
//
//	quotegateway_requests_total{outcome}
//	quotegateway_cache_lookups_total{result}
//	quotegateway_provider_calls_total{provider,outcome}
//	quotegateway_provider_call_seconds{provider}
//	quotegateway_breaker_state{provider}
//	go_* and process_* system metrics
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
}

// New builds a Metrics on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegateway_requests_total",
				Help: "Quote requests by outcome",
			},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegateway_cache_lookups_total",
				Help: "Cache lookups by result (hit, stale_hit, miss)",
			},
			[]string{"result"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegateway_provider_calls_total",
				Help: "Provider calls by outcome (success, skipped, or the failure kind)",
			},
			[]string{"provider", "outcome"},
		),
		providerTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotegateway_provider_call_seconds",
				Help:    "Provider call latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotegateway_breaker_state",
				Help: "Circuit state per provider: 0 closed, 1 open, 2 half-open",
			},
			[]string{"provider"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.cacheLookups,
		m.providerCalls,
		m.providerTime,
		m.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.cacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ProviderCall(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	if took > 0 {
		m.providerTime.WithLabelValues(provider).Observe(took.Seconds())
	}
}

func (m *Metrics) BreakerState(provider string, state int) {
	if m != nil {
		m.breakerState.WithLabelValues(provider).Set(float64(state))
	}
}
