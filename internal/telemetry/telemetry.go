// Package telemetry registers the Prometheus instruments exposed on
// /metrics. A single Metrics value is created at startup and threaded
// through the handlers that record into it.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	CacheHits        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	EventsDropped    prometheus.Gauge
}

// New creates and registers all instruments on a fresh registry,
// alongside the standard Go process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_analyses_total",
			Help: "Completed PME analyses by method and outcome.",
		}, []string{"method", "status"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_analysis_duration_seconds",
			Help:    "Wall-clock duration of one analysis computation.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_cache_requests_total",
			Help: "Cache lookups by outcome (hit or miss).",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_events_dropped_total",
			Help: "Events dropped because a subscriber fell behind.",
		}),
	}

	registry.MustRegister(
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.CacheHits,
		m.HTTPRequests,
		m.EventsDropped,
	)
	return m
}

// Handler returns the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAnalysis counts one completed analysis.
func (m *Metrics) RecordAnalysis(method, status string, seconds float64) {
	m.AnalysesTotal.WithLabelValues(method, status).Inc()
	m.AnalysisDuration.Observe(seconds)
}

// RecordCache counts one cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHits.WithLabelValues(outcome).Inc()
}
