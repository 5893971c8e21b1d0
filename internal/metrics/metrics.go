// Package metrics defines the Prometheus collectors exposed on
// /metrics. Collectors are package-level so any component can record
// without carrying a registry handle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts API requests by method, route, and
	// status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbex_http_requests_total",
			Help: "API requests served.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency per route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbex_http_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ExecutionsTotal counts market order executions by certificate,
	// side, and terminal status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbex_executions_total",
			Help: "Market order executions.",
		},
		[]string{"certificate", "side", "status"},
	)

	// TradesTotal counts individual fills written to the tape.
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbex_trades_total",
			Help: "Fills written to the tape.",
		},
		[]string{"certificate"},
	)

	// ScrapesTotal counts reference-price scrape attempts by source
	// and outcome.
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbex_scrapes_total",
			Help: "Reference price scrape attempts.",
		},
		[]string{"source", "status"},
	)

	// ScrapeStaleDropped counts scrape responses discarded because a
	// newer response was already applied.
	ScrapeStaleDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carbex_scrape_stale_dropped_total",
			Help: "Scrape responses dropped by the sequence guard.",
		},
	)

	// WSConnections tracks currently connected websocket clients.
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carbex_ws_connections",
			Help: "Connected websocket clients.",
		},
	)

	// ArchiveRunsTotal counts cold-storage archive runs by outcome.
	ArchiveRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbex_archive_runs_total",
			Help: "Cold storage archive runs.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ExecutionsTotal,
		TradesTotal,
		ScrapesTotal,
		ScrapeStaleDropped,
		WSConnections,
		ArchiveRunsTotal,
	)
}
