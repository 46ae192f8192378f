// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamvault"

var (
	// SyncRuns counts finished source syncs by source type and outcome (success|error|skipped).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Source syncs by source type and outcome.",
	}, []string{"source_type", "outcome"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a source sync.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 14),
	}, []string{"source_type"})

	// PersistedRows counts rows written by the batch writer, by table.
	PersistedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persisted_rows_total",
		Help:      "Rows upserted or inserted by the batch writer.",
	}, []string{"table"})

	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_requests_total",
		Help:      "Proxy requests by kind (manifest|stream|image) and outcome.",
	}, []string{"kind", "outcome"})

	ProxyBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_bytes_total",
		Help:      "Bytes relayed to clients by kind.",
	}, []string{"kind"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by result (hit|miss).",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
