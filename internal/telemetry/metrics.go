// Package telemetry defines the Prometheus metrics exported by the key server.
//
// All metrics are registered against the default registry and served by Handler,
// which the router mounts at GET /metrics.
//
// HTTP metrics use the gin route template (c.FullPath()) as the path label so that
// user-supplied query strings never reach label values.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validation result labels.
const (
	ResultValid       = "valid"
	ResultNotFound    = "not_found"
	ResultAlreadyUsed = "already_used"
	ResultExpired     = "expired"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

var (
	KeysGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keys_generated_total",
			Help: "Total number of executor keys issued.",
		},
	)

	KeyGenerationDeniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keys_generation_denied_total",
			Help: "Total number of key requests rejected by the issuance cooldown.",
		},
	)

	KeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_validations_total",
			Help: "Total number of key validations, by result.",
		},
		[]string{"result"},
	)

	KeysSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keys_swept_total",
			Help: "Total number of used or expired key records removed from memory.",
		},
	)

	CommitsFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commits_fallback_total",
			Help: "Total number of commit listings served from the static fallback.",
		},
	)

	AuditEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped because the write queue was full.",
		},
	)
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
