// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildtrack_gateway_writes_total",
			Help: "Writes dispatched by the persistence gateway",
		},
		[]string{"operation", "outcome"}, // outcome: ok, denied, failed
	)

	GatewayWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildtrack_gateway_write_duration_seconds",
			Help:    "Backend latency of dispatched writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation"},
	)

	GatewayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "buildtrack_gateway_queue_depth",
			Help: "Writes accepted but not yet applied by the backend",
		},
	)

	PermissionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildtrack_permission_errors_total",
			Help: "Permission errors published on the error channel",
		},
		[]string{"operation"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildtrack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func RecordGatewayWrite(operation, outcome string, d time.Duration) {
	GatewayWrites.WithLabelValues(operation, outcome).Inc()
	GatewayWriteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func IncrementPermissionErrors(operation string) {
	PermissionErrors.WithLabelValues(operation).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
