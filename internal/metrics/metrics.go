// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_uploads_total",
			Help: "Uploads handled, by outcome (pending, linked, session_create_failed, validation, unauthorized, config, error)",
		},
		[]string{"outcome"},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sessions_opened_total",
			Help: "Recording sessions created",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Recording sessions closed, by reason (stopped, duplicate)",
		},
		[]string{"reason"},
	)

	PointsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_gps_points_total",
			Help: "GPS points appended to sessions",
		},
	)

	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_store_request_duration_seconds",
			Help:    "Duration of record store calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Store circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_live_subscribers",
			Help: "Connected websocket subscribers",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Uploads rejected by the per-client rate limit",
		},
	)
)
