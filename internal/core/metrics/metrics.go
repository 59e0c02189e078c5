package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseConnected reports whether the supervised connection is up (1) or down (0).
	DatabaseConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgguard_database_connected",
			Help: "Whether the supervised database connection is currently established",
		},
	)

	// ConnectionAttempts counts connection probe attempts by outcome.
	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgguard_connection_attempts_total",
			Help: "Total number of database connection attempts",
		},
		[]string{"outcome"},
	)

	// ConnectionErrors counts classified connection failures per category.
	ConnectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgguard_connection_errors_total",
			Help: "Total number of classified database connection errors",
		},
		[]string{"category"},
	)

	// Reconnects counts successful reconnections after a loss.
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgguard_reconnects_total",
			Help: "Total number of successful database reconnections",
		},
	)

	// ProbeLatency tracks health probe round-trip latency.
	ProbeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgguard_probe_latency_seconds",
			Help:    "Health probe round-trip latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// PoolOpenConnections reports open connections in the pool.
	PoolOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgguard_pool_open_connections",
			Help: "Number of established connections in the pool",
		},
	)

	// PoolInUse reports connections currently checked out.
	PoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgguard_pool_in_use_connections",
			Help: "Number of pool connections currently in use",
		},
	)

	// PoolIdle reports idle connections in the pool.
	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgguard_pool_idle_connections",
			Help: "Number of idle connections in the pool",
		},
	)

	// PoolUsage reports pool saturation as a percentage of the configured limit.
	PoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgguard_pool_usage_percent",
			Help: "Pool usage as a percentage of the configured pool size",
		},
	)
)
