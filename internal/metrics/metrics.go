// Package metrics exposes Prometheus instrumentation for the honeypot. All
// collectors register with the default registry, which the monitor server
// serves at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SSH session metrics
	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_connections_accepted_total",
			Help: "Total number of TCP connections accepted by the SSH listener",
		},
	)

	AcceptErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_accept_errors_total",
			Help: "Total number of transient accept errors",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshlure_active_sessions",
			Help: "Number of SSH sessions currently in progress",
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sshlure_session_duration_seconds",
			Help:    "Time from accept to session close",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshlure_sessions_ended_total",
			Help: "Total number of sessions by the state they ended in",
		},
		[]string{"reason"}, // "completed", "peer_closed", "timeout", "io_error", "panic"
	)

	AuthAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_auth_attempts_total",
			Help: "Total number of authentication rounds in which a client sent data",
		},
	)

	CredentialsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_credentials_captured_total",
			Help: "Total number of sessions that yielded a username and password",
		},
	)

	// Geolocation metrics
	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_geo_cache_hits_total",
			Help: "Total number of location lookups served from the cache",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_geo_cache_misses_total",
			Help: "Total number of location lookups that went to the providers",
		},
	)

	GeoProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshlure_geo_provider_requests_total",
			Help: "Total number of geolocation provider calls by outcome",
		},
		[]string{"provider", "result"}, // result: "success", "no_match", "failure", "rejected"
	)

	GeoProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sshlure_geo_provider_duration_seconds",
			Help:    "Duration of geolocation provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	GeoRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sshlure_geo_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the global lookup rate limit",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sshlure_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshlure_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Sink metrics
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshlure_records_emitted_total",
			Help: "Total number of attack records delivered by sink",
		},
		[]string{"sink"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sshlure_sink_errors_total",
			Help: "Total number of failed record deliveries by sink",
		},
		[]string{"sink"},
	)

	SinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sshlure_sink_dropped_total",
			Help: "Total number of records dropped because the sink buffer was full",
		},
	)

	SinkQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshlure_sink_queue_depth",
			Help: "Number of records waiting in the asynchronous sink buffer",
		},
	)

	// Monitor metrics
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sshlure_live_clients",
			Help: "Number of connected live feed WebSocket clients",
		},
	)
)
