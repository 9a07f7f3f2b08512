package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: reson8 (application-level grouping)
// - subsystem: gateway, rooms, voice (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (sessions, rooms, voice sessions)
// - Counter: Cumulative events (events processed, errors)
// - Histogram: Latency distributions (event handling time)

var (
	// ActiveSessions tracks the current number of connected WebSocket sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Current number of connected sessions",
	})

	// ActiveRooms tracks the current number of broker rooms with subscribers
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "rooms",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one subscriber",
	})

	// RoomSubscribers tracks the number of subscribers per room
	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "rooms",
		Name:      "subscribers_count",
		Help:      "Number of subscribers in each room",
	}, []string{"room"})

	// GatewayEvents tracks the total number of inbound events processed
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reson8",
		Subsystem: "gateway",
		Name:      "events_total",
		Help:      "Total inbound events processed",
	}, []string{"event", "status"})

	// EventHandlingDuration tracks time spent handling inbound events
	EventHandlingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reson8",
		Subsystem: "gateway",
		Name:      "event_handling_seconds",
		Help:      "Time spent handling inbound events",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// ActiveVoiceSessions tracks the current number of per-(channel,user) voice sessions
	ActiveVoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "voice",
		Name:      "sessions_active",
		Help:      "Current number of active voice sessions",
	})

	// ActiveProducers tracks the current number of live audio producers
	ActiveProducers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "voice",
		Name:      "producers_active",
		Help:      "Current number of live audio producers",
	})

	// CircuitBreakerState tracks breaker state per backend (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reson8",
		Subsystem: "backend",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts requests rejected by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reson8",
		Subsystem: "backend",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected by an open circuit breaker",
	}, []string{"backend"})

	// RateLimitExceeded counts rejected requests per limiter scope
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reson8",
		Subsystem: "gateway",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by rate limiting",
	}, []string{"scope"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
