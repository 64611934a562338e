// Package metrics provides Prometheus instrumentation for the roulette
// service. It exposes gauges for population sizes, counters for relayed
// traffic and moderation actions, and histograms for wait and session times.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roulette"

var (
	// Connections tracks the current number of open WebSocket connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Current number of open WebSocket connections",
	})

	// Participants tracks registered participants.
	Participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "participants",
		Help:      "Current number of registered participants",
	})

	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Current number of participants waiting for a partner",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Current number of active sessions",
	})

	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Total number of sessions created",
	})

	// MatchWait records the time a participant spent queued before pairing.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_wait_seconds",
		Help:      "Time from entering the queue to being paired",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_relayed_total",
		Help:      "Total number of chat messages delivered to a partner",
	})

	MessageBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "message_bytes_total",
		Help:      "Total bytes of chat text delivered",
	})

	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_relayed_total",
		Help:      "Total number of signaling messages relayed",
	}, []string{"kind"})

	// Rejections counts dropped inbound actions by error code.
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejections_total",
		Help:      "Inbound actions rejected, by error code",
	}, []string{"code"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Actions dropped by a quota, by action",
	}, []string{"action"}) // action = "general", "chat", "connect"

	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Abuse reports filed, by reason",
	}, []string{"reason"})

	BlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_total",
		Help:      "Sessions ended by a block action",
	})

	BlacklistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blacklisted_total",
		Help:      "Addresses added to the blacklist",
	})

	// ReaperRemovals counts what each sweep reclaimed.
	ReaperRemovals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_removals_total",
		Help:      "State reclaimed by the reaper, by kind",
	}, []string{"kind"}) // kind = "participant", "pending", "session", "queue", "blacklist", "block", "quota"

	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Lifetime of closed sessions",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Closed sessions, by reason",
	}, []string{"reason"})

	// EffectFailures counts failed side effects by target.
	EffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "effect_failures_total",
		Help:      "Failed asynchronous side effects, by effect",
	}, []string{"effect"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Participants,
		QueueLength,
		ActiveSessions,
		MatchesTotal,
		MatchWait,
		MessagesRelayed,
		MessageBytes,
		SignalsRelayed,
		Rejections,
		RateLimited,
		ReportsTotal,
		BlocksTotal,
		BlacklistedTotal,
		ReaperRemovals,
		SessionDuration,
		SessionsClosed,
		EffectFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
