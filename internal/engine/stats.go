package engine

import (
	"time"

	"github.com/whisper/roulette/internal/chat"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
)

const topCountryPairs = 5

// Snapshot is a read-only view of the engine at GeneratedAt.
type Snapshot struct {
	ActiveParticipants        int                     `json:"active_participants"`
	PendingConnections        int                     `json:"pending_connections"`
	QueueLength               int                     `json:"queue_length"`
	ActiveSessions            int                     `json:"active_sessions"`
	ActiveMediaSessions       int                     `json:"active_media_sessions"`
	TotalConnections          uint64                  `json:"total_connections"`
	TotalSessions             uint64                  `json:"total_sessions"`
	TotalMessages             uint64                  `json:"total_messages"`
	TotalSignals              uint64                  `json:"total_signals"`
	TotalReports              uint64                  `json:"total_reports"`
	TotalBlocks               uint64                  `json:"total_blocks"`
	AverageSessionDurationMs  int64                   `json:"average_session_duration_ms"`
	AverageMessagesPerSession float64                 `json:"average_messages_per_session"`
	EstimatedWaitMs           int64                   `json:"estimated_wait_ms"`
	Countries                 map[string]int          `json:"countries"`
	TopCountryPairs           []chat.CountryPairCount `json:"top_country_pairs"`
	BlacklistedAddresses      int                     `json:"blacklisted_addresses"`
	UptimeSeconds             int64                   `json:"uptime_seconds"`
	GeneratedAt               time.Time               `json:"generated_at"`
}

// Stats aggregates the current state. Its cost is linear in the active
// population and the bounded archive.
func (e *Engine) Stats() Snapshot {
	now := e.clock()
	archive := e.sessions.Archive()
	return Snapshot{
		ActiveParticipants:        e.registry.Len(),
		PendingConnections:        len(e.pending),
		QueueLength:               e.queue.Len(),
		ActiveSessions:            e.sessions.Len(),
		ActiveMediaSessions:       e.sessions.MediaCount(),
		TotalConnections:          e.totals.connections,
		TotalSessions:             e.sessions.TotalCreated(),
		TotalMessages:             e.totals.messages,
		TotalSignals:              e.totals.signals,
		TotalReports:              e.totals.reports,
		TotalBlocks:               e.totals.blocks,
		AverageSessionDurationMs:  archive.AverageDuration().Milliseconds(),
		AverageMessagesPerSession: archive.AverageMessages(),
		EstimatedWaitMs:           e.estimatedWait(1).Milliseconds(),
		Countries:                 e.registry.CountryBreakdown(),
		TopCountryPairs:           archive.TopCountryPairs(topCountryPairs),
		BlacklistedAddresses:      e.blacklist.Len(now),
		UptimeSeconds:             int64(now.Sub(e.startedAt) / time.Second),
		GeneratedAt:               now,
	}
}

// BroadcastStats pushes a snapshot to every connection and publishes it to
// the stats subject.
func (e *Engine) BroadcastStats() Snapshot {
	snap := e.Stats()
	metrics.Participants.Set(float64(snap.ActiveParticipants))
	metrics.QueueLength.Set(float64(snap.QueueLength))
	metrics.ActiveSessions.Set(float64(snap.ActiveSessions))

	e.notifier.Broadcast(protocol.StatsSnapshotMsg{Stats: snap})
	e.effects.publishStats(snap)
	return snap
}
