package engine

import (
	"github.com/whisper/roulette/internal/chat"
	"github.com/whisper/roulette/internal/matching"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
)

// SweepResult counts what one sweep reclaimed.
type SweepResult struct {
	Participants int `json:"participants"`
	Pending      int `json:"pending"`
	Sessions     int `json:"sessions"`
	Orphaned     int `json:"orphaned"`
	QueueEntries int `json:"queue_entries"`
	Blacklist    int `json:"blacklist"`
	Blocks       int `json:"blocks"`
	Quotas       int `json:"quotas"`
}

// Sweep reclaims stale state. It runs on the loop like any other event.
func (e *Engine) Sweep() SweepResult {
	now := e.clock()
	var res SweepResult

	for _, p := range e.registry.All() {
		if now.Sub(p.LastActivity) > e.policy.InactivityTimeout {
			e.logger.Info().Str("participant", p.ID).
				Dur("idle", now.Sub(p.LastActivity)).Msg("reaping inactive participant")
			e.notifier.Close(p.ID)
			e.Disconnect(p.ID)
			res.Participants++
		}
	}
	for id, pc := range e.pending {
		if now.Sub(pc.lastSeen) > e.policy.InactivityTimeout {
			e.notifier.Close(id)
			e.Disconnect(id)
			res.Pending++
		}
	}

	for _, s := range e.sessions.All() {
		if !e.sessionIntact(s) {
			e.logger.Warn().Str("session", s.ID).Msg("inconsistency: session lost a member")
			if closed, ok := e.teardown(s.ID, chat.ReasonPartnerLeft); ok {
				e.notifyPartnerLeft(closed, closed.A.ID, chat.ReasonPartnerLeft)
				e.notifyPartnerLeft(closed, closed.B.ID, chat.ReasonPartnerLeft)
			}
			res.Orphaned++
			continue
		}
		if s.IdleFor(now) > e.policy.SessionIdleTimeout || s.Age(now) > e.policy.SessionMaxDuration {
			if closed, ok := e.teardown(s.ID, chat.ReasonTimeout); ok {
				for _, id := range []string{closed.A.ID, closed.B.ID} {
					e.notifier.Send(id, protocol.PartnerLeftMsg{SessionID: closed.ID, Reason: chat.ReasonTimeout})
				}
			}
			res.Sessions++
		}
	}

	stale := matching.Prune(e.queue, func(id string) bool {
		p, ok := e.registry.Lookup(id)
		return ok && p.Waiting && !p.InSession() && !p.Blocked
	})
	for _, id := range stale {
		e.logger.Warn().Str("participant", id).Msg("inconsistency: pruned stale queue entry")
		if p, ok := e.registry.Lookup(id); ok {
			p.Waiting = false
		}
	}
	res.QueueEntries = len(stale)

	res.Blacklist = e.blacklist.Prune(now)
	for k, until := range e.blocks {
		if !now.Before(until) {
			delete(e.blocks, k)
			res.Blocks++
		}
	}
	res.Quotas = e.quotas.Prune(now, e.policy.InactivityTimeout)

	metrics.ReaperRemovals.WithLabelValues("participant").Add(float64(res.Participants))
	metrics.ReaperRemovals.WithLabelValues("pending").Add(float64(res.Pending))
	metrics.ReaperRemovals.WithLabelValues("session").Add(float64(res.Sessions + res.Orphaned))
	metrics.ReaperRemovals.WithLabelValues("queue").Add(float64(res.QueueEntries))
	metrics.ReaperRemovals.WithLabelValues("blacklist").Add(float64(res.Blacklist))
	metrics.ReaperRemovals.WithLabelValues("block").Add(float64(res.Blocks))
	metrics.ReaperRemovals.WithLabelValues("quota").Add(float64(res.Quotas))
	metrics.QueueLength.Set(float64(e.queue.Len()))

	e.logger.Info().Interface("removed", res).Msg("sweep complete")
	return res
}

// sessionIntact checks that both members exist and point at each other.
func (e *Engine) sessionIntact(s *chat.Session) bool {
	a, okA := e.registry.Lookup(s.A.ID)
	b, okB := e.registry.Lookup(s.B.ID)
	return okA && okB &&
		a.SessionID == s.ID && b.SessionID == s.ID &&
		a.PartnerID == b.ID && b.PartnerID == a.ID
}
