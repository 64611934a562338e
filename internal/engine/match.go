package engine

import (
	"time"

	"github.com/whisper/roulette/internal/chat"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/matching"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/session"
)

const (
	waitAlpha       = 0.2
	defaultWaitMs   = 5000.0
	maxWaitSampleMs = float64(10 * time.Minute / time.Millisecond)
)

// FindPartner pairs id with the first compatible waiting participant, or
// queues it. Calling it from inside a session leaves that session first;
// calling it while already queued moves id to the tail.
func (e *Engine) FindPartner(id string, prefs session.Preferences) error {
	p, err := e.active(id)
	if err != nil {
		return err
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return err
	}
	now := e.clock()
	e.registry.Touch(id, now)

	if p.InSession() {
		e.leave(p, chat.ReasonPartnerLeft)
	}
	e.queue.Dequeue(id)
	p.Waiting = false
	p.Prefs = prefs

	cand := matching.FindMatch(e.queue, p, e.registry.Lookup, e.criteria())
	if cand != nil {
		partner, _ := e.registry.Lookup(cand.B)
		if err := e.pair(p, partner, now); err == nil {
			return nil
		}
	}

	e.queue.Enqueue(id, now)
	p.Waiting = true
	p.WaitingFrom = now
	metrics.QueueLength.Set(float64(e.queue.Len()))
	e.notifier.Send(id, e.waitingStatus(id))
	return nil
}

// LeaveSession ends the current session, or cancels a pending search.
func (e *Engine) LeaveSession(id string) error {
	p, err := e.active(id)
	if err != nil {
		return err
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return err
	}
	e.registry.Touch(id, e.clock())

	switch {
	case p.InSession():
		e.leave(p, chat.ReasonPartnerLeft)
	case p.Waiting || e.queue.Contains(id):
		e.queue.Dequeue(id)
		p.Waiting = false
		metrics.QueueLength.Set(float64(e.queue.Len()))
	default:
		return apperrors.NotInSession()
	}
	return nil
}

// leave tears down p's session and tells the other member why.
func (e *Engine) leave(p *session.Participant, reason string) {
	if s, ok := e.teardown(p.SessionID, reason); ok {
		e.notifyPartnerLeft(s, s.Partner(p.ID), reason)
		return
	}
	// Pointer without a session behind it.
	e.logger.Warn().Str("participant", p.ID).Str("session", p.SessionID).
		Msg("inconsistency: participant referenced a missing session")
	p.Unpair()
}

func (e *Engine) pair(a, b *session.Participant, now time.Time) error {
	e.queue.DequeuePair(a.ID, b.ID)

	s, err := e.sessions.Create(member(a), member(b), now)
	if err != nil {
		e.logger.Warn().Err(err).Str("a", a.ID).Str("b", b.ID).Msg("inconsistency: session create failed")
		if b.Waiting {
			e.queue.Enqueue(b.ID, now)
		}
		return apperrors.Inconsistency(err.Error())
	}
	if b.Waiting {
		e.observeWait(now.Sub(b.WaitingFrom))
	}
	session.Pair(a, b, s.ID)

	e.notifier.Send(a.ID, protocol.PartnerFoundMsg{
		SessionID:       s.ID,
		Partner:         partnerInfo(b),
		SharedInterests: s.SharedInterests,
	})
	e.notifier.Send(b.ID, protocol.PartnerFoundMsg{
		SessionID:       s.ID,
		Partner:         partnerInfo(a),
		SharedInterests: s.SharedInterests,
	})

	metrics.MatchesTotal.Inc()
	metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	metrics.QueueLength.Set(float64(e.queue.Len()))
	e.logger.Info().Str("session", s.ID).Str("a", a.ID).Str("b", b.ID).
		Strs("tags", s.Tags).Msg("paired")
	return nil
}

// teardown closes sid and clears the pointers of whichever members are still
// registered. Notifications are left to the caller.
func (e *Engine) teardown(sid, reason string) (*chat.Session, bool) {
	now := e.clock()
	s, ok := e.sessions.Teardown(sid, reason, now)
	if !ok {
		return nil, false
	}
	for _, m := range []chat.Member{s.A, s.B} {
		if p, ok := e.registry.Lookup(m.ID); ok && p.SessionID == sid {
			p.Unpair()
		}
	}

	metrics.SessionDuration.Observe(now.Sub(s.CreatedAt).Seconds())
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	e.effects.sessionClosed([]string{s.A.Address, s.B.Address}, s.MessageCount)

	e.logger.Info().Str("session", s.ID).Str("reason", reason).
		Int("messages", s.MessageCount).Bool("media", s.Media).
		Dur("duration", now.Sub(s.CreatedAt)).Msg("session closed")
	return s, true
}

func (e *Engine) notifyPartnerLeft(s *chat.Session, id, reason string) {
	if id == "" {
		return
	}
	if _, ok := e.registry.Lookup(id); !ok {
		return
	}
	e.notifier.Send(id, protocol.PartnerLeftMsg{SessionID: s.ID, Reason: reason})
}

func (e *Engine) observeWait(d time.Duration) {
	ms := min(float64(d/time.Millisecond), maxWaitSampleMs)
	if e.waitSamples == 0 {
		e.waitEWMA = ms
	} else {
		e.waitEWMA = waitAlpha*ms + (1-waitAlpha)*e.waitEWMA
	}
	e.waitSamples++
	metrics.MatchWait.Observe(d.Seconds())
}

// estimatedWait is the queue position times the smoothed observed wait.
func (e *Engine) estimatedWait(position int) time.Duration {
	avg := defaultWaitMs
	if e.waitSamples > 0 {
		avg = e.waitEWMA
	}
	return time.Duration(float64(position)*avg) * time.Millisecond
}

func (e *Engine) waitingStatus(id string) protocol.WaitingStatusMsg {
	pos := e.queue.Position(id)
	return protocol.WaitingStatusMsg{
		QueueLength:     e.queue.Len(),
		Position:        pos,
		EstimatedWaitMs: e.estimatedWait(pos).Milliseconds(),
	}
}

func member(p *session.Participant) chat.Member {
	return chat.Member{
		ID:        p.ID,
		Country:   p.Country,
		Address:   p.Address,
		Interests: p.Interests,
	}
}

func partnerInfo(p *session.Participant) protocol.PartnerInfo {
	info := p.PublicInfo()
	return protocol.PartnerInfo{ID: info.ID, Country: info.Country, Interests: info.Interests}
}
