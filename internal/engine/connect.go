package engine

import (
	"github.com/whisper/roulette/internal/chat"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/session"
)

// Connect records an accepted transport connection. Blacklisted addresses
// are refused before any state is created.
func (e *Engine) Connect(id, address string) error {
	now := e.clock()
	if e.blacklist.IsBlacklisted(address, now) {
		e.logger.Debug().Str("conn", id).Msg("connect refused: blacklisted")
		return apperrors.Blacklisted()
	}
	if _, ok := e.pending[id]; ok {
		return apperrors.DuplicateRegistration()
	}
	if _, ok := e.registry.Lookup(id); ok {
		return apperrors.DuplicateRegistration()
	}
	e.pending[id] = &pendingConn{address: address, connectedAt: now, lastSeen: now}
	e.totals.connections++
	return nil
}

// Register turns a pending connection into a participant.
func (e *Engine) Register(id string, profile session.Profile) (*session.Participant, error) {
	now := e.clock()
	if _, ok := e.registry.Lookup(id); ok {
		return nil, apperrors.DuplicateRegistration()
	}
	pc, ok := e.pending[id]
	if !ok {
		return nil, apperrors.NotRegistered()
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return nil, err
	}
	if e.blacklist.IsBlacklisted(pc.address, now) {
		return nil, apperrors.Blacklisted()
	}

	p, err := e.registry.Register(id, profile, pc.address, now)
	if err != nil {
		return nil, err
	}
	delete(e.pending, id)

	e.notifier.Send(id, protocol.RegistrationResultMsg{
		OK:            true,
		ParticipantID: p.ID,
		Country:       p.Country,
		Interests:     p.Interests,
	})
	e.effects.connected(p.Address, p.Country)
	metrics.Participants.Set(float64(e.registry.Len()))

	e.logger.Info().Str("participant", id).Str("country", p.Country).
		Strs("interests", p.Interests).Msg("registered")
	return p, nil
}

// Disconnect destroys everything id owns: its queue entry, its session and
// its quota buckets. Calling it again is a no-op.
func (e *Engine) Disconnect(id string) bool {
	if _, ok := e.pending[id]; ok {
		delete(e.pending, id)
		e.quotas.Forget(id)
		return true
	}

	p, ok := e.registry.Unregister(id)
	if !ok {
		return false
	}
	e.queue.Dequeue(id)
	e.quotas.Forget(id)

	if p.SessionID != "" {
		if s, ok := e.teardown(p.SessionID, chat.ReasonPartnerLeft); ok {
			e.notifyPartnerLeft(s, s.Partner(id), chat.ReasonPartnerLeft)
		}
	}

	metrics.Participants.Set(float64(e.registry.Len()))
	metrics.QueueLength.Set(float64(e.queue.Len()))
	e.logger.Info().Str("participant", id).
		Dur("connected_for", e.clock().Sub(p.ConnectedAt)).Msg("disconnected")
	return true
}

// Heartbeat only refreshes activity.
func (e *Engine) Heartbeat(id string) error {
	now := e.clock()
	if e.registry.Touch(id, now) {
		return nil
	}
	if pc, ok := e.pending[id]; ok {
		pc.lastSeen = now
		return nil
	}
	return apperrors.NotRegistered()
}

// active resolves id to a participant allowed to act.
func (e *Engine) active(id string) (*session.Participant, error) {
	p, ok := e.registry.Lookup(id)
	if !ok {
		return nil, apperrors.NotRegistered()
	}
	if p.Blocked || e.blacklist.IsBlacklisted(p.Address, e.clock()) {
		return nil, apperrors.Blacklisted()
	}
	return p, nil
}

// charge spends one action of the given kind from id's quotas.
func (e *Engine) charge(id, action string) error {
	ok, wait := e.quotas.Allow(id, action, e.clock())
	if ok {
		return nil
	}
	metrics.RateLimited.WithLabelValues(action).Inc()
	return apperrors.RateLimited(action, wait)
}

// reject surfaces err to id. Blacklisted connections are closed.
func (e *Engine) reject(id string, err error) {
	code := apperrors.GetCode(err)
	metrics.Rejections.WithLabelValues(string(code)).Inc()
	e.logger.Debug().Str("conn", id).Err(err).Msg("rejected")

	switch code {
	case apperrors.ErrCodeRateLimited:
		appErr, _ := apperrors.AsAppError(err)
		details, _ := appErr.Details.(apperrors.RateLimitDetails)
		e.notifier.Send(id, protocol.RateLimitedMsg{
			RetryAfterMs: details.RetryAfterMs,
			Action:       details.Action,
		})
	case apperrors.ErrCodeBlacklisted:
		e.notifier.Send(id, protocol.ErrorFrom(err))
		e.notifier.Close(id)
		e.Disconnect(id)
	default:
		e.notifier.Send(id, protocol.ErrorFrom(err))
	}
}
