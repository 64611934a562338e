package engine

import (
	"encoding/json"

	"github.com/whisper/roulette/internal/chat"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/session"
)

// SendMessage relays a chat line to the sender's partner and nobody else.
func (e *Engine) SendMessage(id, text string) error {
	p, err := e.active(id)
	if err != nil {
		return err
	}
	if !p.InSession() {
		return apperrors.NotInSession()
	}
	if err := e.charge(id, ratelimit.ActionChat); err != nil {
		return err
	}

	clean, err := chat.ValidateText(text, e.policy.MaxMessageChars)
	if err != nil {
		return err
	}
	if e.policy.ChatFilter {
		if res := e.filter.Check(clean); res.Blocked {
			return apperrors.ContentBlocked(res.Reason)
		}
	}

	s, partner, err := e.partnerOf(p)
	if err != nil {
		return err
	}

	now := e.clock()
	ts := now.UnixMilli()
	e.sessions.RecordActivity(s.ID, chat.ActivityMessage, now)
	e.sessions.AddLine(s.ID, chat.Line{From: id, Text: clean, Ts: ts})
	e.registry.Touch(id, now)
	e.totals.messages++
	metrics.MessagesRelayed.Inc()
	metrics.MessageBytes.Add(float64(len(clean)))

	e.notifier.Send(partner.ID, protocol.MessageReceivedMsg{
		Text:      clean,
		SenderID:  id,
		Timestamp: ts,
	})
	return nil
}

// Signal forwards an opaque WebRTC negotiation payload to the partner.
func (e *Engine) Signal(id, kind string, payload json.RawMessage) error {
	p, err := e.active(id)
	if err != nil {
		return err
	}
	if !protocol.ValidSignalKind(kind) {
		return apperrors.InvalidInput("kind", "unknown signal kind")
	}
	if !p.InSession() {
		return apperrors.NotInSession()
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return err
	}

	s, partner, err := e.partnerOf(p)
	if err != nil {
		return err
	}

	now := e.clock()
	e.sessions.RecordActivity(s.ID, chat.ActivitySignal, now)
	e.registry.Touch(id, now)
	e.totals.signals++
	metrics.SignalsRelayed.WithLabelValues(kind).Inc()

	e.notifier.Send(partner.ID, protocol.SignalForwardedMsg{
		Kind:     kind,
		Payload:  payload,
		SenderID: id,
	})
	return nil
}

// partnerOf resolves p's session and partner. A session whose other member
// has vanished is torn down and reported as NOT_IN_SESSION.
func (e *Engine) partnerOf(p *session.Participant) (*chat.Session, *session.Participant, error) {
	s, ok := e.sessions.Get(p.SessionID)
	if !ok || !s.IsMember(p.ID) {
		e.logger.Warn().Str("participant", p.ID).Str("session", p.SessionID).
			Msg("inconsistency: participant referenced a missing session")
		p.Unpair()
		return nil, nil, apperrors.NotInSession()
	}

	partner, ok := e.registry.Lookup(s.Partner(p.ID))
	if !ok || partner.SessionID != s.ID {
		e.logger.Warn().Str("participant", p.ID).Str("session", s.ID).
			Msg("inconsistency: partner vanished, tearing session down")
		e.teardown(s.ID, chat.ReasonPartnerLeft)
		p.Unpair()
		return nil, nil, apperrors.NotInSession()
	}
	return s, partner, nil
}
