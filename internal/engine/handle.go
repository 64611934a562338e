package engine

import (
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/session"
)

// Handle applies one decoded client message from connection id. Failures
// are surfaced to id, never returned.
func (e *Engine) Handle(id string, msg protocol.ClientMessage) {
	var err error
	switch m := msg.(type) {
	case protocol.RegisterMsg:
		_, err = e.Register(id, session.Profile{Country: m.Country, Interests: m.Interests})
		if err != nil && !apperrors.Is(err, apperrors.ErrCodeBlacklisted) && !apperrors.Is(err, apperrors.ErrCodeRateLimited) {
			e.logger.Debug().Str("conn", id).Err(err).Msg("registration rejected")
			e.notifier.Send(id, protocol.RegistrationResultMsg{OK: false, Error: string(apperrors.GetCode(err))})
			return
		}
	case protocol.FindPartnerMsg:
		err = e.FindPartner(id, session.Preferences{
			SameCountryOnly: m.SameCountryOnly,
			InterestOnly:    m.InterestOnly,
		})
	case protocol.SendMessageMsg:
		err = e.SendMessage(id, m.Text)
	case protocol.SubmitReportMsg:
		_, err = e.SubmitReport(id, m.Reason, m.Details)
	case protocol.BlockUserMsg:
		err = e.BlockUser(id)
	case protocol.LeaveSessionMsg:
		err = e.LeaveSession(id)
	case protocol.SignalMsg:
		err = e.Signal(id, m.Kind, m.Payload)
	case protocol.HeartbeatMsg:
		err = e.Heartbeat(id)
	case protocol.PingMsg:
		_ = e.Heartbeat(id)
		e.notifier.Send(id, protocol.PongMsg{})
	default:
		err = apperrors.ValidationError("unsupported message type")
	}
	if err != nil {
		e.reject(id, err)
	}
}

// Malformed accounts for a frame from id that failed to decode. It costs a
// general token like any other action, so parse errors cannot be flooded.
func (e *Engine) Malformed(id string, parseErr error) {
	if _, ok := e.pending[id]; !ok {
		if _, ok := e.registry.Lookup(id); !ok {
			return
		}
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		e.reject(id, err)
		return
	}
	e.reject(id, parseErr)
}
