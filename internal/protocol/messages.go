// Package protocol defines the WebSocket message types exchanged between the
// client and the pairing engine. All messages are JSON objects carrying a
// "type" discriminator. Client messages are decoded strictly: unknown types,
// unknown fields and mistyped fields are rejected.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/whisper/roulette/internal/errors"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister     = "register"
	TypeFindPartner  = "find_partner"
	TypeSendMessage  = "send_message"
	TypeSubmitReport = "submit_report"
	TypeBlockUser    = "block_user"
	TypeLeaveSession = "leave_session"
	TypeSignal       = "signal"
	TypeHeartbeat    = "heartbeat"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeRegistrationResult = "registration_result"
	TypeWaitingStatus      = "waiting_status"
	TypePartnerFound       = "partner_found"
	TypePartnerLeft        = "partner_left"
	TypeMessageReceived    = "message_received"
	TypeSignalForwarded    = "signal_forwarded"
	TypeReportAcknowledged = "report_acknowledged"
	TypeUserBlocked        = "user_blocked"
	TypeRateLimited        = "rate_limited"
	TypeStatsSnapshot      = "stats_snapshot"
	TypeError              = "error"
	TypePong               = "pong"
)

// Signal kinds relayed between partners.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// ValidSignalKind reports whether kind is one of the relayed signal kinds.
func ValidSignalKind(kind string) bool {
	switch kind {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the payload can be decoded later into the concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server messages
// ---------------------------------------------------------------------------

// ClientMessage is implemented by every decoded client message.
type ClientMessage interface {
	MessageType() string
}

// RegisterMsg registers the connection with a public profile.
type RegisterMsg struct {
	Type      string   `json:"type"`
	Country   string   `json:"country"`
	Interests []string `json:"interests"`
}

// FindPartnerMsg enters the waiting pool, leaving any current session first.
type FindPartnerMsg struct {
	Type            string `json:"type"`
	SameCountryOnly bool   `json:"same_country_only"`
	InterestOnly    bool   `json:"interest_only"`
}

// SendMessageMsg is a chat line for the current partner.
type SendMessageMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SubmitReportMsg reports the current partner.
type SubmitReportMsg struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

type BlockUserMsg struct {
	Type string `json:"type"`
}

type LeaveSessionMsg struct {
	Type string `json:"type"`
}

// SignalMsg carries an opaque WebRTC negotiation payload for the partner.
type SignalMsg struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type HeartbeatMsg struct {
	Type string `json:"type"`
}

// PingMsg is a transport keepalive answered with pong.
type PingMsg struct {
	Type string `json:"type"`
}

func (RegisterMsg) MessageType() string     { return TypeRegister }
func (FindPartnerMsg) MessageType() string  { return TypeFindPartner }
func (SendMessageMsg) MessageType() string  { return TypeSendMessage }
func (SubmitReportMsg) MessageType() string { return TypeSubmitReport }
func (BlockUserMsg) MessageType() string    { return TypeBlockUser }
func (LeaveSessionMsg) MessageType() string { return TypeLeaveSession }
func (SignalMsg) MessageType() string       { return TypeSignal }
func (HeartbeatMsg) MessageType() string    { return TypeHeartbeat }
func (PingMsg) MessageType() string         { return TypePing }

// ---------------------------------------------------------------------------
// Server -> Client messages
// ---------------------------------------------------------------------------

// ServerMessage is implemented by every outbound message. The type field is
// injected at encode time.
type ServerMessage interface {
	MessageType() string
}

// PartnerInfo is the public view of the other session member.
type PartnerInfo struct {
	ID        string   `json:"id"`
	Country   string   `json:"country"`
	Interests []string `json:"interests"`
}

type RegistrationResultMsg struct {
	OK            bool     `json:"ok"`
	ParticipantID string   `json:"participant_id,omitempty"`
	Country       string   `json:"country,omitempty"`
	Interests     []string `json:"interests,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// WaitingStatusMsg tells a searching participant where it stands.
type WaitingStatusMsg struct {
	QueueLength     int   `json:"queue_length"`
	Position        int   `json:"position"`
	EstimatedWaitMs int64 `json:"estimated_wait_ms"`
}

type PartnerFoundMsg struct {
	SessionID       string      `json:"session_id"`
	Partner         PartnerInfo `json:"partner"`
	SharedInterests []string    `json:"shared_interests"`
}

// PartnerLeftMsg is sent to the surviving member when a session ends.
type PartnerLeftMsg struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type MessageReceivedMsg struct {
	Text      string `json:"text"`
	SenderID  string `json:"sender_id"`
	Timestamp int64  `json:"timestamp"`
}

type SignalForwardedMsg struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"sender_id"`
}

type ReportAcknowledgedMsg struct {
	ReportID string `json:"report_id"`
}

type UserBlockedMsg struct {
	SessionID string `json:"session_id"`
}

// RateLimitedMsg is sent instead of an error when a quota drops an action.
type RateLimitedMsg struct {
	RetryAfterMs int64  `json:"retry_after_ms"`
	Action       string `json:"action"`
}

// StatsSnapshotMsg wraps the periodic stats broadcast. Stats is marshalled
// as-is.
type StatsSnapshotMsg struct {
	Stats any `json:"stats"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct{}

func (RegistrationResultMsg) MessageType() string { return TypeRegistrationResult }
func (WaitingStatusMsg) MessageType() string      { return TypeWaitingStatus }
func (PartnerFoundMsg) MessageType() string       { return TypePartnerFound }
func (PartnerLeftMsg) MessageType() string        { return TypePartnerLeft }
func (MessageReceivedMsg) MessageType() string    { return TypeMessageReceived }
func (SignalForwardedMsg) MessageType() string    { return TypeSignalForwarded }
func (ReportAcknowledgedMsg) MessageType() string { return TypeReportAcknowledged }
func (UserBlockedMsg) MessageType() string        { return TypeUserBlocked }
func (RateLimitedMsg) MessageType() string        { return TypeRateLimited }
func (StatsSnapshotMsg) MessageType() string      { return TypeStatsSnapshot }
func (ErrorMsg) MessageType() string              { return TypeError }
func (PongMsg) MessageType() string               { return TypePong }

// ErrorFrom converts err into an error message, keeping the AppError code
// when there is one.
func ErrorFrom(err error) ErrorMsg {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return ErrorMsg{Code: string(appErr.Code), Message: appErr.Message}
	}
	return ErrorMsg{Code: string(apperrors.ErrCodeInternal), Message: "Internal error"}
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Every failure is a VALIDATION_ERROR; the returned type string is set
// whenever the envelope itself could be read.
func ParseClientMessage(data []byte) (string, ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, apperrors.Wrap(apperrors.ErrCodeValidation, "Malformed message", err)
	}

	var (
		msg ClientMessage
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeFindPartner:
		var m FindPartnerMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeSubmitReport:
		var m SubmitReportMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeBlockUser:
		var m BlockUserMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeLeaveSession:
		var m LeaveSessionMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypeSignal:
		var m SignalMsg
		err = decodeStrict(env.Raw, &m)
		if err == nil && !ValidSignalKind(m.Kind) {
			err = fmt.Errorf("unknown signal kind %q", m.Kind)
		}
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = decodeStrict(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, apperrors.ValidationError(fmt.Sprintf("Unknown message type %q", env.Type))
	}

	if err != nil {
		return env.Type, nil, apperrors.Wrap(apperrors.ErrCodeValidation,
			fmt.Sprintf("Invalid %s payload", env.Type), err)
	}
	return env.Type, msg, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after message")
	}
	return nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	t, _ := json.Marshal(msgType)
	m["type"] = t

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// Encode serializes a server message with its type discriminator.
func Encode(msg ServerMessage) ([]byte, error) {
	return NewServerMessage(msg.MessageType(), msg)
}
