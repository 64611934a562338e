// Package report defines abuse reports and their PostgreSQL storage. Each
// report captures who reported whom, the session it happened in and the last
// few messages exchanged, for moderator review.
package report

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/whisper/roulette/internal/errors"
)

// Report statuses. Status is the only field that changes after creation.
const (
	StatusPending   = "pending"
	StatusReviewed  = "reviewed"
	StatusDismissed = "dismissed"
)

// ReasonOther is used when the reporter gives no reason.
const ReasonOther = "other"

// validReasons matches the CHECK constraint on abuse_reports.reason.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"underage":   true,
	ReasonOther:  true,
}

var validStatuses = map[string]bool{
	StatusPending:   true,
	StatusReviewed:  true,
	StatusDismissed: true,
}

// MessageEntry is one message in the conversation snapshot attached to a report.
type MessageEntry struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// Transcript is stored as JSONB.
type Transcript []MessageEntry

func (t Transcript) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *Transcript) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("report: cannot scan %T into Transcript", src)
	}
}

// Report is an immutable abuse report.
type Report struct {
	ID                  string     `json:"id" db:"id"`
	ReporterID          string     `json:"reporter_id" db:"reporter_id"`
	ReportedID          string     `json:"reported_id" db:"reported_id"`
	ReportedFingerprint string     `json:"reported_fingerprint" db:"reported_fingerprint"`
	SessionID           string     `json:"session_id" db:"session_id"`
	Reason              string     `json:"reason" db:"reason"`
	Details             string     `json:"details" db:"details"`
	Messages            Transcript `json:"messages,omitempty" db:"messages"`
	Status              string     `json:"status" db:"status"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// NormalizeReason lower-cases reason and checks it against the allowed set.
// An empty reason becomes "other".
func NormalizeReason(reason string) (string, error) {
	r := strings.ToLower(strings.TrimSpace(reason))
	if r == "" {
		return ReasonOther, nil
	}
	if !validReasons[r] {
		return "", apperrors.InvalidInput("reason", fmt.Sprintf("unknown reason %q", reason))
	}
	return r, nil
}

// New builds a pending report. reason must already be normalized.
func New(reporterID, reportedID, reportedFingerprint, sessionID, reason, details string, messages []MessageEntry, now time.Time) Report {
	return Report{
		ID:                  "rpt_" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ReporterID:          reporterID,
		ReportedID:          reportedID,
		ReportedFingerprint: reportedFingerprint,
		SessionID:           sessionID,
		Reason:              reason,
		Details:             details,
		Messages:            Transcript(append([]MessageEntry(nil), messages...)),
		Status:              StatusPending,
		CreatedAt:           now,
	}
}

// WithStatus returns a copy of r carrying status.
func (r Report) WithStatus(status string) (Report, error) {
	if !validStatuses[status] {
		return r, apperrors.InvalidInput("status", fmt.Sprintf("unknown status %q", status))
	}
	r.Status = status
	return r, nil
}
