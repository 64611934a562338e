// Package chat owns paired sessions: their lifecycle, liveness counters,
// recent transcript and the bounded archive used for statistics.
package chat

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Teardown reasons delivered to the surviving participant.
const (
	ReasonPartnerLeft = "partner-left"
	ReasonBlocked     = "blocked"
	ReasonTimeout     = "timeout"
)

// Activity kinds recorded against a session.
const (
	ActivityMessage = "message"
	ActivitySignal  = "signal"
)

// Member is the per-side data a session needs at creation.
type Member struct {
	ID        string
	Country   string
	Address   string
	Interests []string
}

// Session is the paired context between exactly two participants.
type Session struct {
	ID              string
	A               Member
	B               Member
	CreatedAt       time.Time
	LastActivity    time.Time
	ClosedAt        time.Time
	MessageCount    int
	SignalCount     int
	Media           bool
	SharedInterests []string
	Tags            []string
	Status          string
	Reason          string
}

// Partner returns the other member's id, or "" if id is not a member.
func (s *Session) Partner(id string) string {
	switch id {
	case s.A.ID:
		return s.B.ID
	case s.B.ID:
		return s.A.ID
	}
	return ""
}

func (s *Session) IsMember(id string) bool {
	return id == s.A.ID || id == s.B.ID
}

func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// CountryPair is the sorted "CC-CC" label of the two members.
func (s *Session) CountryPair() string {
	return countryPair(s.A.Country, s.B.Country)
}

func countryPair(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// NewSessionID returns a sortable, collision-resistant id whose prefix
// encodes now in milliseconds.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("room_%s", ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()))
}

func computeTags(a, b Member, shared []string) []string {
	tags := []string{countryPair(a.Country, b.Country)}
	if a.Country == b.Country {
		tags = append(tags, "same-country")
	}
	for _, in := range shared {
		tags = append(tags, "interest:"+in)
	}
	sort.Strings(tags[1:])
	return tags
}
