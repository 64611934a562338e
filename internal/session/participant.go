package session

import (
	"slices"
	"strings"
	"time"

	"github.com/whisper/roulette/internal/moderation"
)

// Status constants for the participant state machine.
const (
	StatusIdle     = "idle"
	StatusMatching = "matching"
	StatusChatting = "chatting"
)

// CountryOther is assigned when the supplied country is unknown.
const CountryOther = "OTHER"

// MaxInterestLength caps a single interest tag in runes.
const MaxInterestLength = 30

var knownCountries = map[string]struct{}{
	"SA": {}, "EG": {}, "AE": {}, "JO": {}, "LB": {}, "KW": {}, "QA": {}, "BH": {}, "OM": {},
	"YE": {}, "IQ": {}, "SY": {}, "MA": {}, "TN": {}, "DZ": {}, "LY": {}, "SD": {},
	CountryOther: {},
}

// Profile is what a participant supplies at registration.
type Profile struct {
	Country   string
	Interests []string
}

// Preferences narrow the candidates findPartner will accept.
type Preferences struct {
	SameCountryOnly bool `json:"same_country_only"`
	InterestOnly    bool `json:"interest_only"`
}

// Participant is a registered, live connection.
type Participant struct {
	ID           string
	Address      string
	Country      string
	Interests    []string
	ConnectedAt  time.Time
	LastActivity time.Time

	SessionID   string
	PartnerID   string
	Waiting     bool
	WaitingFrom time.Time
	Prefs       Preferences

	ReportCount int
	Blocked     bool
}

// PublicInfo is the subset of a participant shown to its partner.
type PublicInfo struct {
	ID        string   `json:"id"`
	Country   string   `json:"country"`
	Interests []string `json:"interests"`
}

func (p *Participant) Status() string {
	switch {
	case p.SessionID != "":
		return StatusChatting
	case p.Waiting:
		return StatusMatching
	default:
		return StatusIdle
	}
}

func (p *Participant) InSession() bool {
	return p.SessionID != ""
}

func (p *Participant) PublicInfo() PublicInfo {
	return PublicInfo{
		ID:        p.ID,
		Country:   p.Country,
		Interests: slices.Clone(p.Interests),
	}
}

// Pair points a and b at each other inside sessionID and clears waiting.
func Pair(a, b *Participant, sessionID string) {
	a.SessionID, a.PartnerID = sessionID, b.ID
	b.SessionID, b.PartnerID = sessionID, a.ID
	a.Waiting, b.Waiting = false, false
}

// Unpair clears the session pointers of p.
func (p *Participant) Unpair() {
	p.SessionID = ""
	p.PartnerID = ""
}

// NormalizeCountry maps free-form input onto the known country codes,
// defaulting to OTHER. extra widens the accepted set.
func NormalizeCountry(raw string, extra map[string]struct{}) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := knownCountries[c]; ok {
		return c
	}
	if _, ok := extra[c]; ok {
		return c
	}
	return CountryOther
}

// NormalizeInterests sanitizes, lower-cases, dedupes and caps interests.
// A non-nil filter drops tags it would block.
func NormalizeInterests(raw []string, max int, filter *moderation.Filter) []string {
	out := make([]string, 0, min(len(raw), max))
	seen := make(map[string]struct{}, len(raw))
	for _, in := range raw {
		if len(out) >= max {
			break
		}
		tag := strings.ToLower(moderation.Truncate(moderation.Sanitize(in), MaxInterestLength))
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		if filter != nil && filter.Check(tag).Blocked {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
