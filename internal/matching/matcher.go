package matching

import "github.com/whisper/roulette/internal/session"

// Country policies, mirrored from config.
const (
	CountryOptional  = "optional"
	CountryRequired  = "required"
	CountryForbidden = "forbidden"
)

// MatchCandidate is a pair chosen by FindMatch.
type MatchCandidate struct {
	A               string
	B               string
	SharedInterests []string
}

// Lookup resolves a queued id to its participant.
type Lookup func(id string) (*session.Participant, bool)

// Criteria are the policy knobs applied on top of each side's preferences.
type Criteria struct {
	CountryPolicy string
	// Excluded reports pairs that must not meet, such as recent blocks.
	Excluded func(a, b string) bool
	// Blacklisted reports addresses refused outright.
	Blacklisted func(address string) bool
}

// FindMatch scans the queue oldest first and returns the first acceptable
// partner for requester. It is first-fit, not best-fit, and costs O(n) in
// the queue length.
func FindMatch(q *Queue, requester *session.Participant, lookup Lookup, c Criteria) *MatchCandidate {
	for _, id := range q.IDs() {
		cand, ok := lookup(id)
		if !ok || !Compatible(requester, cand, c) {
			continue
		}
		return &MatchCandidate{
			A:               requester.ID,
			B:               cand.ID,
			SharedInterests: SharedInterests(requester.Interests, cand.Interests),
		}
	}
	return nil
}

// Compatible checks every exclusion predicate between requester and cand.
func Compatible(requester, cand *session.Participant, c Criteria) bool {
	switch {
	case cand.ID == requester.ID:
		return false
	case cand.InSession():
		return false
	case cand.Blocked || requester.Blocked:
		return false
	case cand.Address == requester.Address:
		return false
	case c.Blacklisted != nil && (c.Blacklisted(cand.Address) || c.Blacklisted(requester.Address)):
		return false
	}

	sameCountry := cand.Country == requester.Country
	switch c.CountryPolicy {
	case CountryRequired:
		if !sameCountry {
			return false
		}
	case CountryForbidden:
		if sameCountry {
			return false
		}
	default:
		if (requester.Prefs.SameCountryOnly || cand.Prefs.SameCountryOnly) && !sameCountry {
			return false
		}
	}

	if requester.Prefs.InterestOnly || cand.Prefs.InterestOnly {
		if !hasOverlap(requester.Interests, cand.Interests) {
			return false
		}
	}

	if c.Excluded != nil && c.Excluded(requester.ID, cand.ID) {
		return false
	}
	return true
}
