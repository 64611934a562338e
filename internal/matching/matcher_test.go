package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roulette/internal/session"
)

type pool map[string]*session.Participant

func (p pool) lookup(id string) (*session.Participant, bool) {
	v, ok := p[id]
	return v, ok
}

func participant(id, addr, country string, interests ...string) *session.Participant {
	return &session.Participant{ID: id, Address: addr, Country: country, Interests: interests, Waiting: true}
}

func queueOf(ps ...*session.Participant) (*Queue, pool) {
	q := NewQueue()
	p := pool{}
	for _, x := range ps {
		q.Enqueue(x.ID, t0)
		p[x.ID] = x
	}
	return q, p
}

func TestFindMatch_FirstFit(t *testing.T) {
	req := participant("req", "A0", "SA", "music")
	older := participant("old", "A1", "EG")
	better := participant("better", "A2", "SA", "music")
	q, p := queueOf(older, better)

	m := FindMatch(q, req, p.lookup, Criteria{})
	require.NotNil(t, m)
	assert.Equal(t, "req", m.A)
	assert.Equal(t, "old", m.B, "oldest acceptable candidate wins even with a better one behind it")
	assert.Empty(t, m.SharedInterests)
}

func TestFindMatch_Exclusions(t *testing.T) {
	tests := []struct {
		name   string
		cand   *session.Participant
		req    *session.Participant
		crit   Criteria
		expect bool
	}{
		{"same address", participant("c", "A0", "SA"), participant("r", "A0", "EG"), Criteria{}, false},
		{"blocked candidate", func() *session.Participant {
			c := participant("c", "A1", "SA")
			c.Blocked = true
			return c
		}(), participant("r", "A0", "SA"), Criteria{}, false},
		{"candidate in session", func() *session.Participant {
			c := participant("c", "A1", "SA")
			c.SessionID = "room_x"
			return c
		}(), participant("r", "A0", "SA"), Criteria{}, false},
		{"requester wants same country", participant("c", "A1", "EG"), func() *session.Participant {
			r := participant("r", "A0", "SA")
			r.Prefs.SameCountryOnly = true
			return r
		}(), Criteria{}, false},
		{"candidate wants same country", func() *session.Participant {
			c := participant("c", "A1", "EG")
			c.Prefs.SameCountryOnly = true
			return c
		}(), participant("r", "A0", "SA"), Criteria{}, false},
		{"same country satisfied", participant("c", "A1", "SA"), func() *session.Participant {
			r := participant("r", "A0", "SA")
			r.Prefs.SameCountryOnly = true
			return r
		}(), Criteria{}, true},
		{"interest only without overlap", participant("c", "A1", "SA", "art"), func() *session.Participant {
			r := participant("r", "A0", "SA", "music")
			r.Prefs.InterestOnly = true
			return r
		}(), Criteria{}, false},
		{"interest only with overlap", participant("c", "A1", "SA", "art", "music"), func() *session.Participant {
			r := participant("r", "A0", "SA", "music")
			r.Prefs.InterestOnly = true
			return r
		}(), Criteria{}, true},
		{"policy required", participant("c", "A1", "EG"), participant("r", "A0", "SA"), Criteria{CountryPolicy: CountryRequired}, false},
		{"policy forbidden", participant("c", "A1", "SA"), participant("r", "A0", "SA"), Criteria{CountryPolicy: CountryForbidden}, false},
		{"policy forbidden cross country", participant("c", "A1", "EG"), participant("r", "A0", "SA"), Criteria{CountryPolicy: CountryForbidden}, true},
		{"excluded pair", participant("c", "A1", "SA"), participant("r", "A0", "SA"), Criteria{
			Excluded: func(a, b string) bool { return a == "r" && b == "c" },
		}, false},
		{"candidate address blacklisted", participant("c", "A1", "SA"), participant("r", "A0", "EG"), Criteria{
			Blacklisted: func(address string) bool { return address == "A1" },
		}, false},
		{"requester address blacklisted", participant("c", "A1", "SA"), participant("r", "A0", "EG"), Criteria{
			Blacklisted: func(address string) bool { return address == "A0" },
		}, false},
		{"plain different address", participant("c", "A1", "SA"), participant("r", "A0", "EG"), Criteria{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, p := queueOf(tc.cand)
			m := FindMatch(q, tc.req, p.lookup, tc.crit)
			if tc.expect {
				require.NotNil(t, m)
				assert.Equal(t, tc.cand.ID, m.B)
			} else {
				assert.Nil(t, m)
			}
		})
	}
}

func TestFindMatch_SkipsSelfAndUnknown(t *testing.T) {
	req := participant("req", "A0", "SA")
	other := participant("other", "A1", "SA")
	q, p := queueOf(req, other)
	q.Enqueue("ghost", t0)
	q.Dequeue("other")
	q.Enqueue("other", t0)

	m := FindMatch(q, req, p.lookup, Criteria{})
	require.NotNil(t, m)
	assert.Equal(t, "other", m.B)
}

func TestFindMatch_SharedAddressNeverPairsRegardlessOfOrder(t *testing.T) {
	p3 := participant("p3", "A3", "SA")
	p4 := participant("p4", "A3", "SA")
	q, p := queueOf(p3, p4)

	assert.Nil(t, FindMatch(q, p3, p.lookup, Criteria{}))
	assert.Nil(t, FindMatch(q, p4, p.lookup, Criteria{}))
}
