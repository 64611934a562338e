package ban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEscalationDuration(t *testing.T) {
	tests := []struct {
		offenses int
		want     time.Duration
	}{
		{0, Ban15Min},
		{1, Ban15Min},
		{2, Ban1Hour},
		{3, Ban24Hour},
		{10, Ban24Hour},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, escalationDuration(tc.offenses), "offenses=%d", tc.offenses)
	}
}

func TestBlacklist_Permanent(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModePermanent})

	e := bl.Add("1.2.3.4", "multiple_reports", t0)
	assert.True(t, e.Permanent())
	assert.True(t, bl.IsBlacklisted("1.2.3.4", t0.Add(365*24*time.Hour)))
	assert.False(t, bl.IsBlacklisted("5.6.7.8", t0))
	assert.Zero(t, bl.Prune(t0.Add(48*time.Hour)))
}

func TestBlacklist_Fixed(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModeFixed, Duration: time.Hour})

	bl.Add("1.2.3.4", "r", t0)
	assert.True(t, bl.IsBlacklisted("1.2.3.4", t0.Add(59*time.Minute)))
	assert.False(t, bl.IsBlacklisted("1.2.3.4", t0.Add(time.Hour)))

	assert.Equal(t, 1, bl.Prune(t0.Add(2*time.Hour)))
	_, ok := bl.Lookup("1.2.3.4")
	assert.False(t, ok)
}

func TestBlacklist_Escalating(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModeEscalating})

	e1 := bl.Add("1.2.3.4", "r", t0)
	assert.Equal(t, 1, e1.Offenses)
	assert.Equal(t, t0.Add(Ban15Min), e1.Until)

	now := t0.Add(20 * time.Minute)
	require.False(t, bl.IsBlacklisted("1.2.3.4", now))
	e2 := bl.Add("1.2.3.4", "r", now)
	assert.Equal(t, 2, e2.Offenses)
	assert.Equal(t, now.Add(Ban1Hour), e2.Until)

	now = now.Add(2 * time.Hour)
	e3 := bl.Add("1.2.3.4", "r", now)
	assert.Equal(t, now.Add(Ban24Hour), e3.Until)
}

func TestBlacklist_OffensesResetAfterWindow(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModeEscalating})

	bl.Add("1.2.3.4", "r", t0)
	later := t0.Add(OffenseWindow + time.Hour)
	e := bl.Add("1.2.3.4", "r", later)
	assert.Equal(t, 1, e.Offenses)
}

func TestBlacklist_RemoveAndEntries(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModePermanent})
	bl.Add("a", "r", t0)
	bl.Add("b", "r", t0.Add(time.Second))

	entries := bl.Entries(t0.Add(time.Minute))
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Address)

	assert.True(t, bl.Remove("a"))
	assert.False(t, bl.Remove("a"))
	assert.Equal(t, 1, bl.Len(t0))
}

func TestBlacklist_RestoreSkipsExpired(t *testing.T) {
	bl := NewBlacklist(Policy{Mode: ModeEscalating})
	n := bl.Restore([]Entry{
		{Address: "live", Offenses: 2, BannedAt: t0, Until: t0.Add(time.Hour)},
		{Address: "gone", Offenses: 1, BannedAt: t0, Until: t0.Add(time.Minute)},
		{Address: "", Offenses: 1},
	}, t0.Add(10*time.Minute))

	assert.Equal(t, 1, n)
	assert.True(t, bl.IsBlacklisted("live", t0.Add(10*time.Minute)))

	e := bl.Add("live", "r", t0.Add(2*time.Hour))
	assert.Equal(t, 3, e.Offenses)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("10.0.0.1")
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("10.0.0.1"))
	assert.NotEqual(t, a, Fingerprint("10.0.0.2"))
}
