// Package ban keeps the set of source addresses refused at registration.
// Blacklist is the in-memory authority consulted on every action; Store
// mirrors entries to Redis so bans survive a restart:
//
//	Key:   ban:<fingerprint>
//	Value: JSON Entry
//	TTL:   remaining ban time (none for permanent bans)
package ban

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Modes for Policy.
const (
	ModePermanent  = "permanent"
	ModeFixed      = "fixed"
	ModeEscalating = "escalating"
)

const (
	// Escalating ban durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// OffenseWindow is how long an address's offense count is remembered
	// after its last ban.
	OffenseWindow = 24 * time.Hour
)

// Policy decides how long a ban lasts.
type Policy struct {
	Mode     string
	Duration time.Duration // used by ModeFixed
}

// Entry is one blacklisted address. A zero Until means permanent.
type Entry struct {
	Address  string    `json:"address"`
	Reason   string    `json:"reason"`
	Offenses int       `json:"offenses"`
	BannedAt time.Time `json:"banned_at"`
	Until    time.Time `json:"until,omitempty"`
}

func (e Entry) Permanent() bool {
	return e.Until.IsZero()
}

func (e Entry) Active(now time.Time) bool {
	return e.Permanent() || now.Before(e.Until)
}

// Remaining returns the time left on the ban, zero for permanent bans.
func (e Entry) Remaining(now time.Time) time.Duration {
	if e.Permanent() {
		return 0
	}
	return max(e.Until.Sub(now), 0)
}

type offense struct {
	count int
	last  time.Time
}

// Blacklist is not safe for concurrent use; the engine loop owns it.
type Blacklist struct {
	policy   Policy
	entries  map[string]Entry
	offenses map[string]offense
}

func NewBlacklist(policy Policy) *Blacklist {
	if policy.Mode == "" {
		policy.Mode = ModeEscalating
	}
	return &Blacklist{
		policy:   policy,
		entries:  make(map[string]Entry),
		offenses: make(map[string]offense),
	}
}

func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

func (b *Blacklist) duration(offenses int) time.Duration {
	switch b.policy.Mode {
	case ModeFixed:
		return b.policy.Duration
	case ModeEscalating:
		return escalationDuration(offenses)
	default:
		return 0
	}
}

// Add blacklists address and returns the resulting entry. Re-adding an
// address that is still banned extends it under the next offense level.
func (b *Blacklist) Add(address, reason string, now time.Time) Entry {
	off := b.offenses[address]
	if !off.last.IsZero() && now.Sub(off.last) > OffenseWindow {
		off.count = 0
	}
	off.count++
	off.last = now
	b.offenses[address] = off

	e := Entry{
		Address:  address,
		Reason:   reason,
		Offenses: off.count,
		BannedAt: now,
	}
	if d := b.duration(off.count); d > 0 {
		e.Until = now.Add(d)
	}
	b.entries[address] = e
	return e
}

// IsBlacklisted reports whether address is refused at now.
func (b *Blacklist) IsBlacklisted(address string, now time.Time) bool {
	e, ok := b.entries[address]
	return ok && e.Active(now)
}

func (b *Blacklist) Lookup(address string) (Entry, bool) {
	e, ok := b.entries[address]
	return e, ok
}

// Remove lifts a ban. The offense history is kept.
func (b *Blacklist) Remove(address string) bool {
	if _, ok := b.entries[address]; !ok {
		return false
	}
	delete(b.entries, address)
	return true
}

// Restore loads entries recovered from durable storage, skipping any that
// have already expired.
func (b *Blacklist) Restore(entries []Entry, now time.Time) int {
	n := 0
	for _, e := range entries {
		if e.Address == "" || !e.Active(now) {
			continue
		}
		b.entries[e.Address] = e
		if off := b.offenses[e.Address]; e.Offenses > off.count {
			b.offenses[e.Address] = offense{count: e.Offenses, last: e.BannedAt}
		}
		n++
	}
	return n
}

// Prune drops expired bans and offense counters past OffenseWindow.
func (b *Blacklist) Prune(now time.Time) int {
	n := 0
	for addr, e := range b.entries {
		if !e.Active(now) {
			delete(b.entries, addr)
			n++
		}
	}
	for addr, off := range b.offenses {
		if _, banned := b.entries[addr]; banned {
			continue
		}
		if now.Sub(off.last) > OffenseWindow {
			delete(b.offenses, addr)
		}
	}
	return n
}

// Len counts bans still in force at now.
func (b *Blacklist) Len(now time.Time) int {
	n := 0
	for _, e := range b.entries {
		if e.Active(now) {
			n++
		}
	}
	return n
}

// Entries returns active bans, newest first.
func (b *Blacklist) Entries(now time.Time) []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Active(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BannedAt.After(out[j].BannedAt)
	})
	return out
}

// Fingerprint is a stable, non-reversible key for an address.
func Fingerprint(address string) string {
	h := sha256.Sum256([]byte(address))
	return hex.EncodeToString(h[:8])
}
