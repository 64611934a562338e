package session

import (
	"sort"
	"strings"
	"time"

	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/moderation"
)

// RegistryConfig controls profile normalization.
type RegistryConfig struct {
	MaxInterests int
	// ExtraCountries are accepted in addition to the built-in code list.
	ExtraCountries []string
	// Filter drops blocked interest tags when set.
	Filter *moderation.Filter
}

// Registry holds every registered participant keyed by connection id.
// It is not safe for concurrent use; the engine loop owns it.
type Registry struct {
	participants map[string]*Participant
	maxInterests int
	extra        map[string]struct{}
	filter       *moderation.Filter
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxInterests <= 0 {
		cfg.MaxInterests = 5
	}
	extra := make(map[string]struct{}, len(cfg.ExtraCountries))
	for _, c := range cfg.ExtraCountries {
		extra[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &Registry{
		participants: make(map[string]*Participant),
		maxInterests: cfg.MaxInterests,
		extra:        extra,
		filter:       cfg.Filter,
	}
}

// Register creates a participant for id. The caller is expected to have
// already refused blacklisted addresses.
func (r *Registry) Register(id string, profile Profile, address string, now time.Time) (*Participant, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("id", "must not be empty")
	}
	if _, ok := r.participants[id]; ok {
		return nil, apperrors.DuplicateRegistration()
	}

	p := &Participant{
		ID:           id,
		Address:      address,
		Country:      NormalizeCountry(profile.Country, r.extra),
		Interests:    NormalizeInterests(profile.Interests, r.maxInterests, r.filter),
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.participants[id] = p
	return p, nil
}

// Unregister removes id and returns what was removed. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return nil, false
	}
	delete(r.participants, id)
	return p, true
}

func (r *Registry) Touch(id string, now time.Time) bool {
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.LastActivity = now
	return true
}

func (r *Registry) Lookup(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

func (r *Registry) Len() int {
	return len(r.participants)
}

// All returns participants ordered by connect time, then id.
func (r *Registry) All() []*Participant {
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountryBreakdown counts active participants per country code.
func (r *Registry) CountryBreakdown() map[string]int {
	out := make(map[string]int)
	for _, p := range r.participants {
		out[p.Country]++
	}
	return out
}
