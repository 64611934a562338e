// Package engine is the in-memory pairing authority. Engine owns the
// registry, the waiting queue, the active sessions, the blacklist and the
// quotas; none of them carry locks. Every call into an Engine must happen on
// the single goroutine run by Loop.
package engine

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/chat"
	"github.com/whisper/roulette/internal/config"
	"github.com/whisper/roulette/internal/matching"
	"github.com/whisper/roulette/internal/moderation"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/session"
)

// Notifier delivers outbound events. Implementations must not block the
// caller.
type Notifier interface {
	Send(id string, msg protocol.ServerMessage)
	Broadcast(msg protocol.ServerMessage)
	// Close terminates the transport of id. The transport is expected to
	// report the disconnect back through the Loop.
	Close(id string)
}

// Policy is the set of behavioral toggles and thresholds.
type Policy struct {
	CountryPolicy   string
	ChatFilter      bool
	MaxInterests    int
	ExtraCountries  []string
	MaxMessageChars int
	ReportThreshold int

	GeneralQuota ratelimit.Quota
	ChatQuota    ratelimit.Quota

	Ban ban.Policy

	InactivityTimeout  time.Duration
	SessionIdleTimeout time.Duration
	SessionMaxDuration time.Duration
	BlockMemory        time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		CountryPolicy:      matching.CountryOptional,
		ChatFilter:         true,
		MaxInterests:       5,
		MaxMessageChars:    chat.DefaultMaxTextChars,
		ReportThreshold:    config.ReportThreshold,
		GeneralQuota:       ratelimit.Quota{PerMinute: 100},
		ChatQuota:          ratelimit.Quota{PerMinute: 10},
		Ban:                ban.Policy{Mode: ban.ModeEscalating},
		InactivityTimeout:  30 * time.Minute,
		SessionIdleTimeout: 10 * time.Minute,
		SessionMaxDuration: 60 * time.Minute,
		BlockMemory:        30 * time.Minute,
	}
}

// PolicyFromConfig builds a Policy from validated configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		CountryPolicy:      cfg.CountryPolicy,
		ChatFilter:         cfg.ChatFilterEnabled,
		MaxInterests:       cfg.MaxInterests,
		ExtraCountries:     cfg.ExtraCountries,
		MaxMessageChars:    cfg.MaxMessageLength,
		ReportThreshold:    config.ReportThreshold,
		GeneralQuota:       ratelimit.Quota{PerMinute: cfg.GeneralQuotaPerMin},
		ChatQuota:          ratelimit.Quota{PerMinute: cfg.ChatQuotaPerMin},
		Ban:                ban.Policy{Mode: cfg.BanMode, Duration: cfg.BanDuration},
		InactivityTimeout:  cfg.InactivityTimeout,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
		SessionMaxDuration: cfg.SessionMaxDuration,
		BlockMemory:        cfg.BlockMemory,
	}
}

// pendingConn is an accepted connection that has not registered yet.
type pendingConn struct {
	address     string
	connectedAt time.Time
	lastSeen    time.Time
}

type pairKey struct{ a, b string }

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

type totals struct {
	connections uint64
	messages    uint64
	signals     uint64
	reports     uint64
	blocks      uint64
}

// Engine is not safe for concurrent use.
type Engine struct {
	policy   Policy
	notifier Notifier
	effects  *Effects
	clock    func() time.Time
	logger   zerolog.Logger

	pending   map[string]*pendingConn
	registry  *session.Registry
	queue     *matching.Queue
	sessions  *chat.Manager
	blacklist *ban.Blacklist
	quotas    *ratelimit.Quotas
	filter    *moderation.Filter
	blocks    map[pairKey]time.Time // pair -> forget after

	startedAt time.Time
	totals    totals

	// EWMA of observed queue waits in milliseconds.
	waitEWMA    float64
	waitSamples int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithEffects attaches the asynchronous collaborators.
func WithEffects(fx *Effects) Option {
	return func(e *Engine) { e.effects = fx }
}

// WithFilter replaces the default content filter.
func WithFilter(f *moderation.Filter) Option {
	return func(e *Engine) { e.filter = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine. notifier must be non-nil.
func New(policy Policy, notifier Notifier, opts ...Option) *Engine {
	if policy.ReportThreshold <= 0 {
		policy.ReportThreshold = config.ReportThreshold
	}
	e := &Engine{
		policy:   policy,
		notifier: notifier,
		clock:    time.Now,
		logger:   log.With().Str("component", "engine").Logger(),
		pending:  make(map[string]*pendingConn),
		queue:    matching.NewQueue(),
		sessions: chat.NewManager(config.ArchiveSize),
		quotas:   ratelimit.NewQuotas(policy.GeneralQuota, policy.ChatQuota),
		blocks:   make(map[pairKey]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.filter == nil {
		e.filter = moderation.NewFilter()
	}
	if e.effects == nil {
		e.effects = NewEffects(EffectsConfig{})
	}
	e.registry = session.NewRegistry(session.RegistryConfig{
		MaxInterests:   policy.MaxInterests,
		ExtraCountries: policy.ExtraCountries,
		Filter:         e.filter,
	})
	e.blacklist = ban.NewBlacklist(policy.Ban)
	e.startedAt = e.clock()
	return e
}

// Lookup exposes a registered participant. The returned pointer must not be
// retained outside the Loop.
func (e *Engine) Lookup(id string) (*session.Participant, bool) {
	return e.registry.Lookup(id)
}

// SessionOf returns the active session id participant id is in.
func (e *Engine) SessionOf(id string) (string, bool) {
	s, ok := e.sessions.ByMember(id)
	if !ok {
		return "", false
	}
	return s.ID, true
}

// Queued reports whether id is waiting for a partner.
func (e *Engine) Queued(id string) bool {
	return e.queue.Contains(id)
}

func (e *Engine) blocked(a, b string) bool {
	until, ok := e.blocks[newPairKey(a, b)]
	return ok && e.clock().Before(until)
}

func (e *Engine) criteria() matching.Criteria {
	return matching.Criteria{
		CountryPolicy: e.policy.CountryPolicy,
		Excluded:      e.blocked,
		Blacklisted:   e.IsBlacklisted,
	}
}
