package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/audit"
	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/config"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/report"
)

// ProfileRecorder is the subset of session.Store the engine feeds.
type ProfileRecorder interface {
	RecordConnection(ctx context.Context, fingerprint, country string) error
	RecordSession(ctx context.Context, fingerprint string, messages int) error
	RecordReport(ctx context.Context, fingerprint string) error
	RecordBan(ctx context.Context, fingerprint, reason string, until time.Time) error
}

// BanRecorder is the subset of ban.Store the engine feeds.
type BanRecorder interface {
	Record(ctx context.Context, e ban.Entry) error
	Remove(ctx context.Context, address string) error
}

// StatsPublisher receives encoded stats snapshots.
type StatsPublisher interface {
	PublishStats(data []byte) error
}

// EffectsConfig wires the external collaborators. Any of them may be nil.
type EffectsConfig struct {
	Profiles ProfileRecorder
	Bans     BanRecorder
	Audit    audit.Sink
	Stats    StatsPublisher
	Timeout  time.Duration
}

// Effects runs side effects against external stores on detached goroutines.
// A failure is logged and counted, never retried or rolled back; the
// in-memory decision has already been applied.
type Effects struct {
	cfg    EffectsConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewEffects(cfg EffectsConfig) *Effects {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.EffectTimeout
	}
	return &Effects{
		cfg:    cfg,
		logger: log.With().Str("component", "effects").Logger(),
	}
}

func (fx *Effects) run(name string, fn func(ctx context.Context) error) {
	fx.wg.Add(1)
	go func() {
		defer fx.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), fx.cfg.Timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.EffectFailures.WithLabelValues(name).Inc()
			fx.logger.Warn().Err(err).Str("effect", name).Msg("side effect failed")
		}
	}()
}

// Wait blocks until in-flight effects finish.
func (fx *Effects) Wait() {
	fx.wg.Wait()
}

func (fx *Effects) connected(address, country string) {
	if fx.cfg.Profiles == nil {
		return
	}
	fp := ban.Fingerprint(address)
	fx.run("profile_connection", func(ctx context.Context) error {
		return fx.cfg.Profiles.RecordConnection(ctx, fp, country)
	})
}

func (fx *Effects) sessionClosed(addresses []string, messages int) {
	if fx.cfg.Profiles == nil {
		return
	}
	for _, addr := range addresses {
		fp := ban.Fingerprint(addr)
		fx.run("profile_session", func(ctx context.Context) error {
			return fx.cfg.Profiles.RecordSession(ctx, fp, messages)
		})
	}
}

func (fx *Effects) reported(r report.Report) {
	if fx.cfg.Audit != nil {
		fx.run("audit", func(ctx context.Context) error {
			return fx.cfg.Audit.Append(ctx, r)
		})
	}
	if fx.cfg.Profiles != nil {
		fx.run("profile_report", func(ctx context.Context) error {
			return fx.cfg.Profiles.RecordReport(ctx, r.ReportedFingerprint)
		})
	}
}

func (fx *Effects) penalized(address string) {
	if fx.cfg.Profiles == nil {
		return
	}
	fp := ban.Fingerprint(address)
	fx.run("profile_report", func(ctx context.Context) error {
		return fx.cfg.Profiles.RecordReport(ctx, fp)
	})
}

func (fx *Effects) banned(e ban.Entry) {
	if fx.cfg.Bans != nil {
		fx.run("ban_record", func(ctx context.Context) error {
			return fx.cfg.Bans.Record(ctx, e)
		})
	}
	if fx.cfg.Profiles != nil {
		fp := ban.Fingerprint(e.Address)
		fx.run("profile_ban", func(ctx context.Context) error {
			return fx.cfg.Profiles.RecordBan(ctx, fp, e.Reason, e.Until)
		})
	}
}

func (fx *Effects) unbanned(address string) {
	if fx.cfg.Bans == nil {
		return
	}
	fx.run("ban_remove", func(ctx context.Context) error {
		return fx.cfg.Bans.Remove(ctx, address)
	})
}

func (fx *Effects) publishStats(s Snapshot) {
	if fx.cfg.Stats == nil {
		return
	}
	fx.run("stats_publish", func(context.Context) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return fx.cfg.Stats.PublishStats(data)
	})
}
