// Command moderator consumes the report audit stream, triages each report
// with the content filter and persists it to PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/config"
	"github.com/whisper/roulette/internal/database"
	"github.com/whisper/roulette/internal/messaging"
	"github.com/whisper/roulette/internal/moderation"
	"github.com/whisper/roulette/internal/report"
)

// repeatWindow is how far back the moderator looks for earlier reports
// against the same fingerprint.
const repeatWindow = 24 * time.Hour

type reportStore interface {
	Create(ctx context.Context, r report.Report) error
	CountRecent(ctx context.Context, reportedFingerprint string, window time.Duration) (int, error)
}

type moderator struct {
	store  reportStore
	filter *moderation.Filter
	logger zerolog.Logger
}

// handle triages one audit record and stores it. The verdict is returned
// for logging and tests.
func (m *moderator) handle(ctx context.Context, data []byte) (moderation.ReportReview, error) {
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return moderation.ReportReview{}, err
	}

	evidence := make([]string, 0, len(r.Messages))
	for _, msg := range r.Messages {
		evidence = append(evidence, msg.Text)
	}
	review := m.filter.Review(r.ID, r.Details, evidence)

	prior, err := m.store.CountRecent(ctx, r.ReportedFingerprint, repeatWindow)
	if err != nil {
		m.logger.Warn().Err(err).Str("report_id", r.ID).Msg("failed to count prior reports")
	}
	if err := m.store.Create(ctx, r); err != nil {
		return review, err
	}

	level := zerolog.InfoLevel
	if review.Flagged {
		level = zerolog.WarnLevel
	}
	m.logger.WithLevel(level).
		Str("filter_reason", review.Reason).
		Str("term", review.Term).
		Str("report_id", r.ID).
		Str("reason", r.Reason).
		Str("fingerprint", r.ReportedFingerprint).
		Int("prior_reports", prior).
		Int("flagged_samples", review.FlaggedSamples).
		Msg("report stored")
	return review, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.NATSURL == "" || cfg.DatabaseURL == "" {
		log.Fatal().Msg("moderator requires NATS_URL and DATABASE_URL")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "roulette-moderator"
	nc, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	m := &moderator{
		store:  report.NewStore(db.DB),
		filter: moderation.NewFilter(),
		logger: log.With().Str("component", "moderator").Logger(),
	}

	err = nc.SubscribeReports(func(data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), config.EffectTimeout)
		defer cancel()
		if _, err := m.handle(ctx, data); err != nil {
			m.logger.Error().Err(err).Msg("failed to handle report")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to reports")
	}
	// Live counters give moderators context on queue pressure.
	err = nc.SubscribeStats(func(data []byte) {
		m.logger.Debug().RawJSON("stats", data).Msg("stats snapshot")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to stats")
	}
	log.Info().Str("subject", messaging.SubjectReportsAudit).Msg("moderator running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down moderator")
}
