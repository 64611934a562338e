// Package audit appends abuse reports to an external log for moderators.
// Appends are fire-and-forget from the engine's point of view; a failing sink
// never undoes the in-memory moderation decision.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/report"
)

// Sink receives every report filed through the engine.
type Sink interface {
	Append(ctx context.Context, r report.Report) error
}

// Publisher is the subset of the NATS client used by NATSSink.
type Publisher interface {
	PublishReport(data []byte) error
}

// Creator is the subset of report.Store used by StoreSink.
type Creator interface {
	Create(ctx context.Context, r report.Report) error
}

// NATSSink publishes reports as JSON on the audit subject. A moderator
// process persists them.
type NATSSink struct {
	pub Publisher
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Append(_ context.Context, r report.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: encode report: %w", err)
	}
	if err := s.pub.PublishReport(data); err != nil {
		return fmt.Errorf("audit: publish report %s: %w", r.ID, err)
	}
	return nil
}

// StoreSink writes reports straight to PostgreSQL.
type StoreSink struct {
	store Creator
}

func NewStoreSink(store Creator) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Append(ctx context.Context, r report.Report) error {
	return s.store.Create(ctx, r)
}

// LogSink only logs the report. Used when no persistence is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Append(_ context.Context, r report.Report) error {
	s.logger.Info().
		Str("report_id", r.ID).
		Str("reporter", r.ReporterID).
		Str("reported", r.ReportedID).
		Str("session_id", r.SessionID).
		Str("reason", r.Reason).
		Int("evidence", len(r.Messages)).
		Msg("report filed")
	return nil
}

// Multi appends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, r report.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
