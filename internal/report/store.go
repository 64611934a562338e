package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/whisper/roulette/internal/errors"
)

// DefaultRecentLimit is the page size of Recent when none is given.
const DefaultRecentLimit = 50

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report. Inserting the same id twice is a no-op, so
// redelivered audit messages are harmless.
func (s *Store) Create(ctx context.Context, r Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	const query = `
		INSERT INTO abuse_reports
			(id, reporter_id, reported_id, reported_fingerprint, session_id, reason, details, messages, status, created_at)
		VALUES
			(:id, :reporter_id, :reported_id, :reported_fingerprint, :session_id, :reason, :details, :messages, :status, :created_at)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.NamedExecContext(ctx, query, r); err != nil {
		return apperrors.Database(fmt.Errorf("report: insert: %w", err))
	}
	return nil
}

// Recent returns the newest reports first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultRecentLimit
	}

	const query = `
		SELECT id, reporter_id, reported_id, reported_fingerprint, session_id, reason, details, messages, status, created_at
		FROM abuse_reports
		ORDER BY created_at DESC
		LIMIT $1`

	var out []Report
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, apperrors.Database(fmt.Errorf("report: recent: %w", err))
	}
	return out, nil
}

// Get loads a single report. Returns nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	const query = `
		SELECT id, reporter_id, reported_id, reported_fingerprint, session_id, reason, details, messages, status, created_at
		FROM abuse_reports
		WHERE id = $1`

	var r Report
	err := s.db.GetContext(ctx, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("report: get: %w", err))
	}
	return &r, nil
}

// UpdateStatus is the only mutation a stored report accepts.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	if !validStatuses[status] {
		return apperrors.InvalidInput("status", fmt.Sprintf("unknown status %q", status))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE abuse_reports SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return apperrors.Database(fmt.Errorf("report: update status: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeValidation, fmt.Sprintf("report %s not found", id))
	}
	return nil
}

// CountRecent returns the number of reports filed against a fingerprint
// within window.
func (s *Store) CountRecent(ctx context.Context, reportedFingerprint string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_fingerprint = $1
		  AND created_at >= $2`

	var count int
	if err := s.db.GetContext(ctx, &count, query, reportedFingerprint, time.Now().Add(-window)); err != nil {
		return 0, apperrors.Database(fmt.Errorf("report: count recent: %w", err))
	}
	return count, nil
}
