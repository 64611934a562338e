package engine

import (
	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/chat"
	"github.com/whisper/roulette/internal/config"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/moderation"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/report"
	"github.com/whisper/roulette/internal/session"
)

// Ban reasons recorded on blacklist entries.
const (
	BanReasonReports = "report_threshold"
	BanReasonAdmin   = "admin"
)

// SubmitReport files a report against the reporter's current partner with the
// recent transcript as evidence.
func (e *Engine) SubmitReport(id, reason, details string) (report.Report, error) {
	p, err := e.active(id)
	if err != nil {
		return report.Report{}, err
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return report.Report{}, err
	}
	if !p.InSession() {
		return report.Report{}, apperrors.NotInSession()
	}
	reason, err = report.NormalizeReason(reason)
	if err != nil {
		return report.Report{}, err
	}
	details = moderation.Truncate(moderation.Sanitize(details), config.MaxReportDetails)

	s, partner, err := e.partnerOf(p)
	if err != nil {
		return report.Report{}, err
	}

	now := e.clock()
	lines := e.sessions.Transcript(s.ID)
	evidence := make([]report.MessageEntry, 0, len(lines))
	for _, l := range lines {
		evidence = append(evidence, report.MessageEntry{From: l.From, Text: l.Text, Ts: l.Ts})
	}
	r := report.New(id, partner.ID, ban.Fingerprint(partner.Address), s.ID, reason, details, evidence, now)

	partner.ReportCount++
	e.totals.reports++
	e.registry.Touch(id, now)
	metrics.ReportsTotal.WithLabelValues(reason).Inc()

	e.notifier.Send(id, protocol.ReportAcknowledgedMsg{ReportID: r.ID})
	e.effects.reported(r)

	e.logger.Info().Str("report", r.ID).Str("reporter", id).Str("reported", partner.ID).
		Str("reason", reason).Int("report_count", partner.ReportCount).Msg("report filed")

	if partner.ReportCount >= e.policy.ReportThreshold {
		e.blockParticipant(partner, BanReasonReports)
	}
	return r, nil
}

// BlockUser ends the session for both sides and keeps the pair apart for the
// block memory window. The blocked side is penalized like a light report.
func (e *Engine) BlockUser(id string) error {
	p, err := e.active(id)
	if err != nil {
		return err
	}
	if err := e.charge(id, ratelimit.ActionGeneral); err != nil {
		return err
	}
	if !p.InSession() {
		return apperrors.NotInSession()
	}
	s, partner, err := e.partnerOf(p)
	if err != nil {
		return err
	}

	now := e.clock()
	e.teardown(s.ID, chat.ReasonBlocked)
	e.blocks[newPairKey(id, partner.ID)] = now.Add(e.policy.BlockMemory)
	e.totals.blocks++
	e.registry.Touch(id, now)
	metrics.BlocksTotal.Inc()

	e.notifier.Send(partner.ID, protocol.PartnerLeftMsg{SessionID: s.ID, Reason: chat.ReasonBlocked})
	e.notifier.Send(id, protocol.UserBlockedMsg{SessionID: s.ID})

	partner.ReportCount++
	e.effects.penalized(partner.Address)
	e.logger.Info().Str("session", s.ID).Str("blocker", id).Str("blocked", partner.ID).
		Int("report_count", partner.ReportCount).Msg("user blocked")

	if partner.ReportCount >= e.policy.ReportThreshold {
		e.blockParticipant(partner, BanReasonReports)
	}
	return nil
}

// blockParticipant flags p, blacklists its address, ends its session and
// closes its connection.
func (e *Engine) blockParticipant(p *session.Participant, reason string) {
	if p.Blocked {
		return
	}
	p.Blocked = true
	entry := e.blacklist.Add(p.Address, reason, e.clock())
	metrics.BlacklistedTotal.Inc()
	e.effects.banned(entry)

	e.logger.Warn().Str("participant", p.ID).Str("fingerprint", ban.Fingerprint(p.Address)).
		Int("offenses", entry.Offenses).Time("until", entry.Until).Msg("participant blacklisted")
	e.evictAddress(p.Address)
}

// evictAddress drops every participant and pending connection from address.
func (e *Engine) evictAddress(address string) {
	for _, p := range e.registry.All() {
		if p.Address == address {
			p.Blocked = true
			e.evict(p)
		}
	}
	for id, pc := range e.pending {
		if pc.address == address {
			e.notifier.Close(id)
			e.Disconnect(id)
		}
	}
}

// evict ends p's session, removes it from the queue and closes its
// connection.
func (e *Engine) evict(p *session.Participant) {
	if p.InSession() {
		if s, ok := e.teardown(p.SessionID, chat.ReasonBlocked); ok {
			e.notifyPartnerLeft(s, s.Partner(p.ID), chat.ReasonBlocked)
		}
	}
	e.queue.Dequeue(p.ID)
	p.Waiting = false

	e.notifier.Send(p.ID, protocol.ErrorFrom(apperrors.Blacklisted()))
	e.notifier.Close(p.ID)
	e.Disconnect(p.ID)
}

// IsBlacklisted reports whether address is currently refused.
func (e *Engine) IsBlacklisted(address string) bool {
	return e.blacklist.IsBlacklisted(address, e.clock())
}

// Ban blacklists an address by hand and drops every connection from it.
func (e *Engine) Ban(address, reason string) ban.Entry {
	if reason == "" {
		reason = BanReasonAdmin
	}
	entry := e.blacklist.Add(address, reason, e.clock())
	metrics.BlacklistedTotal.Inc()
	e.effects.banned(entry)
	e.evictAddress(address)
	return entry
}

// Unban lifts the ban on address.
func (e *Engine) Unban(address string) bool {
	if !e.blacklist.Remove(address) {
		return false
	}
	e.effects.unbanned(address)
	e.logger.Info().Str("fingerprint", ban.Fingerprint(address)).Msg("ban lifted")
	return true
}

// Bans lists bans in force.
func (e *Engine) Bans() []ban.Entry {
	return e.blacklist.Entries(e.clock())
}

// RestoreBans loads bans recovered from durable storage.
func (e *Engine) RestoreBans(entries []ban.Entry) int {
	return e.blacklist.Restore(entries, e.clock())
}
