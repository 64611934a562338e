package moderation

// ReportReview is the triage verdict the moderator attaches to an incoming
// report after running its details and evidence through the Filter.
type ReportReview struct {
	ReportID       string `json:"report_id"`
	Flagged        bool   `json:"flagged"`
	Reason         string `json:"reason,omitempty"`
	Term           string `json:"term,omitempty"`
	FlaggedSamples int    `json:"flagged_samples"`
}

// Review checks the report details and each evidence line.
func (f *Filter) Review(reportID, details string, evidence []string) ReportReview {
	rv := ReportReview{ReportID: reportID}
	if res := f.Check(details); res.Blocked {
		rv.Flagged, rv.Reason, rv.Term = true, res.Reason, res.Term
	}
	for _, line := range evidence {
		res := f.Check(line)
		if !res.Blocked {
			continue
		}
		rv.FlaggedSamples++
		if !rv.Flagged {
			rv.Flagged, rv.Reason, rv.Term = true, res.Reason, res.Term
		}
	}
	return rv
}
