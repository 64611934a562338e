package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/engine"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/ws"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 500
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	ws.Health
}

// health reports the transport and every dependency probe. Any failed probe
// turns the response into a 503.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Health: a.Transport.Health()}
	status := http.StatusOK

	if len(a.Checks) > 0 {
		resp.Checks = make(map[string]string, len(a.Checks))
		for name, check := range a.Checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	var snap engine.Snapshot
	if err := a.Loop.Do(r.Context(), func(e *engine.Engine) { snap = e.Stats() }); err != nil {
		writeError(w, loopError(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) listReports(w http.ResponseWriter, r *http.Request) {
	if a.Reports == nil {
		writeError(w, apperrors.Unavailable("report storage"))
		return
	}
	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.InvalidInput("limit", "must be a positive integer"))
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := a.Reports.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
}

func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	if a.Reports == nil {
		writeError(w, apperrors.Unavailable("report storage"))
		return
	}
	rpt, err := a.Reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rpt == nil {
		writeError(w, apperrors.NotFound("report"))
		return
	}
	writeJSON(w, http.StatusOK, rpt)
}

// updateReport moves a report through triage.
func (a *api) updateReport(w http.ResponseWriter, r *http.Request) {
	if a.Reports == nil {
		writeError(w, apperrors.Unavailable("report storage"))
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, apperrors.InvalidInput("status", "required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Reports.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func (a *api) listBans(w http.ResponseWriter, r *http.Request) {
	var entries []ban.Entry
	if err := a.Loop.Do(r.Context(), func(e *engine.Engine) { entries = e.Bans() }); err != nil {
		writeError(w, loopError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bans": entries, "count": len(entries)})
}

func (a *api) createBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		writeError(w, apperrors.InvalidInput("address", "required"))
		return
	}

	var entry ban.Entry
	if err := a.Loop.Do(r.Context(), func(e *engine.Engine) { entry = e.Ban(req.Address, req.Reason) }); err != nil {
		writeError(w, loopError(err))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *api) deleteBan(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var lifted bool
	if err := a.Loop.Do(r.Context(), func(e *engine.Engine) { lifted = e.Unban(address) }); err != nil {
		writeError(w, loopError(err))
		return
	}
	if !lifted {
		writeError(w, apperrors.NotFound("ban"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getProfile returns the durable aggregate for an address fingerprint.
func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	if a.Profiles == nil {
		writeError(w, apperrors.Unavailable("profile storage"))
		return
	}
	agg, err := a.Profiles.Get(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, err)
		return
	}
	if agg == nil {
		writeError(w, apperrors.NotFound("profile"))
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// loopError covers a stopped loop and a request that gave up waiting on it.
func loopError(err error) error {
	return apperrors.Wrap(apperrors.ErrCodeUnavailable, "Engine is unavailable", err)
}
