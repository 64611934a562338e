package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roulette/internal/engine"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/report"
	"github.com/whisper/roulette/internal/session"
	"github.com/whisper/roulette/internal/ws"
)

const token = "s3cret"

type fakeTransport struct{ upgrades int }

func (f *fakeTransport) HandleUpgrade(w http.ResponseWriter, _ *http.Request) {
	f.upgrades++
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeTransport) Health() ws.Health {
	return ws.Health{Connections: 7, Uptime: "1m0s"}
}

type nopNotifier struct{}

func (nopNotifier) Send(string, protocol.ServerMessage) {}
func (nopNotifier) Broadcast(protocol.ServerMessage)    {}
func (nopNotifier) Close(string)                        {}

type fakeReports struct {
	reports   []report.Report
	lastLimit int
	updated   map[string]string
}

func (f *fakeReports) Recent(_ context.Context, limit int) ([]report.Report, error) {
	f.lastLimit = limit
	return f.reports, nil
}

func (f *fakeReports) Get(_ context.Context, id string) (*report.Report, error) {
	for i := range f.reports {
		if f.reports[i].ID == id {
			return &f.reports[i], nil
		}
	}
	return nil, nil
}

func (f *fakeReports) UpdateStatus(_ context.Context, id, status string) error {
	if status != report.StatusReviewed {
		return apperrors.InvalidInput("status", "unknown")
	}
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[id] = status
	return nil
}

type fakeProfiles map[string]*session.Aggregate

func (f fakeProfiles) Get(_ context.Context, fp string) (*session.Aggregate, error) {
	return f[fp], nil
}

func startLoop(t *testing.T) *engine.Loop {
	t.Helper()
	loop := engine.NewLoop(engine.New(engine.DefaultPolicy(), nopNotifier{}), engine.LoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func newTestRouter(t *testing.T, reports ReportStore) (http.Handler, *engine.Loop, *fakeTransport) {
	t.Helper()
	loop := startLoop(t)
	tr := &fakeTransport{}
	return NewRouter(Deps{
		Transport:  tr,
		Loop:       loop,
		Reports:    reports,
		AdminToken: token,
	}), loop, tr
}

func do(h http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)

	rec := do(h, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7), body["connections"])
}

func TestHealth_FailedCheck(t *testing.T) {
	h := NewRouter(Deps{
		Transport: &fakeTransport{},
		Loop:      startLoop(t),
		Checks: map[string]Check{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := do(h, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["checks"])
}

func TestUpgradeRoute(t *testing.T) {
	h, _, tr := newTestRouter(t, nil)
	do(h, http.MethodGet, "/ws", "", false)
	assert.Equal(t, 1, tr.upgrades)
}

func TestMetricsRoute(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)
	rec := do(h, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "roulette_")
}

func TestStats(t *testing.T) {
	h, loop, _ := newTestRouter(t, nil)
	require.NoError(t, loop.Do(context.Background(), func(e *engine.Engine) {
		_ = e.Connect("a", "10.0.0.1")
	}))

	rec := do(h, http.MethodGet, "/api/stats", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["pending_connections"])
	assert.Equal(t, float64(1), body["total_connections"])
}

func TestAdminRequiresToken(t *testing.T) {
	h, _, _ := newTestRouter(t, &fakeReports{})

	rec := do(h, http.MethodGet, "/api/admin/bans", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, rec)["code"])

	req := httptest.NewRequest(http.MethodGet, "/api/admin/bans", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := NewRouter(Deps{Transport: &fakeTransport{}, Loop: startLoop(t)})
	rec := do(h, http.MethodGet, "/api/admin/bans", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := report.New("a", "b", "fp", "room_1", "spam", "", nil, now)
	store := &fakeReports{reports: []report.Report{r}}
	h, _, _ := newTestRouter(t, store)

	t.Run("default limit", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/admin/reports", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 50, store.lastLimit)
		assert.Equal(t, float64(1), decode(t, rec)["count"])
	})

	t.Run("limit is capped", func(t *testing.T) {
		do(h, http.MethodGet, "/api/admin/reports?limit=10000", "", true)
		assert.Equal(t, 500, store.lastLimit)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/admin/reports?limit=-3", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := do(h, http.MethodGet, "/api/admin/reports/"+r.ID, "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, r.ID, decode(t, rec)["id"])

		rec = do(h, http.MethodGet, "/api/admin/reports/rpt_missing", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update status", func(t *testing.T) {
		rec := do(h, http.MethodPatch, "/api/admin/reports/"+r.ID, `{"status":"reviewed"}`, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "reviewed", store.updated[r.ID])

		rec = do(h, http.MethodPatch, "/api/admin/reports/"+r.ID, `{"status":"shredded"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(h, http.MethodPatch, "/api/admin/reports/"+r.ID, `{}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReports_NoStore(t *testing.T) {
	h, _, _ := newTestRouter(t, nil)
	rec := do(h, http.MethodGet, "/api/admin/reports", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNAVAILABLE", decode(t, rec)["code"])
}

func TestBans(t *testing.T) {
	h, loop, _ := newTestRouter(t, nil)

	rec := do(h, http.MethodPost, "/api/admin/bans", `{"address":"10.9.9.9","reason":"abuse"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	assert.Equal(t, "10.9.9.9", created["address"])
	assert.Equal(t, "abuse", created["reason"])

	var refused error
	require.NoError(t, loop.Do(context.Background(), func(e *engine.Engine) {
		refused = e.Connect("x", "10.9.9.9")
	}))
	assert.True(t, apperrors.Is(refused, apperrors.ErrCodeBlacklisted))

	rec = do(h, http.MethodGet, "/api/admin/bans", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = do(h, http.MethodDelete, "/api/admin/bans/10.9.9.9", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, http.MethodDelete, "/api/admin/bans/10.9.9.9", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodPost, "/api/admin/bans", `{"address":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_LoopStopped(t *testing.T) {
	loop := engine.NewLoop(engine.New(engine.DefaultPolicy(), nopNotifier{}), engine.LoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	cancel()
	<-loop.Done()

	h := NewRouter(Deps{Transport: &fakeTransport{}, Loop: loop})
	rec := do(h, http.MethodGet, "/api/stats", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProfiles(t *testing.T) {
	profiles := fakeProfiles{"abc123": {Fingerprint: "abc123", Country: "SA", TotalSessions: 4}}
	h := NewRouter(Deps{
		Transport:  &fakeTransport{},
		Loop:       startLoop(t),
		Profiles:   profiles,
		AdminToken: token,
	})

	rec := do(h, http.MethodGet, "/api/admin/profiles/abc123", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "SA", body["country"])

	rec = do(h, http.MethodGet, "/api/admin/profiles/nope", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h, _, _ = newTestRouter(t, nil)
	rec = do(h, http.MethodGet, "/api/admin/profiles/abc123", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
