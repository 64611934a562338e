// Package httpapi is the HTTP surface: the WebSocket upgrade, health,
// Prometheus metrics, live stats and the admin API for reports and bans.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/engine"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/metrics"
	"github.com/whisper/roulette/internal/report"
	"github.com/whisper/roulette/internal/session"
	"github.com/whisper/roulette/internal/ws"
)

const defaultRequestTimeout = 10 * time.Second

// Transport is the WebSocket server as seen by the router.
type Transport interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request)
	Health() ws.Health
}

// Runner executes a task on the engine loop and waits for it.
type Runner interface {
	Do(ctx context.Context, t engine.Task) error
}

// ReportStore is the subset of report.Store the admin API reads.
type ReportStore interface {
	Recent(ctx context.Context, limit int) ([]report.Report, error)
	Get(ctx context.Context, id string) (*report.Report, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// ProfileReader is the subset of session.Store the admin API reads.
type ProfileReader interface {
	Get(ctx context.Context, fingerprint string) (*session.Aggregate, error)
}

// Check is one dependency probe reported by /health.
type Check func(ctx context.Context) error

type Deps struct {
	Transport Transport
	Loop      Runner
	Reports   ReportStore   // nil when Postgres is not configured
	Profiles  ProfileReader // nil when Redis is not configured
	Checks    map[string]Check

	// AdminToken guards /api/admin. The admin API is not mounted without it.
	AdminToken     string
	TrustProxy     bool
	RequestTimeout time.Duration
}

type api struct {
	Deps
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if d.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	// The upgrade hijacks the connection, so it stays outside the timeout.
	r.Get("/ws", d.Transport.HandleUpgrade)
	r.Get("/health", a.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(d.RequestTimeout))
		r.Get("/stats", a.stats)

		if d.AdminToken == "" {
			log.Warn().Str("component", "httpapi").Msg("ADMIN_TOKEN is empty: admin API disabled")
			return
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/reports", a.listReports)
			r.Get("/reports/{id}", a.getReport)
			r.Patch("/reports/{id}", a.updateReport)
			r.Get("/bans", a.listBans)
			r.Post("/bans", a.createBan)
			r.Delete("/bans/{address}", a.deleteBan)
			r.Get("/profiles/{fingerprint}", a.getProfile)
		})
	})
	return r
}

func (a *api) requireAdmin(next http.Handler) http.Handler {
	want := []byte(a.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, apperrors.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Upgrades log their own lifecycle.
		if r.URL.Path == "/ws" && ww.Status() == 0 {
			return
		}
		log.Debug().
			Str("component", "httpapi").
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
