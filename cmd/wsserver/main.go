package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/audit"
	"github.com/whisper/roulette/internal/ban"
	"github.com/whisper/roulette/internal/config"
	"github.com/whisper/roulette/internal/database"
	"github.com/whisper/roulette/internal/engine"
	"github.com/whisper/roulette/internal/httpapi"
	"github.com/whisper/roulette/internal/messaging"
	"github.com/whisper/roulette/internal/ratelimit"
	"github.com/whisper/roulette/internal/report"
	"github.com/whisper/roulette/internal/session"
	"github.com/whisper/roulette/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	checks := make(map[string]httpapi.Check)

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = connectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info().Msg("redis connected")
	}

	// --- NATS ---
	var nc *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "roulette-wsserver"
		nc, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		checks["nats"] = nc.Check
	}

	// --- Postgres ---
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = connectDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		checks["postgres"] = db.Ping
	}

	fxCfg := engine.EffectsConfig{Audit: auditSink(cfg, nc, db)}
	var (
		banStore     *ban.Store
		profileStore *session.Store
		limiter      ws.ConnectLimiter
	)
	if rdb != nil {
		banStore = ban.NewStore(rdb)
		profileStore = session.NewStore(rdb)
		limiter = ratelimit.NewLimiter(rdb)
		fxCfg.Bans = banStore
		fxCfg.Profiles = profileStore
	}
	if nc != nil {
		fxCfg.Stats = nc
	}
	fx := engine.NewEffects(fxCfg)

	server := ws.NewServer(ws.ConfigFrom(cfg), nil)
	eng := engine.New(engine.PolicyFromConfig(cfg), server, engine.WithEffects(fx))

	if banStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		entries, err := banStore.Active(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("failed to restore bans; starting with an empty blacklist")
		} else {
			log.Info().Int("restored", eng.RestoreBans(entries)).Msg("blacklist restored")
		}
	}

	loop := engine.NewLoop(eng, engine.LoopConfig{
		SweepInterval: cfg.SweepInterval,
		StatsInterval: cfg.StatsInterval,
	})
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	server.SetHandler(ws.NewDispatcher(loop, limiter, cfg.ConnectQuotaPerMin))
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start ws server")
	}

	deps := httpapi.Deps{
		Transport:  server,
		Loop:       loop,
		Checks:     checks,
		AdminToken: cfg.AdminToken,
		TrustProxy: cfg.TrustProxy,
	}
	if db != nil {
		deps.Reports = report.NewStore(db.DB)
	}
	if profileStore != nil {
		deps.Profiles = profileStore
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: config.ServerReadHeaderTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("country_policy", cfg.CountryPolicy).
			Str("ban_mode", cfg.BanMode).
			Str("report_persistence", cfg.ReportPersistence).
			Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Disconnects from the ws shutdown still need the loop.
	server.Shutdown()
	_ = loop.Do(shutdownCtx, func(*engine.Engine) {})
	stopLoop()
	<-loop.Done()
	fx.Wait()

	log.Info().Msg("server stopped")
}

// auditSink assembles the report sinks for the configured persistence mode.
// Reports are always logged.
func auditSink(cfg *config.Config, nc *messaging.NATSClient, db *database.DB) audit.Sink {
	sinks := audit.Multi{audit.NewLogSink()}
	switch cfg.ReportPersistence {
	case config.ReportPersistenceNATS:
		sinks = append(sinks, audit.NewNATSSink(nc))
	case config.ReportPersistencePostgres:
		sinks = append(sinks, audit.NewStoreSink(report.NewStore(db.DB)))
	}
	return sinks
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func connectDatabase(url string) (*database.DB, error) {
	db, err := database.Connect(url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Msg("database connected and migrated")
	return db, nil
}

func setupLogging(level, format string) {
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
