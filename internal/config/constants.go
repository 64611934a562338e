package config

import "time"

// Moderation
const (
	ReportThreshold  = 3
	TranscriptLength = 5
	MaxReportDetails = 500
)

// Session archive kept for statistics only.
const ArchiveSize = 1000

// Side effects against Redis, NATS and Postgres.
const EffectTimeout = 5 * time.Second

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerReadHeaderTimeout = 10 * time.Second
	ServerShutdownTimeout   = 15 * time.Second
)

// Startup ping timeout for collaborators
const PingTimeout = 5 * time.Second
