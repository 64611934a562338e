package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// Report persistence modes.
const (
	ReportPersistenceNone     = "none"
	ReportPersistenceNATS     = "nats"
	ReportPersistencePostgres = "postgres"
)

// Ban modes.
const (
	BanModePermanent  = "permanent"
	BanModeFixed      = "fixed"
	BanModeEscalating = "escalating"
)

// Same-country pairing policies.
const (
	CountryPolicyOptional  = "optional"
	CountryPolicyRequired  = "required"
	CountryPolicyForbidden = "forbidden"
)

type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	SendQueueSize  int           `env:"SEND_QUEUE_SIZE" envDefault:"64"`
	TrustProxy     bool          `env:"TRUST_PROXY" envDefault:"false"`
	AdminToken     string        `env:"ADMIN_TOKEN"`

	RedisURL          string `env:"REDIS_URL"`
	NATSURL           string `env:"NATS_URL"`
	DatabaseURL       string `env:"DATABASE_URL"`
	ReportPersistence string `env:"REPORT_PERSISTENCE" envDefault:"none"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	GeneralQuotaPerMin int `env:"GENERAL_QUOTA_PER_MIN" envDefault:"100"`
	ChatQuotaPerMin    int `env:"CHAT_QUOTA_PER_MIN" envDefault:"10"`
	ConnectQuotaPerMin int `env:"CONNECT_QUOTA_PER_MIN" envDefault:"20"`

	MaxInterests      int      `env:"MAX_INTERESTS" envDefault:"5"`
	ExtraCountries    []string `env:"EXTRA_COUNTRIES" envSeparator:","`
	MaxMessageLength  int      `env:"MAX_MESSAGE_LENGTH" envDefault:"500"`
	CountryPolicy     string   `env:"COUNTRY_POLICY" envDefault:"optional"`
	ChatFilterEnabled bool     `env:"CHAT_FILTER_ENABLED" envDefault:"true"`

	InactivityTimeout  time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"30m"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`
	SessionMaxDuration time.Duration `env:"SESSION_MAX_DURATION" envDefault:"60m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	StatsInterval      time.Duration `env:"STATS_INTERVAL" envDefault:"10s"`
	BlockMemory        time.Duration `env:"BLOCK_MEMORY" envDefault:"30m"`

	BanMode     string        `env:"BAN_MODE" envDefault:"escalating"`
	BanDuration time.Duration `env:"BAN_DURATION" envDefault:"24h"`
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	switch c.ReportPersistence {
	case ReportPersistenceNone:
	case ReportPersistenceNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("REPORT_PERSISTENCE=nats requires NATS_URL")
		}
	case ReportPersistencePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("REPORT_PERSISTENCE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown REPORT_PERSISTENCE %q", c.ReportPersistence)
	}

	switch c.BanMode {
	case BanModePermanent, BanModeEscalating:
	case BanModeFixed:
		if c.BanDuration <= 0 {
			return fmt.Errorf("BAN_MODE=fixed requires a positive BAN_DURATION")
		}
	default:
		return fmt.Errorf("unknown BAN_MODE %q", c.BanMode)
	}

	switch c.CountryPolicy {
	case CountryPolicyOptional, CountryPolicyRequired, CountryPolicyForbidden:
	default:
		return fmt.Errorf("unknown COUNTRY_POLICY %q", c.CountryPolicy)
	}

	if c.GeneralQuotaPerMin <= 0 || c.ChatQuotaPerMin <= 0 {
		return fmt.Errorf("quotas must be positive")
	}
	if c.SessionIdleTimeout >= c.SessionMaxDuration {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT (%s) must be shorter than SESSION_MAX_DURATION (%s)",
			c.SessionIdleTimeout, c.SessionMaxDuration)
	}
	if c.SweepInterval <= 0 || c.StatsInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and STATS_INTERVAL must be positive")
	}
	if c.MaxInterests <= 0 || c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_INTERESTS and MAX_MESSAGE_LENGTH must be positive")
	}

	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is empty: profile stats, ban history and connect limits disabled")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
