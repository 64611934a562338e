package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ProfilePrefix is the Redis key prefix for per-address aggregate hashes.
	ProfilePrefix = "profile:"

	// ProfileTTL is refreshed on every write.
	ProfileTTL = 30 * 24 * time.Hour
)

// Aggregate is the durable, eventually-consistent view of one address.
type Aggregate struct {
	Fingerprint      string `redis:"fingerprint" json:"fingerprint"`
	Country          string `redis:"country" json:"country"`
	FirstSeen        int64  `redis:"first_seen" json:"first_seen"`
	LastSeen         int64  `redis:"last_seen" json:"last_seen"`
	TotalConnections int64  `redis:"total_connections" json:"total_connections"`
	TotalSessions    int64  `redis:"total_sessions" json:"total_sessions"`
	TotalMessages    int64  `redis:"total_messages" json:"total_messages"`
	ReportCount      int64  `redis:"report_count" json:"report_count"`
	BanCount         int64  `redis:"ban_count" json:"ban_count"`
	LastBanReason    string `redis:"last_ban_reason" json:"last_ban_reason"`
	BannedUntil      int64  `redis:"banned_until" json:"banned_until"` // unix seconds, 0 if permanent or never
}

// Store keeps Aggregates in Redis hashes keyed by address fingerprint.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// RecordConnection counts a registration from fingerprint.
func (s *Store) RecordConnection(ctx context.Context, fingerprint, country string) error {
	key := ProfilePrefix + fingerprint
	now := time.Now().Unix()

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "first_seen", now)
	pipe.HSet(ctx, key, "fingerprint", fingerprint, "country", country, "last_seen", now)
	pipe.HIncrBy(ctx, key, "total_connections", 1)
	pipe.Expire(ctx, key, ProfileTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordSession counts a completed session with its message total.
func (s *Store) RecordSession(ctx context.Context, fingerprint string, messages int) error {
	key := ProfilePrefix + fingerprint
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "total_sessions", 1)
	pipe.HIncrBy(ctx, key, "total_messages", int64(messages))
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, ProfileTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordReport counts a report or block against fingerprint.
func (s *Store) RecordReport(ctx context.Context, fingerprint string) error {
	key := ProfilePrefix + fingerprint
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "report_count", 1)
	pipe.Expire(ctx, key, ProfileTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordBan appends to the ban history of fingerprint.
func (s *Store) RecordBan(ctx context.Context, fingerprint, reason string, until time.Time) error {
	key := ProfilePrefix + fingerprint
	var untilUnix int64
	if !until.IsZero() {
		untilUnix = until.Unix()
	}
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "ban_count", 1)
	pipe.HSet(ctx, key, "last_ban_reason", reason, "banned_until", untilUnix)
	pipe.Expire(ctx, key, ProfileTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the aggregate for fingerprint. Returns nil if not found.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Aggregate, error) {
	var agg Aggregate
	if err := s.client.HGetAll(ctx, ProfilePrefix+fingerprint).Scan(&agg); err != nil {
		return nil, err
	}
	if agg.Fingerprint == "" && agg.TotalConnections == 0 && agg.ReportCount == 0 {
		return nil, nil
	}
	return &agg, nil
}
