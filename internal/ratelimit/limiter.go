// Package ratelimit throttles participant actions. Quotas holds the in-memory
// token buckets the engine charges for every inbound action; Limiter is the
// Redis fixed-window counter guarding WebSocket upgrades per source address.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a fixed-window policy: key prefix, max count and window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// ConnectRule limits WebSocket upgrades per source address.
func ConnectRule(perMinute int) Rule {
	return Rule{Key: "rl:conn:", Limit: perMinute, Window: time.Minute}
}

// Limiter performs fixed-window checks against Redis.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one hit for identifier under rule. When the limit is exceeded
// it returns false with the time left in the window. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, time.Duration, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis INCR failed, failing open")
		return true, 0, err
	}

	// The first hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis EXPIRE failed, failing open")
			l.client.Del(ctx, key)
			return true, 0, err
		}
	}

	if int(count) <= rule.Limit {
		return true, 0, nil
	}

	retry, err := l.client.PTTL(ctx, key).Result()
	if err != nil || retry < 0 {
		retry = rule.Window
	}
	return false, retry, nil
}
