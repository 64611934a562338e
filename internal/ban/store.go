package ban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for ban records.
const BanPrefix = "ban:"

// Store mirrors blacklist entries in Redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Record writes e with a TTL matching its remaining ban time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ban: marshal: %w", err)
	}
	var ttl time.Duration
	if !e.Permanent() {
		ttl = time.Until(e.Until)
		if ttl <= 0 {
			return nil
		}
	}
	key := BanPrefix + Fingerprint(e.Address)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("ban: set: %w", err)
	}
	return nil
}

// Get returns the stored entry for address, if any.
func (s *Store) Get(ctx context.Context, address string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, BanPrefix+Fingerprint(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("ban: decode: %w", err)
	}
	return e, true, nil
}

// Remove deletes the stored ban for address.
func (s *Store) Remove(ctx context.Context, address string) error {
	return s.client.Del(ctx, BanPrefix+Fingerprint(address)).Err()
}

// Active scans every stored ban. Records that fail to decode are skipped.
func (s *Store) Active(ctx context.Context) ([]Entry, error) {
	var out []Entry
	iter := s.client.Scan(ctx, 0, BanPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("ban: get %s: %w", iter.Val(), err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("ban: scan: %w", err)
	}
	return out, nil
}
