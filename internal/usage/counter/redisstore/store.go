// Package redisstore is the Redis quota counter engine.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/companion/internal/usage/domain"
)

const keyPrefix = "companion:usage:"

// consumeScript increments only below the limit. The script runs atomically
// on the server, so no caller can interleave between read and write.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New keeps each counter for ttl after its first increment; counters from
// past days then expire on their own.
func New(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Connect accepts a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (s *Store) Consume(ctx context.Context, key domain.CounterKey, limit int) (int, bool, error) {
	result, err := consumeScript.Run(ctx, s.client, []string{redisKey(key)}, limit, int64(s.ttl/time.Second)).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("unexpected consume reply %v", result)
	}
	return int(result[1]), result[0] == 1, nil
}

func (s *Store) Peek(ctx context.Context, key domain.CounterKey) (int, error) {
	count, err := s.client.Get(ctx, redisKey(key)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func redisKey(key domain.CounterKey) string {
	return keyPrefix + key.Kind + ":" + key.Day + ":" + key.Subject
}
