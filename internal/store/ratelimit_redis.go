package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// recordScript prunes the window, adds the request while the set holds at
// most ARGV[4] members and returns the resulting cardinality.
var recordScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count <= tonumber(ARGV[4]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	count = count + 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return count
`)

// RateLimitRedisStore is a Redis implementation of ratelimit.Store shared by
// every instance. Each key is a sorted set of request timestamps.
type RateLimitRedisStore struct {
	client *redis.Client
	prefix string
}

// NewRateLimitRedisStore creates a new Redis-backed rate limit store.
func NewRateLimitRedisStore(client *redis.Client) *RateLimitRedisStore {
	return &RateLimitRedisStore{
		client: client,
		prefix: "ratelimit:",
	}
}

func (s *RateLimitRedisStore) Record(ctx context.Context, key string, window time.Duration, limit int64) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	// unique member so concurrent requests in the same microsecond both count
	return recordScript.Run(ctx, s.client, []string{s.prefix + key},
		strconv.FormatInt(cutoff.UnixMicro(), 10),
		strconv.FormatInt(now.UnixMicro(), 10),
		uuid.NewString(),
		limit,
		window.Milliseconds(),
	).Int64()
}
