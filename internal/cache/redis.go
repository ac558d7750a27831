package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// Redis is a Cache shared by every instance. Backend errors are logged and
// reported as misses so reads fall through to the store.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	logger  *zap.Logger
	metrics *Metrics
}

// NewRedis creates a Redis-backed resolution cache.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger, metrics *Metrics) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Redis{
		client:  client,
		prefix:  "resolve:",
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func (r *Redis) Lookup(ctx context.Context, code shortener.Code) (string, bool) {
	destination, _, ok := r.LookupTTL(ctx, code)

	return destination, ok
}

// LookupTTL returns the cached destination together with its remaining lifetime.
func (r *Redis) LookupTTL(ctx context.Context, code shortener.Code) (string, time.Duration, bool) {
	key := r.prefix + string(code)

	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache lookup failed", zap.String("code", string(code)), zap.Error(err))
			r.metrics.failed(tierRedis)
		}

		r.metrics.lookup(tierRedis, false)

		return "", 0, false
	}

	r.metrics.lookup(tierRedis, true)

	return get.Val(), ttl.Val(), true
}

func (r *Redis) Populate(ctx context.Context, code shortener.Code, destination string, ttl time.Duration) {
	if ttl <= 0 || ttl > r.ttl {
		ttl = r.ttl
	}

	if err := r.client.Set(ctx, r.prefix+string(code), destination, ttl).Err(); err != nil {
		r.logger.Warn("redis cache populate failed", zap.String("code", string(code)), zap.Error(err))
		r.metrics.failed(tierRedis)
	}
}

func (r *Redis) Invalidate(ctx context.Context, code shortener.Code) {
	if err := r.client.Del(ctx, r.prefix+string(code)).Err(); err != nil {
		r.logger.Warn("redis cache invalidate failed", zap.String("code", string(code)), zap.Error(err))
		r.metrics.failed(tierRedis)

		return
	}

	r.metrics.invalidated(tierRedis)
}

// Compile-time check.
var _ Cache = (*Redis)(nil)
