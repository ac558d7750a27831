//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRedisCacheIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 14})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	c := cache.NewRedis(client, time.Minute, zap.NewNop(), nil)

	t.Run("populate then lookup reports remaining ttl", func(t *testing.T) {
		c.Populate(ctx, "rcache01", testURL, 10*time.Second)

		dest, remaining, ok := c.LookupTTL(ctx, "rcache01")

		assert.True(t, ok)
		assert.Equal(t, testURL, dest)
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, 10*time.Second)
	})

	t.Run("invalidate removes entry", func(t *testing.T) {
		c.Populate(ctx, "rcache02", testURL, 0)
		c.Invalidate(ctx, "rcache02")

		_, ok := c.Lookup(ctx, "rcache02")
		assert.False(t, ok)
	})

	t.Run("unreachable redis degrades to a miss", func(t *testing.T) {
		dead := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
		defer dead.Close()

		degraded := cache.NewRedis(dead, time.Minute, zap.NewNop(), nil)

		_, ok := degraded.Lookup(ctx, "rcache03")
		assert.False(t, ok)
	})
}
