package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Record(context.Context, string, time.Duration, int64) (int64, error) {
	return 0, errors.New("store unavailable")
}

func testPolicy() *ratelimit.Policy {
	return &ratelimit.Policy{
		Limits: map[ratelimit.Scope][]ratelimit.LimitConfig{
			ratelimit.ScopeGlobal: {{Window: time.Minute, Max: 100}},
			ratelimit.ScopeRead:   {{Window: time.Minute, Max: 3}},
			ratelimit.ScopeWrite:  {{Window: time.Minute, Max: 1}},
		},
	}
}

func TestLimiter_Policy(t *testing.T) {
	t.Run("allows requests under the scope limit", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())
		req := ratelimit.Request{Client: "client1", Method: http.MethodGet}

		for range 3 {
			d, err := limiter.Check(context.Background(), req)

			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
	})

	t.Run("reports the exceeded scope", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())
		req := ratelimit.Request{Client: "client1", Method: http.MethodPost}

		d, err := limiter.Check(context.Background(), req)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = limiter.Check(context.Background(), req)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ratelimit.ScopeWrite, d.Scope)
		assert.Equal(t, int64(2), d.Count)
		assert.Equal(t, int64(1), d.Limit.Max)
	})

	t.Run("a sustained flood holds each log at one past its limit", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()
		limiter := ratelimit.NewLimiter(s, testPolicy())
		req := ratelimit.Request{Client: "client1", Method: http.MethodPost}

		var d ratelimit.Decision

		for range 500 {
			d, _ = limiter.Check(context.Background(), req)
		}

		assert.False(t, d.Allowed)
		assert.Equal(t, ratelimit.ScopeGlobal, d.Scope)
		assert.Equal(t, int64(101), d.Count)
		assert.Equal(t, 101, s.Entries("client1:global:60000"))
		assert.Equal(t, 2, s.Entries("client1:write:60000"))
	})

	t.Run("reads and writes have separate budgets", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())

		d, _ := limiter.Check(context.Background(), ratelimit.Request{Client: "client1", Method: http.MethodPost})
		require.True(t, d.Allowed)

		d, err := limiter.Check(context.Background(), ratelimit.Request{Client: "client1", Method: http.MethodGet})

		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("tracks clients independently", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())

		d, _ := limiter.Check(context.Background(), ratelimit.Request{Client: "client1", Method: http.MethodPost})
		require.True(t, d.Allowed)

		d, err := limiter.Check(context.Background(), ratelimit.Request{Client: "client2", Method: http.MethodPost})

		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestLimiter_Endpoint(t *testing.T) {
	t.Run("disabled endpoints are never recorded", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(failingStore{}, testPolicy())

		d, err := limiter.Check(context.Background(), ratelimit.Request{
			Client:   "client1",
			Method:   http.MethodGet,
			Endpoint: ratelimit.EndpointConfig{Disabled: true},
		})

		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("custom limits replace the policy", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())
		req := ratelimit.Request{
			Client: "client1",
			Method: http.MethodGet,
			Route:  "/{code}",
			Endpoint: ratelimit.EndpointConfig{
				Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 5}},
			},
		}

		for range 5 {
			d, err := limiter.Check(context.Background(), req)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "read policy of 3 does not apply")
		}

		d, err := limiter.Check(context.Background(), req)

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Empty(t, d.Scope)
	})

	t.Run("window expiry restores the budget", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), testPolicy())
		req := ratelimit.Request{
			Client: "client1",
			Route:  "/links",
			Endpoint: ratelimit.EndpointConfig{
				Limits: []ratelimit.LimitConfig{{Window: 50 * time.Millisecond, Max: 1}},
			},
		}

		d, _ := limiter.Check(context.Background(), req)
		require.True(t, d.Allowed)

		d, _ = limiter.Check(context.Background(), req)
		require.False(t, d.Allowed)

		time.Sleep(60 * time.Millisecond)

		d, err := limiter.Check(context.Background(), req)

		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("store errors are returned", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(failingStore{}, nil)

		_, err := limiter.Check(context.Background(), ratelimit.Request{Client: "client1", Method: http.MethodGet})

		assert.Error(t, err)
	})
}
