package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/accounting"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/events"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const origin = "instance-a"

func TestChangePublisher(t *testing.T) {
	t.Run("publishes the change with origin", func(t *testing.T) {
		var got *events.LinkChangedEvent

		publish := func(_ context.Context, e *events.LinkChangedEvent) error {
			got = e

			return nil
		}

		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		handler := events.ChangePublisher(publish, origin, zap.NewNop())
		handler(context.Background(), shortener.Change{Kind: shortener.ChangeDeleted, Code: "abc123", At: at})

		require.NotNil(t, got)
		assert.Equal(t, events.LinkChangedEvent{
			Kind:   shortener.ChangeDeleted,
			Code:   "abc123",
			At:     at,
			Origin: origin,
		}, *got)
	})

	t.Run("logs publish failures", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		publish := func(context.Context, *events.LinkChangedEvent) error { return errors.New("bus down") }

		handler := events.ChangePublisher(publish, origin, zap.New(core))
		handler(context.Background(), shortener.Change{Kind: shortener.ChangeCreated, Code: "abc123"})

		assert.Equal(t, 1, logs.FilterMessage("failed to publish link change").Len())
	})
}

func TestFlushPublisher(t *testing.T) {
	var got *events.ClicksFlushedEvent

	publish := func(_ context.Context, e *events.ClicksFlushedEvent) error {
		got = e

		return nil
	}

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hook := events.FlushPublisher(publish, origin, zap.NewNop())
	hook(context.Background(), []accounting.Delta{{Code: "abc123", Count: 3, LastAccessedAt: at}})

	require.NotNil(t, got)
	assert.Equal(t, origin, got.Origin)
	assert.Equal(t, []events.ClickCount{{Code: "abc123", Count: 3, LastAccessedAt: at}}, got.Clicks)
}

func TestInvalidateHandler(t *testing.T) {
	newCache := func(t *testing.T) *cache.Local {
		t.Helper()

		c := cache.NewLocal(cache.LocalConfig{TTL: time.Minute}, nil)
		t.Cleanup(func() { _ = c.Shutdown() })
		c.Populate(context.Background(), "abc123", "https://example.com", 0)

		return c
	}

	t.Run("invalidates changes from peers", func(t *testing.T) {
		c := newCache(t)
		handler := events.InvalidateHandler(c, origin)

		err := handler(context.Background(), &events.LinkChangedEvent{Kind: shortener.ChangeDeleted, Code: "abc123", Origin: "instance-b"})

		require.NoError(t, err)

		_, ok := c.Lookup(context.Background(), "abc123")
		assert.False(t, ok)
	})

	t.Run("ignores its own changes", func(t *testing.T) {
		c := newCache(t)
		handler := events.InvalidateHandler(c, origin)

		err := handler(context.Background(), &events.LinkChangedEvent{Kind: shortener.ChangeDeleted, Code: "abc123", Origin: origin})

		require.NoError(t, err)

		_, ok := c.Lookup(context.Background(), "abc123")
		assert.True(t, ok)
	})
}

func TestAuditHandlers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	require.NoError(t, events.LinkAuditHandler(logger)(context.Background(),
		&events.LinkChangedEvent{Kind: shortener.ChangeCreated, Code: "abc123", Origin: origin}))
	require.NoError(t, events.ClickAuditHandler(logger)(context.Background(),
		&events.ClicksFlushedEvent{Origin: origin, Clicks: []events.ClickCount{{Code: "abc123", Count: 2}, {Code: "xyz789", Count: 5}}}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "link changed", entries[0].Message)
	assert.Equal(t, int64(7), entries[1].ContextMap()["clicks"])
}
