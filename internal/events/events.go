// Package events defines the messages instances exchange about links and the
// handlers that produce and consume them.
package events

import (
	"context"
	"time"

	"github.com/serroba/shortlink/internal/accounting"
	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

const (
	TopicLinkChanged   = "links.changed"
	TopicClicksFlushed = "clicks.flushed"
)

// LinkChangedEvent is published after a link is created or deleted.
type LinkChangedEvent struct {
	Kind   shortener.ChangeKind `json:"kind"`
	Code   string               `json:"code"`
	At     time.Time            `json:"at"`
	Origin string               `json:"origin"`
}

// ClickCount is one code's share of a flush.
type ClickCount struct {
	Code           string    `json:"code"`
	Count          int64     `json:"count"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// ClicksFlushedEvent is published after the accountant persists a batch.
type ClicksFlushedEvent struct {
	Origin    string       `json:"origin"`
	FlushedAt time.Time    `json:"flushedAt"`
	Clicks    []ClickCount `json:"clicks"`
}

// ChangePublisher forwards committed store changes to the bus. Publish
// failures are logged; peers fall back to cache expiry.
func ChangePublisher(publish messaging.Publish[LinkChangedEvent], origin string, logger *zap.Logger) shortener.ChangeHandler {
	return func(ctx context.Context, change shortener.Change) {
		event := &LinkChangedEvent{
			Kind:   change.Kind,
			Code:   string(change.Code),
			At:     change.At,
			Origin: origin,
		}

		if err := publish(ctx, event); err != nil {
			logger.Error("failed to publish link change",
				zap.String("code", event.Code),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
		}
	}
}

// FlushPublisher reports persisted click batches.
func FlushPublisher(publish messaging.Publish[ClicksFlushedEvent], origin string, logger *zap.Logger) accounting.FlushHook {
	return func(ctx context.Context, applied []accounting.Delta) {
		event := &ClicksFlushedEvent{
			Origin:    origin,
			FlushedAt: time.Now().UTC(),
			Clicks:    make([]ClickCount, 0, len(applied)),
		}

		for _, d := range applied {
			event.Clicks = append(event.Clicks, ClickCount{
				Code:           string(d.Code),
				Count:          d.Count,
				LastAccessedAt: d.LastAccessedAt,
			})
		}

		if err := publish(ctx, event); err != nil {
			logger.Warn("failed to publish click flush",
				zap.Int("codes", len(event.Clicks)),
				zap.Error(err),
			)
		}
	}
}

// InvalidateHandler drops codes changed by other instances from the local
// cache. Events from this instance are skipped because the write path already
// invalidated synchronously.
func InvalidateHandler(c cache.Cache, origin string) messaging.Handler[LinkChangedEvent] {
	return func(ctx context.Context, event *LinkChangedEvent) error {
		if event.Origin == origin {
			return nil
		}

		c.Invalidate(ctx, shortener.Code(event.Code))

		return nil
	}
}

// LinkAuditHandler logs link lifecycle events.
func LinkAuditHandler(logger *zap.Logger) messaging.Handler[LinkChangedEvent] {
	return func(_ context.Context, event *LinkChangedEvent) error {
		logger.Info("link changed",
			zap.String("kind", string(event.Kind)),
			zap.String("code", event.Code),
			zap.Time("at", event.At),
			zap.String("origin", event.Origin),
		)

		return nil
	}
}

// ClickAuditHandler logs persisted click batches.
func ClickAuditHandler(logger *zap.Logger) messaging.Handler[ClicksFlushedEvent] {
	return func(_ context.Context, event *ClicksFlushedEvent) error {
		var total int64
		for _, c := range event.Clicks {
			total += c.Count
		}

		logger.Info("clicks flushed",
			zap.String("origin", event.Origin),
			zap.Int("codes", len(event.Clicks)),
			zap.Int64("clicks", total),
			zap.Time("flushed_at", event.FlushedAt),
		)

		return nil
	}
}
