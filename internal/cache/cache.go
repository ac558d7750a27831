// Package cache holds the resolution cache that absorbs redirect reads in
// front of the link store.
//
// Entries live for at most their TTL. Deletes invalidate the local instance
// synchronously; peers see the delete through the event bus or, failing that,
// when their copy expires, so a deleted code can redirect elsewhere for at
// most one TTL.
package cache

import (
	"context"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

// Cache maps codes to destinations for a bounded time.
type Cache interface {
	Lookup(ctx context.Context, code shortener.Code) (string, bool)
	// Populate stores destination for ttl; a non-positive ttl means the cache default.
	Populate(ctx context.Context, code shortener.Code, destination string, ttl time.Duration)
	Invalidate(ctx context.Context, code shortener.Code)
}

// Invalidator adapts a Cache to the store's change notifications.
func Invalidator(c Cache) shortener.ChangeHandler {
	return func(ctx context.Context, change shortener.Change) {
		c.Invalidate(ctx, change.Code)
	}
}
