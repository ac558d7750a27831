package ratelimit

import (
	"context"
	"time"
)

// Store keeps sliding window request logs.
type Store interface {
	// Record adds a request under key and returns how many requests fall in
	// the trailing window, including this one. Once the window holds more
	// than limit requests further ones are not logged and the count stays
	// at limit+1.
	Record(ctx context.Context, key string, window time.Duration, limit int64) (count int64, err error)
}
