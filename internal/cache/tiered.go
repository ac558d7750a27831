package cache

import (
	"context"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

// Remote is a shared cache tier that can report an entry's remaining lifetime.
type Remote interface {
	Cache
	LookupTTL(ctx context.Context, code shortener.Code) (string, time.Duration, bool)
}

// Tiered consults the local cache first and a shared remote tier on a miss.
type Tiered struct {
	local  *Local
	remote Remote
}

// NewTiered creates a two-level cache.
func NewTiered(local *Local, remote Remote) *Tiered {
	return &Tiered{local: local, remote: remote}
}

func (t *Tiered) Lookup(ctx context.Context, code shortener.Code) (string, bool) {
	if destination, ok := t.local.Lookup(ctx, code); ok {
		return destination, true
	}

	destination, remaining, ok := t.remote.LookupTTL(ctx, code)
	if !ok {
		return "", false
	}

	// Copy with the remaining lifetime so the two tiers together never
	// serve an entry for longer than one TTL.
	if remaining > 0 {
		t.local.Populate(ctx, code, destination, remaining)
	}

	return destination, true
}

func (t *Tiered) Populate(ctx context.Context, code shortener.Code, destination string, ttl time.Duration) {
	t.local.Populate(ctx, code, destination, ttl)
	t.remote.Populate(ctx, code, destination, ttl)
}

func (t *Tiered) Invalidate(ctx context.Context, code shortener.Code) {
	t.local.Invalidate(ctx, code)
	t.remote.Invalidate(ctx, code)
}

// Shutdown stops the local tier.
func (t *Tiered) Shutdown() error {
	return t.local.Shutdown()
}

// Compile-time check.
var _ Cache = (*Tiered)(nil)
