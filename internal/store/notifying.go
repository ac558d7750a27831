package store

import (
	"context"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

// NotifyingStore wraps a Repository and reports every committed create and
// delete to its handlers before returning. Cache invalidation hangs off this
// write path so callers cannot forget it.
type NotifyingStore struct {
	shortener.Repository

	handlers []shortener.ChangeHandler
	now      func() time.Time
}

// NewNotifyingStore creates a repository decorator that emits changes to handlers.
func NewNotifyingStore(store shortener.Repository, handlers ...shortener.ChangeHandler) *NotifyingStore {
	return &NotifyingStore{
		Repository: store,
		handlers:   handlers,
		now:        time.Now,
	}
}

// Create stores the link and notifies handlers that the code now resolves.
func (s *NotifyingStore) Create(ctx context.Context, code shortener.Code, destination string) (*shortener.Link, error) {
	link, err := s.Repository.Create(ctx, code, destination)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, shortener.ChangeCreated, code)

	return link, nil
}

// Delete removes the link and notifies handlers that the code is gone.
func (s *NotifyingStore) Delete(ctx context.Context, code shortener.Code) error {
	if err := s.Repository.Delete(ctx, code); err != nil {
		return err
	}

	s.notify(ctx, shortener.ChangeDeleted, code)

	return nil
}

func (s *NotifyingStore) notify(ctx context.Context, kind shortener.ChangeKind, code shortener.Code) {
	// The write already committed; a canceled request must not skip invalidation.
	ctx = context.WithoutCancel(ctx)
	change := shortener.Change{Kind: kind, Code: code, At: s.now().UTC()}

	for _, h := range s.handlers {
		h(ctx, change)
	}
}

// Ping forwards to the wrapped store when it supports health checks.
func (s *NotifyingStore) Ping(ctx context.Context) error {
	if p, ok := s.Repository.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}

	return nil
}

// Compile-time check.
var _ shortener.Repository = (*NotifyingStore)(nil)
