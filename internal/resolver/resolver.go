// Package resolver combines the link store, the resolution cache and click
// accounting into the operations the HTTP API exposes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/shortlink/internal/cache"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// ErrCodesExhausted is returned when every generated code collided.
var ErrCodesExhausted = errors.New("could not allocate a unique code")

const defaultMaxAttempts = 5

// ClickRecorder accepts resolution events without blocking.
type ClickRecorder interface {
	Record(code shortener.Code, at time.Time)
}

// Config tunes the resolver.
type Config struct {
	// CacheTTL is the lifetime of entries populated on a store hit. Zero uses
	// the cache default.
	CacheTTL time.Duration
	// MaxAttempts bounds code generation retries on conflict.
	MaxAttempts int
}

// Service resolves codes and manages links.
type Service struct {
	store    shortener.Repository
	cache    cache.Cache
	clicks   ClickRecorder
	generate shortener.CodeGenerator
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a resolver. Writes must go through a store that invalidates the
// cache on change; the resolver never invalidates on its own.
func New(
	store shortener.Repository,
	c cache.Cache,
	clicks ClickRecorder,
	generate shortener.CodeGenerator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &Service{
		store:    store,
		cache:    c,
		clicks:   clicks,
		generate: generate,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Resolve returns the destination for code and records the click.
// Malformed codes resolve to ErrNotFound.
func (s *Service) Resolve(ctx context.Context, raw string) (string, error) {
	if !shortener.ValidCode(raw) {
		return "", shortener.ErrNotFound
	}

	code := shortener.Code(raw)

	destination, ok := s.cache.Lookup(ctx, code)
	if !ok {
		link, err := s.store.GetByCode(ctx, code)
		if err != nil {
			return "", err
		}

		destination = link.Destination
		s.cache.Populate(ctx, code, destination, s.cfg.CacheTTL)
	}

	s.clicks.Record(code, s.now())

	return destination, nil
}

// Create stores a link under code, or under a generated code when code is
// empty.
func (s *Service) Create(ctx context.Context, destination, code string) (*shortener.Link, error) {
	if err := shortener.ValidateDestination(destination); err != nil {
		return nil, err
	}

	if code != "" {
		if err := shortener.ValidateCode(shortener.Code(code)); err != nil {
			return nil, err
		}

		return s.store.Create(ctx, shortener.Code(code), destination)
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		candidate := s.generate()

		link, err := s.store.Create(ctx, candidate, destination)
		if err == nil {
			return link, nil
		}

		if !errors.Is(err, shortener.ErrConflict) {
			return nil, err
		}

		s.logger.Debug("generated code collided",
			zap.String("code", string(candidate)),
			zap.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrCodesExhausted, s.cfg.MaxAttempts)
}

// Get returns the stored link for code, including its click statistics.
func (s *Service) Get(ctx context.Context, raw string) (*shortener.Link, error) {
	if !shortener.ValidCode(raw) {
		return nil, shortener.ErrNotFound
	}

	return s.store.GetByCode(ctx, shortener.Code(raw))
}

// List returns every link, newest first.
func (s *Service) List(ctx context.Context) ([]*shortener.Link, error) {
	return s.store.List(ctx)
}

// Delete removes the link for code.
func (s *Service) Delete(ctx context.Context, raw string) error {
	if !shortener.ValidCode(raw) {
		return shortener.ErrNotFound
	}

	return s.store.Delete(ctx, shortener.Code(raw))
}
