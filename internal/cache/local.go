package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/serroba/shortlink/internal/shortener"
)

const (
	defaultShards = 64
	defaultTTL    = time.Minute
)

// LocalConfig configures the in-process cache.
type LocalConfig struct {
	// TTL is both the default and the maximum lifetime of an entry.
	TTL time.Duration
	// MaxEntries caps the total entry count with per-shard LRU eviction.
	// Zero leaves the cache bounded by TTL only.
	MaxEntries int
	// Shards is the number of independently locked partitions.
	Shards int
	// SweepInterval controls how often expired entries are purged.
	// Defaults to TTL.
	SweepInterval time.Duration
}

type entry struct {
	destination string
	expiresAt   time.Time
}

type shard interface {
	get(code shortener.Code) (entry, bool)
	set(code shortener.Code, e entry)
	remove(code shortener.Code)
	removeExpired(code shortener.Code, now time.Time)
	sweep(now time.Time)
	len() int
}

// mapShard serves reads under a read lock so lookups never wait on each other.
type mapShard struct {
	mu      sync.RWMutex
	entries map[shortener.Code]entry
}

func (s *mapShard) get(code shortener.Code) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[code]

	return e, ok
}

func (s *mapShard) set(code shortener.Code, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[code] = e
}

func (s *mapShard) remove(code shortener.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, code)
}

func (s *mapShard) removeExpired(code shortener.Code, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// re-check: a populate may have landed since the read
	if e, ok := s.entries[code]; ok && now.After(e.expiresAt) {
		delete(s.entries, code)
	}
}

func (s *mapShard) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, code)
		}
	}
}

func (s *mapShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// lruShard is used when the entry count is capped. Get moves entries to the
// front, so reads take the write lock.
type lruShard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[shortener.Code, entry]
}

func newLRUShard(size int) *lruShard {
	l, _ := simplelru.NewLRU[shortener.Code, entry](size, nil) // size is always positive

	return &lruShard{lru: l}
}

func (s *lruShard) get(code shortener.Code) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Get(code)
}

func (s *lruShard) set(code shortener.Code, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Add(code, e)
}

func (s *lruShard) remove(code shortener.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Remove(code)
}

func (s *lruShard) removeExpired(code shortener.Code, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lru.Peek(code); ok && now.After(e.expiresAt) {
		s.lru.Remove(code)
	}
}

func (s *lruShard) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.lru.Keys() {
		if e, ok := s.lru.Peek(code); ok && now.After(e.expiresAt) {
			s.lru.Remove(code)
		}
	}
}

func (s *lruShard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Len()
}

// Local is an in-process Cache partitioned by code.
type Local struct {
	shards  []shard
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLocal creates an in-process cache and starts its expiry sweeper.
func NewLocal(cfg LocalConfig, metrics *Metrics) *Local {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL
	}

	l := &Local{
		shards:  make([]shard, cfg.Shards),
		ttl:     cfg.TTL,
		now:     time.Now,
		metrics: metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	perShard := 0
	if cfg.MaxEntries > 0 {
		perShard = max(1, (cfg.MaxEntries+cfg.Shards-1)/cfg.Shards)
	}

	for i := range l.shards {
		if perShard > 0 {
			l.shards[i] = newLRUShard(perShard)
		} else {
			l.shards[i] = &mapShard{entries: make(map[shortener.Code]entry)}
		}
	}

	go l.sweepLoop(cfg.SweepInterval)

	return l
}

func (l *Local) shard(code shortener.Code) shard {
	return l.shards[code.Shard(len(l.shards))]
}

func (l *Local) Lookup(_ context.Context, code shortener.Code) (string, bool) {
	s := l.shard(code)

	e, ok := s.get(code)
	if !ok {
		l.metrics.lookup(tierLocal, false)

		return "", false
	}

	if now := l.now(); now.After(e.expiresAt) {
		s.removeExpired(code, now)
		l.metrics.lookup(tierLocal, false)

		return "", false
	}

	l.metrics.lookup(tierLocal, true)

	return e.destination, true
}

func (l *Local) Populate(_ context.Context, code shortener.Code, destination string, ttl time.Duration) {
	if ttl <= 0 || ttl > l.ttl {
		ttl = l.ttl
	}

	l.shard(code).set(code, entry{destination: destination, expiresAt: l.now().Add(ttl)})
}

func (l *Local) Invalidate(_ context.Context, code shortener.Code) {
	l.shard(code).remove(code)
	l.metrics.invalidated(tierLocal)
}

// Len returns the number of entries currently held, including expired ones
// not yet purged.
func (l *Local) Len() int {
	n := 0
	for _, s := range l.shards {
		n += s.len()
	}

	return n
}

func (l *Local) sweepLoop(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := l.now()
			for _, s := range l.shards {
				s.sweep(now)
			}
		}
	}
}

// Shutdown stops the expiry sweeper.
func (l *Local) Shutdown() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	return nil
}

// Compile-time check.
var _ Cache = (*Local)(nil)
