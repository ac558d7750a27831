package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

const memoryShards = 32

type memoryShard struct {
	mu    sync.RWMutex
	links map[shortener.Code]*shortener.Link
}

// MemoryStore is an in-memory implementation of shortener.Repository.
// Links are partitioned by code so writes to different codes never share a lock.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	nextID atomic.Int64
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory link store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{now: time.Now}

	for i := range m.shards {
		m.shards[i] = &memoryShard{links: make(map[shortener.Code]*shortener.Link)}
	}

	return m
}

func (m *MemoryStore) shard(code shortener.Code) *memoryShard {
	return m.shards[code.Shard(memoryShards)]
}

func (m *MemoryStore) Create(_ context.Context, code shortener.Code, destination string) (*shortener.Link, error) {
	if err := shortener.ValidateNew(code, destination); err != nil {
		return nil, err
	}

	s := m.shard(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[code]; ok {
		return nil, shortener.ErrConflict
	}

	link := &shortener.Link{
		ID:          m.nextID.Add(1),
		Code:        code,
		Destination: destination,
		CreatedAt:   m.now().UTC(),
	}
	s.links[code] = link

	return link.Clone(), nil
}

func (m *MemoryStore) GetByCode(_ context.Context, code shortener.Code) (*shortener.Link, error) {
	s := m.shard(code)

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[code]
	if !ok {
		return nil, shortener.ErrNotFound
	}

	return link.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*shortener.Link, error) {
	var links []*shortener.Link

	for _, s := range m.shards {
		s.mu.RLock()
		for _, link := range s.links {
			links = append(links, link.Clone())
		}
		s.mu.RUnlock()
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID > links[j].ID
		}

		return links[i].CreatedAt.After(links[j].CreatedAt)
	})

	return links, nil
}

func (m *MemoryStore) Delete(_ context.Context, code shortener.Code) error {
	s := m.shard(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[code]; !ok {
		return shortener.ErrNotFound
	}

	delete(s.links, code)

	return nil
}

func (m *MemoryStore) IncrementClicks(
	_ context.Context, code shortener.Code, count int64, lastAccessedAt time.Time,
) error {
	if count < 0 {
		return fmt.Errorf("%w: negative click delta %d", shortener.ErrInvalidArgument, count)
	}

	s := m.shard(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok {
		return shortener.ErrNotFound
	}

	link.ClickCount += count

	if link.LastAccessedAt == nil || lastAccessedAt.After(*link.LastAccessedAt) {
		ts := lastAccessedAt.UTC()
		link.LastAccessedAt = &ts
	}

	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Compile-time check.
var _ shortener.Repository = (*MemoryStore)(nil)
