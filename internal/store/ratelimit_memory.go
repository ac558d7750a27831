package store

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	rateLimitShards = 32
	// sweepEvery is the number of recorded requests per shard between idle key sweeps.
	sweepEvery = 1024
)

type requestLog struct {
	times  []time.Time
	window time.Duration
}

type rateLimitShard struct {
	mu      sync.Mutex
	logs    map[string]*requestLog
	records int
}

// RateLimitMemoryStore keeps sliding window logs for a single instance.
// Keys are partitioned so clients never contend on one lock.
type RateLimitMemoryStore struct {
	shards [rateLimitShards]*rateLimitShard
	now    func() time.Time
}

func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	s := &RateLimitMemoryStore{now: time.Now}

	for i := range s.shards {
		s.shards[i] = &rateLimitShard{logs: make(map[string]*requestLog)}
	}

	return s
}

func (s *RateLimitMemoryStore) shard(key string) *rateLimitShard {
	return s.shards[xxhash.Sum64String(key)%rateLimitShards]
}

// Record logs a request unless the window already holds more than limit
// entries, so a single log never grows past limit+1.
func (s *RateLimitMemoryStore) Record(_ context.Context, key string, window time.Duration, limit int64) (int64, error) {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()

	log, ok := sh.logs[key]
	if !ok {
		log = &requestLog{}
		sh.logs[key] = log
	}

	log.window = window
	log.times = prune(log.times, now.Add(-window))

	if int64(len(log.times)) <= limit {
		log.times = append(log.times, now)
	}

	sh.records++
	if sh.records%sweepEvery == 0 {
		sh.sweep(now)
	}

	return int64(len(log.times)), nil
}

// Len returns the number of keys currently tracked.
func (s *RateLimitMemoryStore) Len() int {
	n := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.logs)
		sh.mu.Unlock()
	}

	return n
}

// Entries returns how many timestamps are held for key.
func (s *RateLimitMemoryStore) Entries(key string) int {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if log, ok := sh.logs[key]; ok {
		return len(log.times)
	}

	return 0
}

// sweep drops keys whose newest request has left the window.
func (sh *rateLimitShard) sweep(now time.Time) {
	for key, log := range sh.logs {
		if n := len(log.times); n == 0 || !log.times[n-1].After(now.Add(-log.window)) {
			delete(sh.logs, key)
		}
	}
}

// prune drops timestamps at or before cutoff. times is ordered oldest first.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}

	return times[i:]
}
