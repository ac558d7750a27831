package shortener

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// Code represents a short link code.
type Code string

// Shard maps the code onto one of n partitions.
func (c Code) Shard(n int) int {
	return int(xxhash.Sum64String(string(c)) % uint64(n))
}

// Link maps a short code to its destination along with its click accounting state.
type Link struct {
	ID             int64
	Code           Code
	Destination    string
	ClickCount     int64
	LastAccessedAt *time.Time // nil until the first resolution
	CreatedAt      time.Time
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (l *Link) Clone() *Link {
	c := *l

	if l.LastAccessedAt != nil {
		t := *l.LastAccessedAt
		c.LastAccessedAt = &t
	}

	return &c
}
