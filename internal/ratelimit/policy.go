package ratelimit

import "time"

// LimitConfig allows Max requests per sliding Window.
type LimitConfig struct {
	Window time.Duration
	Max    int64
}

// Policy maps each scope to the limits every client must stay under.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// DefaultPolicy is generous on reads, where redirects dominate, and strict on
// writes.
func DefaultPolicy() *Policy {
	return &Policy{
		Limits: map[Scope][]LimitConfig{
			ScopeGlobal: {
				{Window: time.Minute, Max: 6000},
			},
			ScopeRead: {
				{Window: time.Second, Max: 200},
				{Window: time.Minute, Max: 3000},
			},
			ScopeWrite: {
				{Window: time.Minute, Max: 30},
				{Window: time.Hour, Max: 500},
			},
		},
	}
}
