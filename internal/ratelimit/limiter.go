package ratelimit

import (
	"context"
	"fmt"
)

// Request identifies what is being rate limited.
type Request struct {
	Client string
	Method string
	// Route is the operation's path template, so every code shares one budget.
	Route    string
	Endpoint EndpointConfig
}

// Decision reports the outcome of a check. When Allowed is false, Scope and
// Limit describe the first limit exceeded.
type Decision struct {
	Allowed bool
	Scope   Scope
	Limit   LimitConfig
	Count   int64
}

// Limiter applies a Policy, or per-endpoint limits, over a sliding window Store.
type Limiter struct {
	store  Store
	policy *Policy
}

func NewLimiter(store Store, policy *Policy) *Limiter {
	if policy == nil {
		policy = DefaultPolicy()
	}

	return &Limiter{store: store, policy: policy}
}

// Check records the request against every applicable limit and stops at the
// first one exceeded.
func (l *Limiter) Check(ctx context.Context, req Request) (Decision, error) {
	if req.Endpoint.Disabled {
		return Decision{Allowed: true}, nil
	}

	if len(req.Endpoint.Limits) > 0 {
		return l.check(ctx, req.Client+":route:"+req.Route, "", req.Endpoint.Limits)
	}

	for _, scope := range Scopes(req.Method, req.Endpoint) {
		d, err := l.check(ctx, req.Client+":"+string(scope), scope, l.policy.Limits[scope])
		if err != nil || !d.Allowed {
			return d, err
		}
	}

	return Decision{Allowed: true}, nil
}

func (l *Limiter) check(ctx context.Context, prefix string, scope Scope, limits []LimitConfig) (Decision, error) {
	for _, limit := range limits {
		key := fmt.Sprintf("%s:%d", prefix, limit.Window.Milliseconds())

		count, err := l.store.Record(ctx, key, limit.Window, limit.Max)
		if err != nil {
			return Decision{}, fmt.Errorf("record %s: %w", key, err)
		}

		if count > limit.Max {
			return Decision{Scope: scope, Limit: limit, Count: count}, nil
		}
	}

	return Decision{Allowed: true}, nil
}
