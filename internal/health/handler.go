// Package health reports the reachability of the service's dependencies.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/ratelimit"
	"golang.org/x/sync/errgroup"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	Healthy   = "healthy"
	Unhealthy = "unhealthy"

	defaultTimeout = 2 * time.Second
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// RedisChecker adapts redis.Client to Checker.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Handler pings every registered dependency concurrently.
type Handler struct {
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHandler creates a health handler over named checkers.
func NewHandler(checkers map[string]Checker) *Handler {
	return &Handler{checkers: checkers, timeout: defaultTimeout}
}

// Response is the response for the health check endpoint.
type Response struct {
	Body struct {
		Status       string            `doc:"ok when every dependency is healthy" example:"ok" json:"status"`
		Dependencies map[string]string `doc:"Per-dependency status"                            json:"dependencies"`
	}
}

// Check pings each dependency. The endpoint always answers 200 so that a
// degraded cache or bus does not pull the instance out of rotation.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}

	// one unhealthy dependency must not cancel the others' pings
	var g errgroup.Group

	statuses := make([]string, len(names))

	for i, name := range names {
		g.Go(func() error {
			statuses[i] = Healthy
			if err := h.checkers[name].Ping(ctx); err != nil {
				statuses[i] = Unhealthy
			}

			return nil
		})
	}

	_ = g.Wait()

	results := make(map[string]string, len(names))
	for i, name := range names {
		results[name] = statuses[i]
	}

	resp := &Response{}
	resp.Body.Status = StatusOK
	resp.Body.Dependencies = results

	for _, status := range results {
		if status != Healthy {
			resp.Body.Status = StatusDegraded
		}
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		},
	}, h.Check)
}
