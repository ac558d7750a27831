package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimit rejects requests over the limiter's budget with 429. Per-operation
// overrides are read from ratelimit.MetadataKey in the operation metadata.
//
// When the limiter backend fails the request is let through: an unavailable
// rate limit store must not take redirects down with it.
func RateLimit(api huma.API, limiter *ratelimit.Limiter, logger *zap.Logger) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		endpoint, _ := ratelimit.EndpointConfigFor(op)

		route := ""
		if op != nil {
			route = op.Path
		}

		decision, err := limiter.Check(ctx.Context(), ratelimit.Request{
			Client:   clientKey(ctx),
			Method:   ctx.Method(),
			Route:    route,
			Endpoint: endpoint,
		})
		if err != nil {
			logger.Error("rate limit check failed, allowing request",
				zap.String("route", route),
				zap.Error(err),
			)
			next(ctx)

			return
		}

		if !decision.Allowed {
			logger.Warn("rate limit exceeded",
				zap.String("route", route),
				zap.String("method", ctx.Method()),
				zap.String("scope", string(decision.Scope)),
				zap.Int64("count", decision.Count),
				zap.Int64("max", decision.Limit.Max),
				zap.Duration("window", decision.Limit.Window),
				zap.String("client_ip", ClientIP(ctx)),
			)

			retryAfter := int(math.Ceil(decision.Limit.Window.Seconds()))
			ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))

			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded: %d requests per %s", decision.Limit.Max, decision.Limit.Window))

			return
		}

		next(ctx)
	}
}
