package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"sdkbridge/envelope"
)

// RateLimitMiddleware throttles calls with a token bucket. The native host
// enforces its own per-session rate limits; throttling on this side keeps a
// chatty caller from tripping them. Calls wait for a token rather than fail;
// the executor's calls are blocking by contract anyway.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Message) *envelope.Message {
			if err := limiter.Wait(ctx); err != nil {
				return &envelope.Message{
					ID:           req.ID,
					Target:       req.Target,
					Status:       envelope.StatusError,
					ErrorKind:    "invalid_state",
					ErrorMessage: "call canceled while rate limited",
				}
			}
			return next(ctx, req)
		}
	}
}
