package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sdkbridge/envelope"
)

// LoggingMiddleware records every call's target, duration and outcome.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Message) *envelope.Message {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.Status == envelope.StatusError {
				log.Warn("call failed",
					zap.String("target", req.Target),
					zap.String("error_kind", resp.ErrorKind),
					zap.String("error", resp.ErrorMessage),
					zap.Duration("duration", duration))
			} else {
				log.Debug("call completed",
					zap.String("target", req.Target),
					zap.Duration("duration", duration))
			}
			return resp
		}
	}
}
