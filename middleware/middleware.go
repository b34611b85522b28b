// Package middleware wraps the executor's request/response round-trip in an
// onion of cross-cutting concerns (logging, rate limiting).
//
//	Chain(A, B)(roundTrip) → A(B(roundTrip))
//	Execution order: A.before → B.before → roundTrip → B.after → A.after
package middleware

import (
	"context"

	"sdkbridge/envelope"
)

// HandlerFunc processes one call envelope and produces the response
// envelope. The innermost handler is the executor's channel round-trip.
type HandlerFunc func(ctx context.Context, req *envelope.Message) *envelope.Message

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, preserving registration order.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
