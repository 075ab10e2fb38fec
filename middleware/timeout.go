package middleware

import (
	"context"
	"time"

	"pipeworker/message"
)

// Timeout gives each request a deadline through its context. The handler
// still runs to completion on the calling goroutine: callables that accept a
// context may observe the deadline, the worker never abandons them.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
