// Package middleware wraps the worker's message handler.
//
// Middlewares run on the worker's single goroutine, in the order they were
// added, around the dispatch of one decoded request. None of them may hand a
// request to another goroutine: at most one message is ever in flight.
package middleware

import (
	"context"

	"pipeworker/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one given is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
