package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"pipeworker/message"
)

// RateLimit throttles requests with a token bucket. A request waits for a
// token instead of being rejected; only a cancelled context fails it.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if err := limiter.Wait(ctx); err != nil {
				return req.Fail(message.NewError(kindFor(req), "rate limit", errors.Wrap(err, "waiting for token")))
			}
			return next(ctx, req)
		}
	}
}

func kindFor(req *message.Request) message.Kind {
	if req.Type == message.TypeLoad {
		return message.KindLoad
	}
	return message.KindInvoke
}
