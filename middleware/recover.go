package middleware

import (
	"context"
	"runtime/debug"

	"github.com/pkg/errors"

	"pipeworker/message"
)

// Recover turns a panic anywhere below it into a failure Response, so a
// request is always answered.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					resp = req.Fail(&message.Error{
						Kind:  kindFor(req),
						Op:    req.Type,
						Err:   errors.Errorf("panic: %v", r),
						Stack: debug.Stack(),
					})
				}
			}()
			return next(ctx, req)
		}
	}
}
