package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pipeworker/message"
)

// Logging logs every handled request with its duration. Failures are logged
// at warn level with their diagnostic.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("type", req.Type),
				zap.String("target", req.Describe()),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				logger.Warn("message failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("message handled", fields...)
			}
			return resp
		}
	}
}
