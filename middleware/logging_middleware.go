package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-ws/result"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *result.Result {
			start := time.Now()
			res := next(ctx, req)

			fields := []zap.Field{
				zap.Uint32("op_code", uint32(req.Message.OpCode)),
				zap.Uint32("sub_code", req.Message.Sub()),
				zap.Uint32("expect", uint32(req.Expect)),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("success", res.Success),
			}
			switch {
			case res.IsFault():
				logger.Warn("request failed", append(fields, zap.Int("status_code", res.StatusCode), zap.String("message", res.Message))...)
			case !res.Success:
				logger.Info("request rejected", append(fields, zap.Int64("error_code", res.ErrorCode), zap.String("error_msg", res.ErrorMsg))...)
			default:
				logger.Info("request", fields...)
			}
			return res
		}
	}
}
