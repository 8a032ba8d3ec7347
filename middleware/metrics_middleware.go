package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"mini-ws/result"
)

// MetricsMiddleware counts requests per op code and outcome and records their
// duration. Series are registered in the default VictoriaMetrics set.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *result.Result {
			start := time.Now()
			res := next(ctx, req)

			op := uint32(req.Message.OpCode)
			metrics.GetOrCreateCounter(fmt.Sprintf(`miniws_requests_total{op_code="%d",outcome=%q}`, op, outcome(res))).Inc()
			metrics.GetOrCreateHistogram(fmt.Sprintf(`miniws_request_duration_seconds{op_code="%d"}`, op)).UpdateDuration(start)
			return res
		}
	}
}

func outcome(res *result.Result) string {
	switch {
	case res.IsFault():
		return fmt.Sprintf("status_%d", res.StatusCode)
	case !res.Success:
		return "rejected"
	default:
		return "ok"
	}
}
