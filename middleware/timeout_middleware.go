package middleware

import (
	"context"
	"time"

	"mini-ws/result"
)

// TimeOutMiddleware bounds the whole request, including time spent in later
// middleware, with a context deadline.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *result.Result {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *result.Result, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case res := <-done:
				return res
			case <-ctx.Done():
				return result.Timeout(req.Expect)
			}
		}
	}
}
