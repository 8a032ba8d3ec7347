// Package middleware wraps outbound requests in a pipeline of cross-cutting steps
// (logging, deadlines, rate limiting, metrics) before they reach the connection.
package middleware

import (
	"context"
	"time"

	"mini-ws/message"
	"mini-ws/result"
)

// Request is one outbound message and the response op code it waits for.
type Request struct {
	Message *message.Message
	Expect  message.OpCode
	Timeout time.Duration // zero means the connection default
}

type HandlerFunc func(ctx context.Context, req *Request) *result.Result

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
