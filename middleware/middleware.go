// Package middleware decorates an Invoker with cross-cutting behavior:
// logging, retries, rate limiting, default deadlines. Middlewares
// compose with Chain and apply equally to a single connection or a
// load-balanced channel.
package middleware

import (
	"context"

	"meshrpc/call"
)

// Middleware wraps an Invoker with additional behavior.
type Middleware func(next call.Invoker) call.Invoker

// InvokerFunc adapts a function to the call.Invoker interface.
type InvokerFunc func(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error)

func (f InvokerFunc) NewStream(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
	return f(ctx, desc, opts...)
}

// Chain combines middlewares into one; the first listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next call.Invoker) call.Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
