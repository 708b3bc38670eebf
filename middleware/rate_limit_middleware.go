package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"meshrpc/call"
	"meshrpc/status"
)

// RateLimit rejects calls beyond a token-bucket rate with
// ResourceExhausted, without blocking.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next call.Invoker) call.Invoker {
		return InvokerFunc(func(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
			if !limiter.Allow() {
				return nil, status.New(status.ResourceExhausted, "rate limit exceeded").Err()
			}
			return next.NewStream(ctx, desc, opts...)
		})
	}
}
