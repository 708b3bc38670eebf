package middleware

import (
	"context"
	"math/rand"
	"time"

	"meshrpc/backoff"
	"meshrpc/call"
	"meshrpc/status"
)

// Retry retries opening a call that fails with Unavailable, with
// exponential backoff between attempts. Only stream establishment is
// retried: once a stream exists, messages may have been observed and
// replaying them is not safe.
func Retry(maxAttempts int, bo backoff.Config) Middleware {
	bo = bo.WithDefaults()
	return func(next call.Invoker) call.Invoker {
		return InvokerFunc(func(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			var lastErr error
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				stream, err := next.NewStream(ctx, desc, opts...)
				if err == nil {
					return stream, nil
				}
				if status.CodeOf(err) != status.Unavailable {
					return nil, err
				}
				lastErr = err
				if attempt == maxAttempts {
					break
				}
				select {
				case <-time.After(bo.Delay(attempt, rng)):
				case <-ctx.Done():
					return nil, status.FromContextError(ctx.Err()).Err()
				}
			}
			return nil, lastErr
		})
	}
}
