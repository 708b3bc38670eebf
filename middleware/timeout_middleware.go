package middleware

import (
	"context"
	"time"

	"meshrpc/call"
)

// Timeout attaches a default deadline to calls that have none. The
// deadline's cancel function lives as long as the call does.
func Timeout(d time.Duration) Middleware {
	return func(next call.Invoker) call.Invoker {
		return InvokerFunc(func(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
			if _, ok := ctx.Deadline(); ok {
				return next.NewStream(ctx, desc, opts...)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			stream, err := next.NewStream(ctx, desc, opts...)
			if err != nil {
				cancel()
				return nil, err
			}
			return &deadlineStream{Stream: stream, cancel: cancel}, nil
		})
	}
}

type deadlineStream struct {
	call.Stream
	cancel context.CancelFunc
}

func (s *deadlineStream) Recv(msg any) error {
	err := s.Stream.Recv(msg)
	if err != nil {
		s.cancel()
	}
	return err
}

func (s *deadlineStream) Close() {
	s.Stream.Close()
	s.cancel()
}
