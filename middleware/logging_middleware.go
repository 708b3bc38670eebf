package middleware

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meshrpc/call"
	"meshrpc/status"
)

// Logging logs every call with its method, terminal code, and duration.
func Logging(logger zerolog.Logger) Middleware {
	return func(next call.Invoker) call.Invoker {
		return InvokerFunc(func(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
			start := time.Now()
			stream, err := next.NewStream(ctx, desc, opts...)
			if err != nil {
				logger.Warn().Str("method", desc.Name).
					Str("code", status.CodeOf(err).String()).
					Dur("duration", time.Since(start)).
					Msg("call failed to open")
				return nil, err
			}
			return &loggedStream{Stream: stream, logger: logger, method: desc.Name, start: start}, nil
		})
	}
}

type loggedStream struct {
	call.Stream
	logger zerolog.Logger
	method string
	start  time.Time
	once   sync.Once
}

func (s *loggedStream) Recv(msg any) error {
	err := s.Stream.Recv(msg)
	if err != nil {
		code := status.OK
		if err != io.EOF {
			code = status.CodeOf(err)
		}
		s.log(code)
	}
	return err
}

func (s *loggedStream) Close() {
	s.Stream.Close()
	s.log(status.Canceled)
}

func (s *loggedStream) log(code status.Code) {
	s.once.Do(func() {
		evt := s.logger.Info()
		if code != status.OK {
			evt = s.logger.Warn()
		}
		evt.Str("method", s.method).
			Str("code", code.String()).
			Dur("duration", time.Since(s.start)).
			Msg("call finished")
	})
}
