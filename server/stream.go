package server

import (
	"context"
	"io"

	"meshrpc/call"
	"meshrpc/codec"
	"meshrpc/frame"
	"meshrpc/metadata"
	"meshrpc/status"
	"meshrpc/transport"
)

// Stream is the handler-side view of one call: decoded request
// messages in, encoded response messages out. The terminal status is
// the handler's return value, delivered by the server loop.
type Stream struct {
	desc *call.Desc
	cdc  codec.Codec
	ts   transport.ServerStream
	enc  *frame.Encoder
	dec  *frame.Decoder
	ctx  context.Context

	recvCount int
	sentCount int
}

// Context is canceled when the client cancels, the deadline elapses,
// or the connection terminates.
func (s *Stream) Context() context.Context { return s.ctx }

// Metadata returns the client's initial metadata.
func (s *Stream) Metadata() metadata.MD { return s.ts.Metadata() }

// Recv decodes the next request message into msg, returning io.EOF
// once the client has half-closed.
func (s *Stream) Recv(msg any) error {
	if err := s.ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	if !s.desc.ClientStreams && s.recvCount >= 1 {
		return status.Newf(status.Internal, "method %s does not stream requests", s.desc.Name).Err()
	}
	for {
		payload, ok, err := s.dec.Next()
		if err != nil {
			return err
		}
		if ok {
			s.recvCount++
			if err := s.cdc.Decode(payload, msg); err != nil {
				return status.Newf(status.Internal, "decoding request: %v", err).Err()
			}
			return nil
		}

		chunk, err := s.ts.Recv()
		if err == io.EOF {
			if s.dec.Buffered() > 0 {
				return status.New(status.Internal, "request stream closed mid-frame").Err()
			}
			return io.EOF
		}
		if err != nil {
			if st := status.FromContextError(s.ctx.Err()); st != nil {
				return st.Err()
			}
			return status.Newf(status.Unavailable, "transport failure: %v", err).Err()
		}
		s.dec.Feed(chunk)
	}
}

// Send encodes and sends one response message.
func (s *Stream) Send(msg any) error {
	if err := s.ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	if !s.desc.ServerStreams && s.sentCount >= 1 {
		return status.Newf(status.Internal, "method %s does not stream responses", s.desc.Name).Err()
	}
	data, err := s.cdc.Encode(msg)
	if err != nil {
		return status.Newf(status.Internal, "encoding response: %v", err).Err()
	}
	buf, err := s.enc.Encode(data)
	if err != nil {
		return err
	}
	if err := s.ts.Send(buf); err != nil {
		if st := status.FromContextError(s.ctx.Err()); st != nil {
			return st.Err()
		}
		return status.Newf(status.Unavailable, "transport failure: %v", err).Err()
	}
	s.sentCount++
	return nil
}
