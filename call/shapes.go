package call

import (
	"context"
	"io"

	"meshrpc/status"
)

// Invoke performs a single-request/single-response call: send one
// message, half-close, await exactly one response message and the
// terminal status. Zero or more than one response message before the
// status is a protocol violation surfaced as Internal.
func Invoke(ctx context.Context, inv Invoker, desc *Desc, req, resp any, opts ...Option) error {
	if desc.ClientStreams || desc.ServerStreams {
		return status.Newf(status.Internal, "Invoke used with streaming method %s", desc.Name).Err()
	}
	s, err := inv.NewStream(ctx, desc, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Send(req); err != nil {
		return err
	}
	if err := s.CloseSend(); err != nil {
		return err
	}
	if err := s.Recv(resp); err != nil {
		if err == io.EOF {
			return status.Newf(status.Internal,
				"protocol violation: method %s returned no response message", desc.Name).Err()
		}
		return err
	}
	// Drain the terminal status; a second message aborts with Internal
	// inside Recv before any decode happens.
	if err := s.Recv(nil); err != io.EOF {
		return err
	}
	return nil
}

// ServerStreamCall opens a server-streaming call: one request message,
// then a lazy sequence of responses read with Recv until io.EOF.
func ServerStreamCall(ctx context.Context, inv Invoker, desc *Desc, req any, opts ...Option) (Stream, error) {
	if desc.ClientStreams || !desc.ServerStreams {
		return nil, status.Newf(status.Internal, "ServerStreamCall used with method %s", desc.Name).Err()
	}
	s, err := inv.NewStream(ctx, desc, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Send(req); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.CloseSend(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ClientStreamCall is the caller handle for a client-streaming call.
type ClientStreamCall struct {
	Stream
}

// NewClientStreamCall opens a client-streaming call. The caller sends
// any number of request messages and finishes with CloseAndRecv.
func NewClientStreamCall(ctx context.Context, inv Invoker, desc *Desc, opts ...Option) (*ClientStreamCall, error) {
	if !desc.ClientStreams || desc.ServerStreams {
		return nil, status.Newf(status.Internal, "NewClientStreamCall used with method %s", desc.Name).Err()
	}
	s, err := inv.NewStream(ctx, desc, opts...)
	if err != nil {
		return nil, err
	}
	return &ClientStreamCall{Stream: s}, nil
}

// CloseAndRecv half-closes the request direction and awaits the single
// response message and the terminal status.
func (c *ClientStreamCall) CloseAndRecv(resp any) error {
	if err := c.CloseSend(); err != nil {
		return err
	}
	if err := c.Recv(resp); err != nil {
		if err == io.EOF {
			return status.New(status.Internal,
				"protocol violation: no response message before status").Err()
		}
		return err
	}
	if err := c.Recv(nil); err != io.EOF {
		return err
	}
	return nil
}

// BidiCall opens a bidirectional call: both directions are independent
// lazy sequences with per-direction FIFO ordering and nothing more.
func BidiCall(ctx context.Context, inv Invoker, desc *Desc, opts ...Option) (Stream, error) {
	if !desc.ClientStreams || !desc.ServerStreams {
		return nil, status.Newf(status.Internal, "BidiCall used with method %s", desc.Name).Err()
	}
	return inv.NewStream(ctx, desc, opts...)
}
