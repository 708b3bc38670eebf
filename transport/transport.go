// Package transport defines the duplex, multiplexed byte-stream
// boundary the RPC core runs on, and provides an in-memory
// implementation of it.
//
// A Conn multiplexes independent logical streams. Each stream carries
// opaque byte chunks in both directions, supports half-close of the
// send direction independent of the receive direction, and exchanges an
// initial and a trailing metadata map. Frame parsing happens above this
// boundary; chunk sizes are not significant.
package transport

import (
	"context"
	"errors"

	"meshrpc/metadata"
)

var (
	// ErrConnClosed is returned by stream operations after the owning
	// connection has terminated.
	ErrConnClosed = errors.New("transport: connection closed")

	// ErrStreamClosed is returned by Send after CloseSend.
	ErrStreamClosed = errors.New("transport: send on half-closed stream")
)

// Conn is one multiplexed connection to a peer.
type Conn interface {
	// OpenStream opens a logical stream for one call, delivering the
	// method name and initial metadata to the peer.
	OpenStream(ctx context.Context, method string, md metadata.MD) (Stream, error)

	// Close terminates the connection and fails every open stream.
	Close() error

	// Done is closed once the connection has terminated, whether by
	// Close or by failure.
	Done() <-chan struct{}
}

// Stream is the client end of one logical stream.
type Stream interface {
	// Send queues one byte chunk to the peer.
	Send(p []byte) error

	// Recv returns the next byte chunk from the peer. It returns
	// io.EOF once the peer half-closed and all chunks are drained.
	Recv() ([]byte, error)

	// Header blocks until the peer's initial metadata arrives.
	Header() (metadata.MD, error)

	// Trailer returns the peer's trailing metadata. It is only valid
	// after Recv has returned io.EOF or an error.
	Trailer() metadata.MD

	// CloseSend half-closes the send direction.
	CloseSend() error

	// Cancel aborts the stream in both directions. It is idempotent
	// and safe to call at any point in the stream lifecycle.
	Cancel(reason error)
}

// ServerStream is the accept side of one logical stream.
type ServerStream interface {
	// Method is the full method name announced at open.
	Method() string

	// Metadata is the client's initial metadata.
	Metadata() metadata.MD

	// Context is canceled when the client cancels or the connection
	// terminates.
	Context() context.Context

	// SendHeader delivers the server's initial metadata. It must be
	// called exactly once, before the first Send.
	SendHeader(md metadata.MD) error

	// Send queues one byte chunk to the client.
	Send(p []byte) error

	// Recv returns the next chunk from the client, io.EOF after the
	// client half-closed.
	Recv() ([]byte, error)

	// Close delivers the trailing metadata and ends the stream. The
	// trailing metadata is the stream's terminal signal; Close must be
	// called exactly once.
	Close(trailer metadata.MD) error
}

// Dialer opens a connection to an endpoint address.
type Dialer func(ctx context.Context, addr string) (Conn, error)
