// Package call drives one RPC invocation end-to-end over a transport
// stream: request encoding, header construction, response decoding,
// trailer extraction, cancellation and deadline propagation.
//
// The four call shapes (unary, client-streaming, server-streaming,
// bidirectional) all run on the same state machine; a method descriptor
// tags the cardinality and picks the codec. Every call terminates with
// exactly one status, on every path, including transport failure.
package call

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"meshrpc/codec"
	"meshrpc/compress"
	"meshrpc/metadata"
	"meshrpc/status"
	"meshrpc/transport"
)

// Metadata keys exchanged between the two ends of a call.
const (
	// ContentTypeKey announces the codec's wire content type.
	ContentTypeKey = "rpc-content-type"
	// EncodingKey names the compression algorithm of the sender's
	// payloads in that direction.
	EncodingKey = "rpc-encoding"
	// AcceptEncodingKey advertises the algorithms a side accepts.
	AcceptEncodingKey = "rpc-accept-encoding"
	// TimeoutKey propagates the caller's deadline as a duration.
	TimeoutKey = "rpc-timeout"
	// AuthorityKey carries the logical target name used for routing.
	AuthorityKey = "rpc-authority"
)

// defaultMaxMessageSize bounds both the declared frame length and the
// decompressed payload size unless configured otherwise.
const defaultMaxMessageSize = 4 << 20

// Desc describes one RPC method: its full name, cardinality, and
// codec. Dispatch is keyed by Name on the serving side.
type Desc struct {
	// Name is the full method name, "Service.Method".
	Name string

	// ClientStreams marks the request direction as a stream.
	ClientStreams bool

	// ServerStreams marks the response direction as a stream.
	ServerStreams bool

	// Codec serializes messages for this method. nil means codec.JSON.
	Codec codec.Codec
}

func (d *Desc) codec() codec.Codec {
	if d.Codec != nil {
		return d.Codec
	}
	return codec.JSON
}

// Stream is the caller-side handle of one call in flight.
//
// Send and Recv must each be used from one goroutine at a time, though
// the two directions may run concurrently. Responses form a lazy,
// finite, non-restartable sequence: Recv returns io.EOF after an OK
// terminal status and the terminal error thereafter.
type Stream interface {
	// Send encodes and sends one request message.
	Send(msg any) error

	// CloseSend half-closes the request direction.
	CloseSend() error

	// Recv decodes the next response message into msg. It returns
	// io.EOF when the call terminated with an OK status and a non-nil
	// error carrying the terminal status otherwise.
	Recv(msg any) error

	// Header returns the peer's initial metadata, blocking until it
	// arrives.
	Header() (metadata.MD, error)

	// Trailer returns the peer's trailing metadata. Valid only after
	// Recv has returned a terminal error.
	Trailer() metadata.MD

	// Close abandons the call. If no terminal status has been
	// delivered yet the call is canceled synchronously and a
	// cancellation signal is sent downstream; no message is delivered
	// to the caller afterward.
	Close()
}

// Invoker issues calls. A single connection and a load-balanced
// channel expose the same contract, so everything above this interface
// is balancing-agnostic.
type Invoker interface {
	NewStream(ctx context.Context, desc *Desc, opts ...Option) (Stream, error)
}

// Option adjusts one call.
type Option func(*callOptions)

type callOptions struct {
	md        metadata.MD
	authority string
}

// WithMetadata attaches extra initial metadata to the call.
func WithMetadata(md metadata.MD) Option {
	return func(o *callOptions) { o.md = metadata.Join(o.md, md) }
}

// WithAuthority sets the logical target name used for routing.
func WithAuthority(authority string) Option {
	return func(o *callOptions) { o.authority = authority }
}

func buildOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Options reports the effective metadata and authority of a call's
// options. Balancing layers use it to route before a connection exists.
func Options(opts []Option) (md metadata.MD, authority string) {
	o := buildOptions(opts)
	return o.md, o.authority
}

// ConnConfig parameterizes the call layer over one connection.
type ConnConfig struct {
	// Compression is the ordered local algorithm preference. The first
	// registered entry is used for outgoing payloads; the whole list
	// plus identity is accepted for incoming ones.
	Compression []string

	// MaxFrameSize caps the declared length of received frames.
	// Defaults to 4 MiB.
	MaxFrameSize int

	// MaxDecodedSize caps the decompressed size of received payloads.
	// Defaults to 4 MiB.
	MaxDecodedSize int

	Logger zerolog.Logger
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxMessageSize
	}
	if c.MaxDecodedSize <= 0 {
		c.MaxDecodedSize = defaultMaxMessageSize
	}
	return c
}

// Conn binds the call state machine to one transport connection.
type Conn struct {
	t   transport.Conn
	cfg ConnConfig
}

// NewConn wraps a transport connection for issuing calls.
func NewConn(t transport.Conn, cfg ConnConfig) *Conn {
	return &Conn{t: t, cfg: cfg.withDefaults()}
}

// Transport returns the underlying connection.
func (c *Conn) Transport() transport.Conn { return c.t }

// NewStream opens one call on the connection. The returned stream is
// in the headers-sent state: metadata has been handed to the transport.
func (c *Conn) NewStream(ctx context.Context, desc *Desc, opts ...Option) (Stream, error) {
	o := buildOptions(opts)

	cdc := desc.codec()
	md := metadata.Join(o.md)
	md.Set(ContentTypeKey, cdc.ContentType())
	md.Set(AcceptEncodingKey, compress.JoinNames(c.cfg.Compression))
	if o.authority != "" {
		md.Set(AuthorityKey, o.authority)
	}

	var outComp compress.Compressor
	if name := firstRegistered(c.cfg.Compression); name != "" {
		outComp, _ = compress.Lookup(name)
		md.Set(EncodingKey, name)
	}

	if deadline, ok := ctx.Deadline(); ok {
		md.Set(TimeoutKey, time.Until(deadline).String())
	}

	ts, err := c.t.OpenStream(ctx, desc.Name, md)
	if err != nil {
		return nil, toStatus(err).Err()
	}
	return newClientCall(ctx, desc, cdc, ts, outComp, c.cfg), nil
}

func firstRegistered(names []string) string {
	for _, name := range names {
		if name == compress.Identity {
			return ""
		}
		if _, ok := compress.Lookup(name); ok {
			return name
		}
	}
	return ""
}

// toStatus maps arbitrary errors to a terminal status. Transport
// failures synthesize Unavailable rather than leaving a call pending.
func toStatus(err error) *status.Status {
	if err == nil {
		return status.New(status.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch err {
	case transport.ErrConnClosed:
		return status.New(status.Unavailable, "transport connection closed")
	case transport.ErrStreamClosed:
		return status.New(status.Internal, "send on half-closed stream")
	default:
		return status.Newf(status.Unavailable, "transport failure: %v", err)
	}
}
