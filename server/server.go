// Package server implements the serving side of the RPC core: a
// dispatch table keyed by full method name, a per-stream serving loop,
// compression negotiation, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept stream → handleStream (own goroutine)
//	  → method lookup → negotiate compression → send header
//	  → handler (Recv/Send message loop) → trailer with terminal status
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meshrpc/call"
	"meshrpc/codec"
	"meshrpc/compress"
	"meshrpc/frame"
	"meshrpc/metadata"
	"meshrpc/status"
	"meshrpc/transport"
)

// Handler serves one stream of a registered method. The returned error
// becomes the terminal status: nil means OK, a status error passes
// through unchanged, anything else maps to Unknown.
type Handler func(ctx context.Context, s *Stream) error

type method struct {
	desc    *call.Desc
	handler Handler
}

// Config parameterizes a Server.
type Config struct {
	// Compression is the ordered local algorithm preference, advertised
	// to clients and used to pick the response encoding.
	Compression []string

	// MaxFrameSize / MaxDecodedSize bound received request frames.
	// Both default to 4 MiB.
	MaxFrameSize   int
	MaxDecodedSize int

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 4 << 20
	}
	if c.MaxDecodedSize <= 0 {
		c.MaxDecodedSize = 4 << 20
	}
	return c
}

// Server dispatches incoming streams to registered method handlers.
type Server struct {
	cfg Config

	mu      sync.Mutex
	methods map[string]*method

	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// New creates a server with an empty dispatch table.
func New(cfg Config) *Server {
	return &Server{cfg: cfg.withDefaults(), methods: make(map[string]*method)}
}

// Register adds a method to the dispatch table.
func (s *Server) Register(desc *call.Desc, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.methods[desc.Name]; dup {
		return status.Newf(status.AlreadyExists, "method %s already registered", desc.Name).Err()
	}
	s.methods[desc.Name] = &method{desc: desc, handler: h}
	return nil
}

// Serve accepts streams from lis until the listener closes or ctx is
// canceled. Each stream is handled on its own goroutine; a slow
// handler never blocks other streams.
func (s *Server) Serve(ctx context.Context, lis *transport.Listener) error {
	for {
		ss, err := lis.Accept(ctx)
		if err != nil {
			// During shutdown the listener close makes Accept fail;
			// that is the normal exit.
			if s.shutdown.Load() || err == transport.ErrListenerClosed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(ss)
		}()
	}
}

// GracefulStop drains the listener, waits for in-flight streams to
// finish, and then closes it. New streams are refused immediately;
// running handlers complete undisturbed.
func (s *Server) GracefulStop(lis *transport.Listener) {
	s.shutdown.Store(true)
	lis.Drain()
	s.wg.Wait()
	lis.Close()
}

func (s *Server) lookup(name string) (*method, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[name]
	return m, ok
}

func (s *Server) handleStream(ts transport.ServerStream) {
	logger := s.cfg.Logger.With().Str("method", ts.Method()).Logger()

	m, ok := s.lookup(ts.Method())
	if !ok {
		ts.Close(status.Newf(status.Unimplemented, "unknown method %q", ts.Method()).ToMD())
		return
	}

	clientMD := ts.Metadata()
	outName, accept := compress.Negotiate(s.cfg.Compression, compress.SplitNames(clientMD.Get(call.AcceptEncodingKey)))

	// The client's announced request encoding must be locally accepted;
	// the per-message flag check in the decoder backstops a peer that
	// starts compressing later anyway.
	reqEncoding := clientMD.Get(call.EncodingKey)
	if reqEncoding != "" && !accept[reqEncoding] {
		st := status.Newf(status.Unimplemented, "request compressed with %q which is not supported", reqEncoding)
		trailer := st.ToMD()
		trailer.Set(call.AcceptEncodingKey, compress.JoinNames(s.cfg.Compression))
		ts.Close(trailer)
		return
	}

	header := metadata.Pairs(call.AcceptEncodingKey, compress.JoinNames(s.cfg.Compression))
	var outComp compress.Compressor
	if outName != compress.Identity {
		outComp, _ = compress.Lookup(outName)
		if outComp != nil {
			header.Set(call.EncodingKey, outName)
		}
	}
	if err := ts.SendHeader(header); err != nil {
		return
	}

	ctx := ts.Context()
	if raw := clientMD.Get(call.TimeoutKey); raw != "" {
		if timeout, err := time.ParseDuration(raw); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	stream := &Stream{
		desc: m.desc,
		cdc:  m.desc.Codec,
		ts:   ts,
		enc:  frame.NewEncoder(outComp),
		dec: frame.NewDecoder(frame.DecoderConfig{
			MaxFrameSize:   s.cfg.MaxFrameSize,
			MaxDecodedSize: s.cfg.MaxDecodedSize,
			Encoding:       reqEncoding,
			Accept:         accept,
		}),
		ctx: ctx,
	}
	if stream.cdc == nil {
		stream.cdc = codec.JSON
	}

	st, _ := status.FromError(m.handler(ctx, stream))
	if st.Code() != status.OK {
		logger.Debug().Str("code", st.Code().String()).Str("desc", st.Message()).Msg("call failed")
	}
	ts.Close(st.ToMD())
}
