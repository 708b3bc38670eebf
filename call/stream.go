package call

import (
	"context"
	"io"
	"sync"

	"meshrpc/codec"
	"meshrpc/compress"
	"meshrpc/frame"
	"meshrpc/metadata"
	"meshrpc/status"
	"meshrpc/transport"
)

// clientCall is the per-invocation state machine:
//
//	Idle -> HeadersSent -> (RequestStreaming)* -> HalfClosedLocal
//	     -> (ResponseStreaming)* -> Closed
//
// Idle->HeadersSent happens in Conn.NewStream; the remaining states are
// tracked by sentCount/sendClosed/terminal. The terminal status is set
// exactly once; every exit path funnels through setTerminal.
type clientCall struct {
	ctx  context.Context
	desc *Desc
	cdc  codec.Codec
	ts   transport.Stream
	enc  *frame.Encoder
	cfg  ConnConfig

	mu         sync.Mutex
	sentCount  int
	sendClosed bool
	terminal   *status.Status
	trailerMD  metadata.MD
	done       chan struct{}

	// receive side, single-goroutine
	headerDone bool
	headerMD   metadata.MD
	dec        *frame.Decoder
	recvCount  int
}

func newClientCall(ctx context.Context, desc *Desc, cdc codec.Codec, ts transport.Stream, outComp compress.Compressor, cfg ConnConfig) *clientCall {
	c := &clientCall{
		ctx:  ctx,
		desc: desc,
		cdc:  cdc,
		ts:   ts,
		enc:  frame.NewEncoder(outComp),
		cfg:  cfg,
		done: make(chan struct{}),
	}
	// Deadline and caller-context cancellation behave like a local
	// cancel: terminal status first, then the downstream signal.
	go func() {
		select {
		case <-ctx.Done():
			c.abort(status.FromContextError(ctx.Err()))
		case <-c.done:
		}
	}()
	return c
}

// setTerminal records the terminal status. The first caller wins;
// every later attempt is a no-op, which is what makes delivery
// exactly-once.
func (c *clientCall) setTerminal(st *status.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal != nil {
		return false
	}
	c.terminal = st
	close(c.done)
	return true
}

// abort terminates the call locally and signals cancellation on the
// underlying stream.
func (c *clientCall) abort(st *status.Status) {
	if c.setTerminal(st) {
		c.ts.Cancel(st.Err())
	}
}

// terminalErr converts the recorded terminal status to the error
// surfaced to the caller: io.EOF for OK, the status error otherwise.
func (c *clientCall) terminalErr() error {
	c.mu.Lock()
	st := c.terminal
	c.mu.Unlock()
	if st == nil || st.Code() == status.OK {
		return io.EOF
	}
	return st.Err()
}

func (c *clientCall) Send(msg any) error {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return c.terminalErr()
	}
	if c.sendClosed {
		c.mu.Unlock()
		return status.New(status.Internal, "send after CloseSend").Err()
	}
	if !c.desc.ClientStreams && c.sentCount >= 1 {
		c.mu.Unlock()
		return status.Newf(status.Internal, "method %s does not stream requests", c.desc.Name).Err()
	}
	c.sentCount++
	c.mu.Unlock()

	data, err := c.cdc.Encode(msg)
	if err != nil {
		st := status.Newf(status.Internal, "encoding request: %v", err)
		c.abort(st)
		return st.Err()
	}
	buf, err := c.enc.Encode(data)
	if err != nil {
		st := status.Convert(err)
		c.abort(st)
		return st.Err()
	}
	if err := c.ts.Send(buf); err != nil {
		// The terminal may already be set if the failure raced a
		// cancel; keep whichever landed first.
		c.abort(toStatus(err))
		return c.terminalErr()
	}
	return nil
}

func (c *clientCall) CloseSend() error {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return c.terminalErr()
	}
	c.sendClosed = true
	c.mu.Unlock()
	if err := c.ts.CloseSend(); err != nil {
		c.abort(toStatus(err))
		return c.terminalErr()
	}
	return nil
}

func (c *clientCall) Header() (metadata.MD, error) {
	if err := c.ensureHeader(); err != nil {
		return nil, err
	}
	return c.headerMD, nil
}

// ensureHeader waits for the peer's initial metadata and arms the
// frame decoder with the negotiated incoming encoding.
func (c *clientCall) ensureHeader() error {
	if c.headerDone {
		return nil
	}
	md, err := c.ts.Header()
	if err != nil {
		c.abort(toStatus(err))
		return c.terminalErr()
	}
	_, accept := compress.Negotiate(c.cfg.Compression, nil)
	c.headerMD = md
	c.dec = frame.NewDecoder(frame.DecoderConfig{
		MaxFrameSize:   c.cfg.MaxFrameSize,
		MaxDecodedSize: c.cfg.MaxDecodedSize,
		Encoding:       md.Get(EncodingKey),
		Accept:         accept,
	})
	c.headerDone = true
	return nil
}

func (c *clientCall) Recv(msg any) error {
	// Cancellation suppresses delivery even for responses already in
	// flight, so it is checked before touching the decoder.
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return c.terminalErr()
	}
	c.mu.Unlock()
	if err := c.ctx.Err(); err != nil {
		c.abort(status.FromContextError(err))
		return c.terminalErr()
	}

	if err := c.ensureHeader(); err != nil {
		return err
	}

	for {
		payload, ok, err := c.dec.Next()
		if err != nil {
			st := status.Convert(err)
			c.abort(st)
			return st.Err()
		}
		if ok {
			c.recvCount++
			if !c.desc.ServerStreams && c.recvCount > 1 {
				st := status.Newf(status.Internal,
					"protocol violation: received %d response messages for non-streaming method %s", c.recvCount, c.desc.Name)
				c.abort(st)
				return st.Err()
			}
			if err := c.cdc.Decode(payload, msg); err != nil {
				st := status.Newf(status.Internal, "decoding response: %v", err)
				c.abort(st)
				return st.Err()
			}
			return nil
		}

		chunk, err := c.ts.Recv()
		if err == io.EOF {
			return c.finish()
		}
		if err != nil {
			c.abort(toStatus(err))
			return c.terminalErr()
		}
		c.dec.Feed(chunk)
	}
}

// finish resolves the terminal status once the peer has closed its
// direction. A missing status is synthesized locally: Internal when
// the stream died mid-frame, Unavailable otherwise.
func (c *clientCall) finish() error {
	trailer := c.ts.Trailer()
	st, found := status.FromMD(trailer)
	switch {
	case c.dec.Buffered() > 0:
		st = status.New(status.Internal, "stream closed mid-frame")
	case !found:
		st = status.New(status.Unavailable, "stream closed without a status")
	}
	c.mu.Lock()
	c.trailerMD = trailer
	c.mu.Unlock()
	c.setTerminal(st)
	return c.terminalErr()
}

func (c *clientCall) Trailer() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailerMD
}

// Close abandons the call. Before the terminal status this counts as a
// caller-initiated cancellation: the call is marked canceled
// synchronously and the signal propagates downstream.
func (c *clientCall) Close() {
	c.abort(status.New(status.Canceled, "call closed by caller"))
}
