package transport

import (
	"context"
	"io"
	"sync"

	"meshrpc/metadata"
)

// streamBuffer is the per-direction chunk queue depth. Senders block
// once the peer falls this far behind.
const streamBuffer = 16

// pipeState is the shared core of one in-memory logical stream. The
// client and server ends are views over it. Multiplexing follows the
// same shape as a pending-map over a shared connection: every stream
// owns its channels, so concurrent calls never interleave.
type pipeState struct {
	method   string
	clientMD metadata.MD

	toServer chan []byte
	toClient chan []byte

	headerCh  chan metadata.MD
	trailerCh chan metadata.MD

	cancelMu   sync.Mutex
	cancelErr  error
	cancelCh   chan struct{}
	cancelOnce sync.Once

	conn *pipeConn
}

func (s *pipeState) cancel(reason error) {
	s.cancelOnce.Do(func() {
		s.cancelMu.Lock()
		if reason == nil {
			reason = context.Canceled
		}
		s.cancelErr = reason
		s.cancelMu.Unlock()
		close(s.cancelCh)
	})
}

func (s *pipeState) cancelReason() error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.cancelErr
}

// clientStream is the caller end of a pipe stream.
type clientStream struct {
	st *pipeState

	sendMu     sync.Mutex
	sendClosed bool

	headerOnce sync.Once
	peerHeader metadata.MD
	headerErr  error

	trailerMu sync.Mutex
	trailer   metadata.MD
}

func (c *clientStream) Send(p []byte) error {
	c.sendMu.Lock()
	closed := c.sendClosed
	c.sendMu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	select {
	case <-c.st.cancelCh:
		return c.st.cancelReason()
	case <-c.st.conn.done:
		return ErrConnClosed
	case c.st.toServer <- clone(p):
		return nil
	}
}

func (c *clientStream) CloseSend() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.st.toServer)
	}
	return nil
}

func (c *clientStream) Recv() ([]byte, error) {
	// A canceled stream delivers nothing further, even chunks already
	// queued.
	select {
	case <-c.st.cancelCh:
		return nil, c.st.cancelReason()
	default:
	}
	select {
	case p, ok := <-c.st.toClient:
		if ok {
			return p, nil
		}
		select {
		case md := <-c.st.trailerCh:
			c.trailerMu.Lock()
			c.trailer = md
			c.trailerMu.Unlock()
		default:
		}
		return nil, io.EOF
	case <-c.st.cancelCh:
		return nil, c.st.cancelReason()
	case <-c.st.conn.done:
		return nil, ErrConnClosed
	}
}

func (c *clientStream) Header() (metadata.MD, error) {
	c.headerOnce.Do(func() {
		select {
		case md := <-c.st.headerCh:
			c.peerHeader = md
		case <-c.st.cancelCh:
			c.headerErr = c.st.cancelReason()
		case <-c.st.conn.done:
			c.headerErr = ErrConnClosed
		}
	})
	return c.peerHeader, c.headerErr
}

func (c *clientStream) Trailer() metadata.MD {
	c.trailerMu.Lock()
	defer c.trailerMu.Unlock()
	return c.trailer
}

func (c *clientStream) Cancel(reason error) {
	c.st.cancel(reason)
}

// serverStream is the accept end of a pipe stream.
type serverStream struct {
	st *pipeState

	ctx     context.Context
	ctxStop context.CancelFunc

	headerOnce sync.Once
	closeOnce  sync.Once
	doneCh     chan struct{}
}

func newServerStream(st *pipeState) *serverStream {
	ctx, stop := context.WithCancel(context.Background())
	ss := &serverStream{st: st, ctx: ctx, ctxStop: stop, doneCh: make(chan struct{})}
	go func() {
		select {
		case <-st.cancelCh:
		case <-st.conn.done:
		case <-ss.doneCh:
		}
		stop()
	}()
	return ss
}

func (s *serverStream) Method() string           { return s.st.method }
func (s *serverStream) Metadata() metadata.MD    { return s.st.clientMD }
func (s *serverStream) Context() context.Context { return s.ctx }

func (s *serverStream) SendHeader(md metadata.MD) error {
	sent := false
	s.headerOnce.Do(func() {
		sent = true
		select {
		case s.st.headerCh <- md.Copy():
		case <-s.ctx.Done():
		}
	})
	if !sent {
		return ErrStreamClosed
	}
	return nil
}

func (s *serverStream) Send(p []byte) error {
	// Initial metadata precedes the first chunk on the wire.
	s.headerOnce.Do(func() {
		select {
		case s.st.headerCh <- metadata.MD{}:
		case <-s.ctx.Done():
		}
	})
	select {
	case <-s.ctx.Done():
		return s.streamErr()
	case s.st.toClient <- clone(p):
		return nil
	}
}

func (s *serverStream) Recv() ([]byte, error) {
	select {
	case p, ok := <-s.st.toServer:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	case <-s.ctx.Done():
		return nil, s.streamErr()
	}
}

func (s *serverStream) Close(trailer metadata.MD) error {
	err := ErrStreamClosed
	s.closeOnce.Do(func() {
		err = nil
		// A stream that never produced a message still owes the client
		// its initial metadata, or Header() on the other end would
		// wait forever.
		s.headerOnce.Do(func() {
			select {
			case s.st.headerCh <- metadata.MD{}:
			case <-s.ctx.Done():
			}
		})
		s.st.trailerCh <- trailer.Copy()
		close(s.st.toClient)
		close(s.doneCh)
	})
	return err
}

func (s *serverStream) streamErr() error {
	if reason := s.st.cancelReason(); reason != nil {
		return reason
	}
	return ErrConnClosed
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
