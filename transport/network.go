package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"meshrpc/metadata"
)

// ErrListenerClosed is returned by Accept after the listener shuts
// down, and by Dial against a closed address.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener accepts the server ends of in-memory streams.
type Listener struct {
	addr string

	accept chan *serverStream

	drainOnce sync.Once
	draining  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	mu    sync.Mutex
	conns []*pipeConn
}

// NewListener creates a standalone in-memory listener. Use Pipe or a
// Network to connect to it.
func NewListener(addr string) *Listener {
	return &Listener{
		addr:     addr,
		accept:   make(chan *serverStream, 64),
		draining: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Addr returns the address this listener was created with.
func (l *Listener) Addr() string { return l.addr }

// Accept blocks until a peer opens a stream.
func (l *Listener) Accept(ctx context.Context) (ServerStream, error) {
	select {
	case ss := <-l.accept:
		return ss, nil
	case <-l.draining:
		return nil, ErrListenerClosed
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain refuses new streams while leaving established connections and
// their in-flight streams running, for graceful shutdown.
func (l *Listener) Drain() {
	l.drainOnce.Do(func() { close(l.draining) })
}

// Close shuts the listener down and terminates every connection dialed
// against it, failing their open streams.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		conns := l.conns
		l.conns = nil
		l.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return nil
}

func (l *Listener) register(c *pipeConn) {
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
}

// pipeConn is the dialer end of an in-memory connection.
type pipeConn struct {
	lis       *Listener
	done      chan struct{}
	closeOnce sync.Once
}

func (c *pipeConn) OpenStream(ctx context.Context, method string, md metadata.MD) (Stream, error) {
	st := &pipeState{
		method:    method,
		clientMD:  md.Copy(),
		toServer:  make(chan []byte, streamBuffer),
		toClient:  make(chan []byte, streamBuffer),
		headerCh:  make(chan metadata.MD, 1),
		trailerCh: make(chan metadata.MD, 1),
		cancelCh:  make(chan struct{}),
		conn:      c,
	}
	select {
	case <-c.lis.draining:
		return nil, ErrConnClosed
	default:
	}
	ss := newServerStream(st)
	select {
	case c.lis.accept <- ss:
		return &clientStream{st: st}, nil
	case <-c.lis.draining:
		return nil, ErrConnClosed
	case <-c.lis.closed:
		return nil, ErrConnClosed
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *pipeConn) Done() <-chan struct{} { return c.done }

// Pipe returns a connection wired directly to a fresh listener, for
// single-endpoint setups and tests.
func Pipe() (Conn, *Listener) {
	l := NewListener("inproc")
	c := &pipeConn{lis: l, done: make(chan struct{})}
	l.register(c)
	return c, l
}

// Network is an in-memory address space: listeners register under
// string addresses and Dial connects to them, failing like a refused
// connection when the address is down.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{listeners: map[string]*Listener{}}
}

// Listen registers a listener under addr, replacing any closed one.
func (n *Network) Listen(addr string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if l, ok := n.listeners[addr]; ok {
		select {
		case <-l.closed:
			// last listener is gone, the address is free again
		default:
			return nil, errors.Errorf("transport: address %s already in use", addr)
		}
	}
	l := NewListener(addr)
	n.listeners[addr] = l
	return l, nil
}

// Dial connects to addr.
func (n *Network) Dial(ctx context.Context, addr string) (Conn, error) {
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("transport: connection refused: %s", addr)
	}
	select {
	case <-l.closed:
		return nil, errors.Errorf("transport: connection refused: %s", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	c := &pipeConn{lis: l, done: make(chan struct{})}
	l.register(c)
	return c, nil
}
