// Package cluster owns the live connections to one cluster's endpoints:
// selection among them, connect/reconnect with backoff, failure
// isolation, and draining.
//
// Endpoint records are keyed by address and mutated only by their own
// lifecycle goroutine; the pick pool is an atomically swapped snapshot,
// so Pick never takes a lock and never returns a connection already
// known to be broken.
package cluster

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meshrpc/backoff"
	"meshrpc/discovery"
	"meshrpc/status"
	"meshrpc/transport"
)

// Health is the observed state of one endpoint.
type Health int

const (
	Unknown Health = iota
	Healthy
	Unhealthy
	Draining
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Conn is one pooled connection. Calls acquire it for their lifetime so
// a draining endpoint can finish its in-flight calls before the
// connection closes.
type Conn struct {
	addr     string
	t        transport.Conn
	inflight atomic.Int64
	draining atomic.Bool
}

func (c *Conn) Addr() string              { return c.addr }
func (c *Conn) Transport() transport.Conn { return c.t }

// Acquire marks one call in flight on the connection.
func (c *Conn) Acquire() { c.inflight.Add(1) }

// Release ends one in-flight call. The last release on a draining
// connection closes it.
func (c *Conn) Release() {
	if c.inflight.Add(-1) <= 0 && c.draining.Load() {
		c.t.Close()
	}
}

// Config parameterizes a cluster channel.
type Config struct {
	// Name of the cluster, used in errors and logs.
	Name string

	// Dial opens a connection to an endpoint address.
	Dial transport.Dialer

	// Picker is the selection policy; nil means round-robin.
	Picker Picker

	Backoff backoff.Config
	Logger  zerolog.Logger
}

// endpoint is the lifecycle record for one address. Only its own
// goroutine moves it between states.
type endpoint struct {
	addr      string
	health    Health
	drainOnce sync.Once
	drain     chan struct{}
}

// Channel manages connections to one cluster and selects among them.
type Channel struct {
	cfg    Config
	picker Picker
	logger zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	endpoints map[string]*endpoint
	pool      atomic.Pointer[[]*Conn]
}

// New creates an empty cluster channel. Endpoints arrive via Update.
func New(cfg Config) *Channel {
	picker := cfg.Picker
	if picker == nil {
		picker = &RoundRobin{}
	}
	ctx, stop := context.WithCancel(context.Background())
	ch := &Channel{
		cfg:       cfg,
		picker:    picker,
		logger:    cfg.Logger.With().Str("cluster", cfg.Name).Logger(),
		ctx:       ctx,
		stop:      stop,
		endpoints: make(map[string]*endpoint),
	}
	ch.pool.Store(&[]*Conn{})
	return ch
}

// Name returns the cluster name.
func (ch *Channel) Name() string { return ch.cfg.Name }

// Pick returns a live connection, or Unavailable when no healthy
// endpoint exists. The returned connection is not yet acquired.
func (ch *Channel) Pick() (*Conn, error) {
	pool := *ch.pool.Load()
	if len(pool) == 0 {
		return nil, status.Newf(status.Unavailable, "no healthy endpoint in cluster %q", ch.cfg.Name).Err()
	}
	return ch.picker.Pick(pool)
}

// Update applies a new endpoint set: unknown addresses get a lifecycle
// goroutine, addresses no longer present start draining.
func (ch *Channel) Update(eps []discovery.Endpoint) {
	incoming := make(map[string]bool, len(eps))
	for _, e := range eps {
		incoming[e.Address] = true
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	for addr := range incoming {
		if _, ok := ch.endpoints[addr]; ok {
			continue
		}
		ep := &endpoint{addr: addr, drain: make(chan struct{})}
		ch.endpoints[addr] = ep
		ch.wg.Add(1)
		go ch.run(ep)
	}
	for addr, ep := range ch.endpoints {
		if !incoming[addr] {
			ep.drainOnce.Do(func() { close(ep.drain) })
			delete(ch.endpoints, addr)
		}
	}
}

// Close drains every endpoint and waits for the lifecycle goroutines.
func (ch *Channel) Close() {
	ch.stop()
	ch.wg.Wait()
}

// Healths reports the current endpoint health states.
func (ch *Channel) Healths() map[string]Health {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(map[string]Health, len(ch.endpoints))
	for addr, ep := range ch.endpoints {
		out[addr] = ep.health
	}
	return out
}

// run is the lifecycle loop for one endpoint: dial, serve until the
// connection breaks, retry with backoff, drain on removal.
func (ch *Channel) run(ep *endpoint) {
	defer ch.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		select {
		case <-ep.drain:
			return
		case <-ch.ctx.Done():
			return
		default:
		}

		conn, err := ch.cfg.Dial(ch.ctx, ep.addr)
		if err != nil {
			ch.setHealth(ep, Unhealthy)
			attempt++
			delay := ch.cfg.Backoff.Delay(attempt, rng)
			ch.logger.Warn().Str("endpoint", ep.addr).Err(err).Dur("retry_in", delay).
				Msg("endpoint connect failed")
			select {
			case <-time.After(delay):
				continue
			case <-ep.drain:
				return
			case <-ch.ctx.Done():
				return
			}
		}

		c := &Conn{addr: ep.addr, t: conn}
		ch.setHealth(ep, Healthy)
		ch.addToPool(c)
		ch.logger.Debug().Str("endpoint", ep.addr).Msg("endpoint connected")
		attempt = 0

		select {
		case <-conn.Done():
			// Broken connections leave the pool before the next pick
			// can observe them.
			ch.removeFromPool(c)
			ch.setHealth(ep, Unhealthy)
			ch.logger.Warn().Str("endpoint", ep.addr).Msg("endpoint connection failed")
			attempt++
			delay := ch.cfg.Backoff.Delay(attempt, rng)
			select {
			case <-time.After(delay):
			case <-ep.drain:
				return
			case <-ch.ctx.Done():
				return
			}

		case <-ep.drain:
			ch.removeFromPool(c)
			ch.setHealth(ep, Draining)
			c.draining.Store(true)
			// In-flight calls finish; the last release closes the
			// connection.
			if c.inflight.Load() == 0 {
				conn.Close()
			}
			return

		case <-ch.ctx.Done():
			ch.removeFromPool(c)
			conn.Close()
			return
		}
	}
}

func (ch *Channel) setHealth(ep *endpoint, h Health) {
	ch.mu.Lock()
	ep.health = h
	ch.mu.Unlock()
}

func (ch *Channel) addToPool(c *Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	pool := append(append([]*Conn{}, *ch.pool.Load()...), c)
	ch.pool.Store(&pool)
}

func (ch *Channel) removeFromPool(c *Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	old := *ch.pool.Load()
	pool := make([]*Conn, 0, len(old))
	for _, pc := range old {
		if pc != c {
			pool = append(pool, pc)
		}
	}
	ch.pool.Store(&pool)
}
