// Package channel is the top of the client stack: a load-balanced
// channel that routes each call to a cluster, picks an endpoint
// connection, and runs the call on it.
//
// The channel consumes cluster and route snapshots from discovery
// sources, validates each one, and acknowledges or rejects it. A
// rejected snapshot never displaces accepted state, so calls keep
// flowing on the last good configuration.
package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"meshrpc/backoff"
	"meshrpc/call"
	"meshrpc/cluster"
	"meshrpc/discovery"
	"meshrpc/router"
	"meshrpc/status"
	"meshrpc/transport"
)

// Config parameterizes a load-balanced channel.
type Config struct {
	// Clusters delivers cluster snapshots. Required.
	Clusters discovery.Source

	// Routes delivers route snapshots. May be the same source as
	// Clusters (one control-plane stream serving both types). Required.
	Routes discovery.Source

	// ClusterNames and RouteNames scope the subscriptions; empty means
	// all resources of the type.
	ClusterNames []string
	RouteNames   []string

	// Dial opens transport connections to cluster endpoints. Required.
	Dial transport.Dialer

	// Conn parameterizes the call layer on every connection.
	Conn call.ConnConfig

	Backoff backoff.Config
	Logger  zerolog.Logger
}

// Channel routes calls across discovered clusters. It implements
// call.Invoker, so callers swap between a single connection and a
// balanced channel without code changes.
type Channel struct {
	cfg    Config
	logger zerolog.Logger
	table  *router.Table

	clusterCh <-chan discovery.Snapshot
	routeCh   <-chan discovery.Snapshot

	mu       sync.Mutex
	clusters map[string]*cluster.Channel
}

// New creates a channel and subscribes to its sources. Run must be
// called before the channel serves calls.
func New(cfg Config) (*Channel, error) {
	if cfg.Clusters == nil || cfg.Routes == nil {
		return nil, status.New(status.InvalidArgument, "channel requires a cluster source and a route source").Err()
	}
	if cfg.Dial == nil {
		return nil, status.New(status.InvalidArgument, "channel requires a dialer").Err()
	}
	return &Channel{
		cfg:       cfg,
		logger:    cfg.Logger,
		table:     router.New(),
		clusterCh: cfg.Clusters.Subscribe(discovery.TypeClusters, cfg.ClusterNames),
		routeCh:   cfg.Routes.Subscribe(discovery.TypeRoutes, cfg.RouteNames),
		clusters:  make(map[string]*cluster.Channel),
	}, nil
}

// Run drives the discovery sources and applies their snapshots until
// ctx is canceled.
func (ch *Channel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ch.cfg.Clusters.Run(ctx) })
	if ch.cfg.Routes != ch.cfg.Clusters {
		g.Go(func() error { return ch.cfg.Routes.Run(ctx) })
	}
	g.Go(func() error { return ch.apply(ctx) })
	return g.Wait()
}

func (ch *Channel) apply(ctx context.Context) error {
	defer ch.closeClusters()
	for {
		select {
		case snap := <-ch.clusterCh:
			ch.applyClusters(snap)
		case snap := <-ch.routeCh:
			ch.applyRoutes(snap)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyClusters swaps the managed cluster set to match the snapshot:
// new clusters are created, surviving ones get their endpoint sets
// updated, missing ones are drained and closed.
func (ch *Channel) applyClusters(snap discovery.Snapshot) {
	// Reject the whole snapshot when any cluster names an unknown
	// selection policy; partial application would split the version.
	for _, res := range snap.Clusters {
		if _, err := cluster.NewPicker(res.Policy); err != nil {
			ch.logger.Warn().Str("version", snap.Version).Str("cluster", res.Name).Err(err).
				Msg("rejecting cluster snapshot")
			ch.cfg.Clusters.Nack(snap.Type, snap.Version, snap.Nonce, err.Error())
			return
		}
	}

	ch.mu.Lock()
	var closing []*cluster.Channel
	incoming := make(map[string]bool, len(snap.Clusters))
	for _, res := range snap.Clusters {
		incoming[res.Name] = true
		cc, ok := ch.clusters[res.Name]
		if !ok {
			picker, _ := cluster.NewPicker(res.Policy)
			cc = cluster.New(cluster.Config{
				Name:    res.Name,
				Dial:    ch.cfg.Dial,
				Picker:  picker,
				Backoff: ch.cfg.Backoff,
				Logger:  ch.logger,
			})
			ch.clusters[res.Name] = cc
		}
		cc.Update(res.Endpoints)
	}
	for name, cc := range ch.clusters {
		if !incoming[name] {
			delete(ch.clusters, name)
			closing = append(closing, cc)
		}
	}
	ch.mu.Unlock()

	// Close waits for in-flight calls; keep it off the apply loop.
	for _, cc := range closing {
		go cc.Close()
	}

	ch.logger.Debug().Str("version", snap.Version).Int("clusters", len(snap.Clusters)).
		Msg("applied cluster snapshot")
	ch.cfg.Clusters.Ack(snap.Type, snap.Version, snap.Nonce)
}

// applyRoutes validates the snapshot against the current cluster set
// and swaps the route table only on success.
func (ch *Channel) applyRoutes(snap discovery.Snapshot) {
	ch.mu.Lock()
	known := make(map[string]bool, len(ch.clusters))
	for name := range ch.clusters {
		known[name] = true
	}
	ch.mu.Unlock()

	if err := router.Validate(snap.Routes, known); err != nil {
		ch.logger.Warn().Str("version", snap.Version).Err(err).Msg("rejecting route snapshot")
		ch.cfg.Routes.Nack(snap.Type, snap.Version, snap.Nonce, err.Error())
		return
	}
	ch.table.Swap(snap.Routes)
	ch.logger.Debug().Str("version", snap.Version).Int("routes", len(snap.Routes)).
		Msg("applied route snapshot")
	ch.cfg.Routes.Ack(snap.Type, snap.Version, snap.Nonce)
}

func (ch *Channel) closeClusters() {
	ch.mu.Lock()
	clusters := ch.clusters
	ch.clusters = make(map[string]*cluster.Channel)
	ch.mu.Unlock()
	for _, cc := range clusters {
		cc.Close()
	}
}

// NewStream routes the call through the route table, picks an endpoint
// connection in the target cluster, and opens the call on it. The
// connection stays acquired until the call reaches a terminal state.
func (ch *Channel) NewStream(ctx context.Context, desc *call.Desc, opts ...call.Option) (call.Stream, error) {
	md, authority := call.Options(opts)

	clusterName, err := ch.table.Resolve(authority, md)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	cc, ok := ch.clusters[clusterName]
	ch.mu.Unlock()
	if !ok {
		return nil, status.Newf(status.Unavailable, "cluster %q not available", clusterName).Err()
	}

	conn, err := cc.Pick()
	if err != nil {
		return nil, err
	}
	conn.Acquire()

	stream, err := call.NewConn(conn.Transport(), ch.cfg.Conn).NewStream(ctx, desc, opts...)
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &balancedStream{Stream: stream, conn: conn}, nil
}
