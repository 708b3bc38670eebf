package discovery

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd discovers cluster endpoints from an etcd keyspace:
//
//	Key:   {prefix}/clusters/{clusterName}/{addr}
//	Value: JSON-encoded Endpoint
//
// Servers register themselves under TTL leases, so a crashed instance
// disappears when its lease expires. Clients watch the prefix and
// receive a full cluster snapshot on every change; the snapshot version
// is the etcd store revision. Only TypeClusters is served — pair it
// with a Static source for routes. Ack and Nack are no-ops: etcd is
// the source of truth, there is no control plane to answer.
type Etcd struct {
	cli    *clientv3.Client
	prefix string
	logger zerolog.Logger

	mu    sync.Mutex
	names []string
	ch    chan Snapshot
}

// EtcdConfig parameterizes an Etcd source.
type EtcdConfig struct {
	Endpoints []string

	// Prefix is the keyspace root, default "/meshrpc".
	Prefix string

	Logger zerolog.Logger
}

// NewEtcd connects to etcd and returns a source over it.
func NewEtcd(cfg EtcdConfig) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to etcd")
	}
	return NewEtcdFromClient(cli, cfg), nil
}

// NewEtcdFromClient wraps an existing etcd client.
func NewEtcdFromClient(cli *clientv3.Client, cfg EtcdConfig) *Etcd {
	if cfg.Prefix == "" {
		cfg.Prefix = "/meshrpc"
	}
	return &Etcd{cli: cli, prefix: cfg.Prefix, logger: cfg.Logger}
}

func (e *Etcd) clusterPrefix() string {
	return e.prefix + "/clusters/"
}

func (e *Etcd) key(cluster, addr string) string {
	return path.Join(e.prefix, "clusters", cluster, addr)
}

// Register adds an endpoint under a TTL lease and keeps it alive until
// the context ends. If the process dies, the lease expires and the
// endpoint is removed automatically.
func (e *Etcd) Register(ctx context.Context, cluster string, ep Endpoint, ttlSeconds int64) error {
	lease, err := e.cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return errors.Wrap(err, "granting lease")
	}
	val, err := json.Marshal(ep)
	if err != nil {
		return errors.Wrap(err, "encoding endpoint")
	}
	if _, err := e.cli.Put(ctx, e.key(cluster, ep.Address), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrap(err, "registering endpoint")
	}
	ch, err := e.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "starting lease keepalive")
	}
	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an endpoint, for graceful shutdown ahead of the
// lease expiry.
func (e *Etcd) Deregister(ctx context.Context, cluster, addr string) error {
	_, err := e.cli.Delete(ctx, e.key(cluster, addr))
	return errors.Wrap(err, "deregistering endpoint")
}

func (e *Etcd) Subscribe(t ResourceType, names []string) <-chan Snapshot {
	ch := make(chan Snapshot, 4)
	if t != TypeClusters {
		// Routes do not live in etcd; the channel stays silent.
		return ch
	}
	e.mu.Lock()
	e.names = names
	e.ch = ch
	e.mu.Unlock()
	return ch
}

func (e *Etcd) Ack(ResourceType, string, string)          {}
func (e *Etcd) Nack(ResourceType, string, string, string) {}

// Run pushes an initial snapshot, then re-lists the keyspace on every
// watch event. Re-listing keeps snapshots full rather than parsing
// individual events into deltas.
func (e *Etcd) Run(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	if ch == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	push := func() error {
		snap, err := e.snapshot(ctx)
		if err != nil {
			return err
		}
		select {
		case ch <- snap:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if err := push(); err != nil {
		return err
	}
	watchCh := e.cli.Watch(clientv3.WithRequireLeader(ctx), e.clusterPrefix(), clientv3.WithPrefix())
	for {
		select {
		case resp, ok := <-watchCh:
			if !ok {
				return ctx.Err()
			}
			if err := resp.Err(); err != nil {
				e.logger.Warn().Err(err).Msg("etcd watch error")
				continue
			}
			if err := push(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// snapshot lists every registered endpoint and groups them by cluster.
func (e *Etcd) snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := e.cli.Get(ctx, e.clusterPrefix(), clientv3.WithPrefix())
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "listing endpoints")
	}

	e.mu.Lock()
	names := e.names
	e.mu.Unlock()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	byCluster := map[string][]Endpoint{}
	for _, kv := range resp.Kvs {
		rest := string(kv.Key[len(e.clusterPrefix()):])
		cluster, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if len(wanted) > 0 && !wanted[cluster] {
			continue
		}
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			e.logger.Warn().Str("key", string(kv.Key)).Msg("skipping malformed endpoint entry")
			continue
		}
		byCluster[cluster] = append(byCluster[cluster], ep)
	}

	snap := Snapshot{
		Type:    TypeClusters,
		Version: strconv.FormatInt(resp.Header.Revision, 10),
	}
	for name, eps := range byCluster {
		snap.Clusters = append(snap.Clusters, ClusterResource{Name: name, Endpoints: eps})
	}
	return snap, nil
}
