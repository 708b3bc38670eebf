// Package discovery produces the live, changing sets of clusters and
// routes a load-balanced channel runs on.
//
// Three implementations sit behind one contract: a static snapshot, a
// control-plane client speaking an aggregated discovery stream, and an
// etcd-backed watcher. Consumers subscribe per resource type, receive
// full snapshots, and acknowledge or reject each one; a rejected
// snapshot never displaces the previously accepted state.
package discovery

import "context"

// ResourceType identifies one kind of discovered resource.
type ResourceType string

const (
	// TypeClusters carries named endpoint sets with selection policies.
	TypeClusters ResourceType = "meshrpc.v1.Cluster"
	// TypeRoutes carries the ordered route table.
	TypeRoutes ResourceType = "meshrpc.v1.Route"
)

// Endpoint is one backend address within a cluster.
type Endpoint struct {
	Address string `json:"address"`
}

// ClusterResource is a named, load-balanced group of endpoints.
type ClusterResource struct {
	Name string `json:"name"`

	// Policy names the selection policy; "" means round-robin.
	Policy string `json:"policy,omitempty"`

	Endpoints []Endpoint `json:"endpoints"`
}

// HeaderMatch is one header predicate of a route.
type HeaderMatch struct {
	// Name of the metadata key to test.
	Name string `json:"name"`

	// Exact requires the first value to equal this string. Ignored
	// when empty and Present is set.
	Exact string `json:"exact,omitempty"`

	// Present requires the key to exist with any value.
	Present bool `json:"present,omitempty"`
}

// RouteResource maps call metadata to a target cluster.
type RouteResource struct {
	Name string `json:"name"`

	// Authority restricts the route to calls targeting this authority.
	// "" matches any authority.
	Authority string `json:"authority,omitempty"`

	Headers []HeaderMatch `json:"headers,omitempty"`

	// Cluster is the target cluster name.
	Cluster string `json:"cluster"`
}

// Snapshot is one full view of a resource type at a version. Snapshots
// always replace wholesale; no client-side merging happens.
type Snapshot struct {
	Type    ResourceType
	Version string
	Nonce   string

	Clusters []ClusterResource
	Routes   []RouteResource
}

// Source is the endpoint discovery contract.
//
// Subscribe must be called before Run; each resource type supports one
// subscriber. The snapshot sequence is unbounded and restarts
// transparently on reconnect. Every delivered snapshot must be
// answered with Ack or Nack — a Nacked version is never reused, the
// source keeps resending the last acknowledged one.
type Source interface {
	Subscribe(t ResourceType, names []string) <-chan Snapshot
	Ack(t ResourceType, version, nonce string)
	Nack(t ResourceType, version, nonce, detail string)

	// Run drives the source until ctx is canceled.
	Run(ctx context.Context) error
}
