package discovery

import "context"

// StaticVersion is the constant version of static snapshots.
const StaticVersion = "static"

// Static serves a fixed configuration: each subscribed type receives
// one snapshot and never another. Ack and Nack are no-ops.
type Static struct {
	clusters []ClusterResource
	routes   []RouteResource
}

// NewStatic builds a static source from fixed cluster and route lists.
func NewStatic(clusters []ClusterResource, routes []RouteResource) *Static {
	return &Static{clusters: clusters, routes: routes}
}

func (s *Static) Subscribe(t ResourceType, names []string) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	snap := Snapshot{Type: t, Version: StaticVersion}
	switch t {
	case TypeClusters:
		snap.Clusters = filterClusters(s.clusters, names)
	case TypeRoutes:
		snap.Routes = s.routes
	}
	ch <- snap
	return ch
}

func (s *Static) Ack(ResourceType, string, string)          {}
func (s *Static) Nack(ResourceType, string, string, string) {}

func (s *Static) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func filterClusters(clusters []ClusterResource, names []string) []ClusterResource {
	if len(names) == 0 {
		return clusters
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	out := make([]ClusterResource, 0, len(names))
	for _, c := range clusters {
		if wanted[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
