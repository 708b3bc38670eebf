package discovery

import "testing"

func TestStaticDeliversOneSnapshot(t *testing.T) {
	src := NewStatic(
		[]ClusterResource{
			{Name: "a", Endpoints: []Endpoint{{Address: "a:1"}}},
			{Name: "b", Endpoints: []Endpoint{{Address: "b:1"}}},
		},
		[]RouteResource{{Name: "r", Cluster: "a"}},
	)

	ch := src.Subscribe(TypeClusters, []string{"a"})
	snap := <-ch
	if snap.Type != TypeClusters || snap.Version != StaticVersion {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Clusters) != 1 || snap.Clusters[0].Name != "a" {
		t.Fatalf("clusters = %v, want only a", snap.Clusters)
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second snapshot %+v", extra)
	default:
	}

	routes := <-src.Subscribe(TypeRoutes, nil)
	if len(routes.Routes) != 1 || routes.Routes[0].Cluster != "a" {
		t.Fatalf("routes = %v", routes.Routes)
	}
}
