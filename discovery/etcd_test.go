package discovery

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Needs a reachable etcd; set ETCD_ENDPOINTS to run, e.g.
// ETCD_ENDPOINTS=127.0.0.1:2379 go test ./discovery
func newEtcdSource(t *testing.T) *Etcd {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	src, err := NewEtcd(EtcdConfig{
		Endpoints: strings.Split(endpoints, ","),
		Prefix:    "/meshrpc-test/" + t.Name(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return src
}

func TestEtcdRegisterAndWatch(t *testing.T) {
	src := newEtcdSource(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snaps := src.Subscribe(TypeClusters, nil)
	go src.Run(ctx)

	// Initial snapshot of an empty keyspace.
	snap := <-snaps
	require.Empty(t, snap.Clusters)

	require.NoError(t, src.Register(ctx, "svc-main", Endpoint{Address: "10.0.0.1:50051"}, 10))

	snap = <-snaps
	require.Len(t, snap.Clusters, 1)
	require.Equal(t, "svc-main", snap.Clusters[0].Name)
	require.Equal(t, "10.0.0.1:50051", snap.Clusters[0].Endpoints[0].Address)

	require.NoError(t, src.Deregister(ctx, "svc-main", "10.0.0.1:50051"))
	snap = <-snaps
	require.Empty(t, snap.Clusters)
}
