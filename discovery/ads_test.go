package discovery

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"meshrpc/backoff"
	"meshrpc/call"
	"meshrpc/server"
	"meshrpc/transport"
)

// controlPlane is a scripted discovery server: every request lands on
// Requests, every Response queued on Responses is sent to the client,
// and EndStream tears the active stream down on demand.
type controlPlane struct {
	Requests  chan Request
	Responses chan Response
	EndStream chan struct{}
}

func startControlPlane(t *testing.T) (*controlPlane, transport.Conn) {
	t.Helper()
	cp := &controlPlane{
		Requests:  make(chan Request, 16),
		Responses: make(chan Response, 16),
		EndStream: make(chan struct{}),
	}

	srv := server.New(server.Config{Logger: zerolog.Nop()})
	require.NoError(t, srv.Register(StreamDesc, func(ctx context.Context, s *server.Stream) error {
		recvErr := make(chan error, 1)
		go func() {
			for {
				var req Request
				if err := s.Recv(&req); err != nil {
					recvErr <- err
					return
				}
				cp.Requests <- req
			}
		}()
		for {
			select {
			case resp := <-cp.Responses:
				if err := s.Send(&resp); err != nil {
					return err
				}
			case err := <-recvErr:
				if err == io.EOF {
					return nil
				}
				return err
			case <-cp.EndStream:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}))

	conn, lis := transport.Pipe()
	go srv.Serve(context.Background(), lis)
	t.Cleanup(func() { lis.Close() })
	return cp, conn
}

func newTestADS(t *testing.T, conn transport.Conn) *ADSClient {
	t.Helper()
	return NewADS(ADSConfig{
		Invoker: call.NewConn(conn, call.ConnConfig{}),
		Node:    "test-node",
		Backoff: backoff.Config{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2, NoJitter: true},
		Logger:  zerolog.Nop(),
	})
}

func recvRequest(t *testing.T, cp *controlPlane) Request {
	t.Helper()
	select {
	case req := <-cp.Requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a discovery request")
		return Request{}
	}
}

func recvSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return Snapshot{}
	}
}

func TestADSSnapshotAndAck(t *testing.T) {
	cp, conn := startControlPlane(t)
	ads := newTestADS(t, conn)
	snaps := ads.Subscribe(TypeClusters, []string{"svc-main"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ads.Run(ctx)

	initial := recvRequest(t, cp)
	require.Equal(t, string(TypeClusters), initial.TypeURL)
	require.Equal(t, []string{"svc-main"}, initial.ResourceNames)
	require.Empty(t, initial.VersionInfo)
	require.Equal(t, "test-node", initial.Node)

	cp.Responses <- Response{
		TypeURL:     string(TypeClusters),
		VersionInfo: "v1",
		Nonce:       "n1",
		Clusters:    []ClusterResource{{Name: "svc-main", Endpoints: []Endpoint{{Address: "a:1"}}}},
	}

	snap := recvSnapshot(t, snaps)
	require.Equal(t, "v1", snap.Version)
	require.Equal(t, "n1", snap.Nonce)
	require.Len(t, snap.Clusters, 1)

	ads.Ack(snap.Type, snap.Version, snap.Nonce)
	ack := recvRequest(t, cp)
	require.Equal(t, "v1", ack.VersionInfo)
	require.Equal(t, "n1", ack.ResponseNonce)
	require.Empty(t, ack.ErrorDetail)
}

func TestADSNackKeepsLastAcceptedVersion(t *testing.T) {
	cp, conn := startControlPlane(t)
	ads := newTestADS(t, conn)
	snaps := ads.Subscribe(TypeRoutes, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ads.Run(ctx)

	recvRequest(t, cp) // initial

	cp.Responses <- Response{TypeURL: string(TypeRoutes), VersionInfo: "v1", Nonce: "n1"}
	snap := recvSnapshot(t, snaps)
	ads.Ack(snap.Type, "v1", "n1")
	recvRequest(t, cp) // ack of v1

	cp.Responses <- Response{TypeURL: string(TypeRoutes), VersionInfo: "v2", Nonce: "n2"}
	recvSnapshot(t, snaps)
	ads.Nack(TypeRoutes, "v2", "n2", "route references unknown cluster")

	nack := recvRequest(t, cp)
	require.Equal(t, "v1", nack.VersionInfo, "a rejection must carry the last accepted version")
	require.Equal(t, "n2", nack.ResponseNonce)
	require.Equal(t, "route references unknown cluster", nack.ErrorDetail)
}

func TestADSReconnectResendsLastAccepted(t *testing.T) {
	cp, conn := startControlPlane(t)
	ads := newTestADS(t, conn)
	snaps := ads.Subscribe(TypeClusters, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ads.Run(ctx)

	recvRequest(t, cp) // initial
	cp.Responses <- Response{TypeURL: string(TypeClusters), VersionInfo: "v3", Nonce: "n3"}
	snap := recvSnapshot(t, snaps)
	ads.Ack(snap.Type, "v3", "n3")
	recvRequest(t, cp) // ack

	// Kill the stream; the client reconnects and resumes from v3.
	cp.EndStream <- struct{}{}
	resumed := recvRequest(t, cp)
	require.Equal(t, "v3", resumed.VersionInfo)
	require.Empty(t, resumed.ResponseNonce)
}
