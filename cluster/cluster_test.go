package cluster

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"meshrpc/backoff"
	"meshrpc/discovery"
	"meshrpc/status"
	"meshrpc/transport"
)

var fastBackoff = backoff.Config{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2, NoJitter: true}

func newTestChannel(t *testing.T, net *transport.Network, addrs ...string) *Channel {
	t.Helper()
	ch := New(Config{
		Name:    "test-cluster",
		Dial:    net.Dial,
		Backoff: fastBackoff,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(ch.Close)

	eps := make([]discovery.Endpoint, len(addrs))
	for i, addr := range addrs {
		eps[i] = discovery.Endpoint{Address: addr}
	}
	ch.Update(eps)
	return ch
}

func waitHealthy(t *testing.T, ch *Channel, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		healthy := 0
		for _, h := range ch.Healths() {
			if h == Healthy {
				healthy++
			}
		}
		return healthy == n
	}, 2*time.Second, time.Millisecond)
}

func TestRoundRobinRotation(t *testing.T) {
	pool := []*Conn{{addr: "a"}, {addr: "b"}, {addr: "c"}}
	p := &RoundRobin{}

	seen := map[string]int{}
	for i := 0; i < len(pool); i++ {
		c, err := p.Pick(pool)
		require.NoError(t, err)
		seen[c.Addr()]++
	}
	// One full rotation touches every connection exactly once.
	require.Len(t, seen, len(pool))
	for addr, count := range seen {
		require.Equal(t, 1, count, "address %s", addr)
	}
}

func TestNewPicker(t *testing.T) {
	for _, policy := range []string{"", "round_robin"} {
		p, err := NewPicker(policy)
		require.NoError(t, err)
		require.Equal(t, "round_robin", p.Name())
	}
	_, err := NewPicker("weighted_mystery")
	require.Error(t, err)
}

func TestPickAcrossEndpoints(t *testing.T) {
	net := transport.NewNetwork()
	addrs := []string{"ep-1", "ep-2", "ep-3"}
	for _, addr := range addrs {
		_, err := net.Listen(addr)
		require.NoError(t, err)
	}

	ch := newTestChannel(t, net, addrs...)
	waitHealthy(t, ch, 3)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		conn, err := ch.Pick()
		require.NoError(t, err)
		seen[conn.Addr()] = true
	}
	require.Len(t, seen, 3, "rotation should touch every endpoint")
}

func TestPickEmptyCluster(t *testing.T) {
	net := transport.NewNetwork()
	ch := newTestChannel(t, net)

	_, err := ch.Pick()
	require.Equal(t, status.Unavailable, status.CodeOf(err))
	require.Contains(t, err.Error(), "test-cluster")
}

func TestFailedEndpointLeavesPool(t *testing.T) {
	net := transport.NewNetwork()
	lis1, err := net.Listen("ep-1")
	require.NoError(t, err)
	_, err = net.Listen("ep-2")
	require.NoError(t, err)

	ch := newTestChannel(t, net, "ep-1", "ep-2")
	waitHealthy(t, ch, 2)

	// Killing ep-1 terminates its dialed connections; only ep-2 should
	// be picked afterward.
	lis1.Close()
	require.Eventually(t, func() bool {
		return ch.Healths()["ep-1"] == Unhealthy
	}, 2*time.Second, time.Millisecond)

	for i := 0; i < 4; i++ {
		conn, err := ch.Pick()
		require.NoError(t, err)
		require.Equal(t, "ep-2", conn.Addr())
	}
}

func TestReconnectWithBackoff(t *testing.T) {
	net := transport.NewNetwork()
	ch := newTestChannel(t, net, "ep-late")

	require.Eventually(t, func() bool {
		return ch.Healths()["ep-late"] == Unhealthy
	}, 2*time.Second, time.Millisecond)

	_, err := net.Listen("ep-late")
	require.NoError(t, err)
	waitHealthy(t, ch, 1)

	conn, err := ch.Pick()
	require.NoError(t, err)
	require.Equal(t, "ep-late", conn.Addr())
}

func TestRemovedEndpointDrains(t *testing.T) {
	net := transport.NewNetwork()
	for _, addr := range []string{"ep-1", "ep-2"} {
		_, err := net.Listen(addr)
		require.NoError(t, err)
	}

	ch := newTestChannel(t, net, "ep-1", "ep-2")
	waitHealthy(t, ch, 2)

	var held *Conn
	for {
		conn, err := ch.Pick()
		require.NoError(t, err)
		if conn.Addr() == "ep-1" {
			held = conn
			break
		}
	}
	held.Acquire()

	ch.Update([]discovery.Endpoint{{Address: "ep-2"}})

	// The draining endpoint leaves the pool but its connection stays
	// open for the in-flight call.
	require.Eventually(t, func() bool {
		conn, err := ch.Pick()
		return err == nil && conn.Addr() == "ep-2"
	}, 2*time.Second, time.Millisecond)
	select {
	case <-held.Transport().Done():
		t.Fatal("draining connection closed with a call in flight")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()
	select {
	case <-held.Transport().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("draining connection not closed after last release")
	}
}
