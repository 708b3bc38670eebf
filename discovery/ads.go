package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meshrpc/backoff"
	"meshrpc/call"
	"meshrpc/codec"
)

// StreamDesc is the aggregated discovery method: one bidirectional
// stream carries requests and responses for every resource type.
var StreamDesc = &call.Desc{
	Name:          "AggregatedDiscovery.StreamResources",
	ClientStreams: true,
	ServerStreams: true,
	Codec:         codec.JSON,
}

// Request is the discovery request envelope. VersionInfo always names
// the last *accepted* version for the type: after a rejection the
// client keeps resending it, never the rejected one.
type Request struct {
	TypeURL       string   `json:"type_url"`
	ResourceNames []string `json:"resource_names,omitempty"`
	VersionInfo   string   `json:"version_info,omitempty"`
	ResponseNonce string   `json:"response_nonce,omitempty"`
	ErrorDetail   string   `json:"error_detail,omitempty"`
	Node          string   `json:"node,omitempty"`
}

// Response is the discovery response envelope: a full snapshot of one
// resource type at a version, tagged with a nonce to echo back.
type Response struct {
	TypeURL     string            `json:"type_url"`
	VersionInfo string            `json:"version_info"`
	Nonce       string            `json:"nonce"`
	Clusters    []ClusterResource `json:"clusters,omitempty"`
	Routes      []RouteResource   `json:"routes,omitempty"`
}

// ADSConfig parameterizes an ADS client.
type ADSConfig struct {
	// Invoker issues the discovery stream, typically a call.Conn to
	// the control-plane server.
	Invoker call.Invoker

	// Node identifies this client to the control plane. Defaults to a
	// random identifier.
	Node string

	Backoff backoff.Config
	Logger  zerolog.Logger
}

type subscription struct {
	names     []string
	ch        chan Snapshot
	lastAcked string
}

type ackEvent struct {
	t        ResourceType
	version  string
	nonce    string
	detail   string
	accepted bool
}

// ADSClient maintains one long-lived bidirectional stream to the
// control plane, reconnecting with jittered exponential backoff. It is
// a single cooperative task: subscribers receive snapshots over
// channels and acknowledgments flow back the same way, so no state is
// shared across goroutines.
type ADSClient struct {
	cfg  ADSConfig
	mu   sync.Mutex
	subs map[ResourceType]*subscription
	acks chan ackEvent
}

// NewADS creates an ADS client. Subscribe before calling Run.
func NewADS(cfg ADSConfig) *ADSClient {
	if cfg.Node == "" {
		cfg.Node = uuid.NewString()
	}
	cfg.Backoff = cfg.Backoff.WithDefaults()
	return &ADSClient{
		cfg:  cfg,
		subs: make(map[ResourceType]*subscription),
		acks: make(chan ackEvent, 16),
	}
}

func (c *ADSClient) Subscribe(t ResourceType, names []string) <-chan Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &subscription{names: names, ch: make(chan Snapshot, 4)}
	c.subs[t] = sub
	return sub.ch
}

func (c *ADSClient) Ack(t ResourceType, version, nonce string) {
	c.mu.Lock()
	if sub, ok := c.subs[t]; ok {
		sub.lastAcked = version
	}
	c.mu.Unlock()
	c.acks <- ackEvent{t: t, version: version, nonce: nonce, accepted: true}
}

func (c *ADSClient) Nack(t ResourceType, version, nonce, detail string) {
	c.acks <- ackEvent{t: t, version: version, nonce: nonce, detail: detail}
}

func (c *ADSClient) lastAcked(t ResourceType) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[t]; ok {
		return sub.lastAcked
	}
	return ""
}

// Run drives the stream until ctx is canceled, reconnecting on every
// stream failure. Reconnects resend the subscriptions with the last
// accepted versions, so the server can resume from where the client
// actually is.
func (c *ADSClient) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		err := c.runStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		delay := c.cfg.Backoff.Delay(attempt, rng)
		c.cfg.Logger.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt).
			Msg("discovery stream failed, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ADSClient) runStream(ctx context.Context) error {
	stream, err := call.BidiCall(ctx, c.cfg.Invoker, StreamDesc)
	if err != nil {
		return err
	}
	defer stream.Close()

	c.mu.Lock()
	subs := make(map[ResourceType]*subscription, len(c.subs))
	for t, sub := range c.subs {
		subs[t] = sub
	}
	c.mu.Unlock()

	for t, sub := range subs {
		req := Request{
			TypeURL:       string(t),
			ResourceNames: sub.names,
			VersionInfo:   c.lastAcked(t),
			Node:          c.cfg.Node,
		}
		if err := stream.Send(req); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	respCh := make(chan Response)
	errCh := make(chan error, 1)
	go func() {
		for {
			var resp Response
			if err := stream.Recv(&resp); err != nil {
				errCh <- err
				return
			}
			select {
			case respCh <- resp:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case resp := <-respCh:
			t := ResourceType(resp.TypeURL)
			sub, ok := subs[t]
			if !ok {
				c.cfg.Logger.Warn().Str("resource", resp.TypeURL).Msg("response for unsubscribed resource type")
				continue
			}
			snap := Snapshot{
				Type:     t,
				Version:  resp.VersionInfo,
				Nonce:    resp.Nonce,
				Clusters: resp.Clusters,
				Routes:   resp.Routes,
			}
			select {
			case sub.ch <- snap:
			case <-ctx.Done():
				return ctx.Err()
			}

		case ack := <-c.acks:
			sub, ok := subs[ack.t]
			if !ok {
				continue
			}
			req := Request{
				TypeURL:       string(ack.t),
				ResourceNames: sub.names,
				ResponseNonce: ack.nonce,
				Node:          c.cfg.Node,
			}
			if ack.accepted {
				req.VersionInfo = ack.version
			} else {
				req.VersionInfo = c.lastAcked(ack.t)
				req.ErrorDetail = ack.detail
			}
			if err := stream.Send(req); err != nil {
				return err
			}

		case err := <-errCh:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
