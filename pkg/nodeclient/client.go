package nodeclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/mayastorpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// State is the Client's own connection state. It is distinct from Node's
// (C3) up/down state: Node governs when to call Connect/Disconnect, Client
// only tracks whether the channel it owns is usable right now.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// DefaultCallTimeout bounds every south-bound RPC issued through a Client,
// per spec.md §5: "Each outbound RPC has a bounded deadline."
const DefaultCallTimeout = 5 * time.Second

// Client is a reconnectable RPC session to a single storage node's
// Mayastor gRPC endpoint.
type Client struct {
	Endpoint    string
	CallTimeout time.Duration

	mu     sync.Mutex
	state  State
	conn   *grpc.ClientConn
	rpc    *mayastorpb.Client
	logger zerolog.Logger
}

// New creates a disconnected Client for endpoint.
func New(endpoint string) *Client {
	return &Client{
		Endpoint:    endpoint,
		CallTimeout: DefaultCallTimeout,
		state:       StateDisconnected,
		logger:      log.WithComponent("nodeclient").With().Str("endpoint", endpoint).Logger(),
	}
}

// State returns the Client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the node's endpoint. It is idempotent: calling Connect
// while already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := grpc.NewClient(
		c.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(mayastorpb.CodecName)),
	)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("nodeclient: dial %s: %w", c.Endpoint, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.rpc = mayastorpb.NewClient(conn)
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info().Msg("connected to node")
	return nil
}

// Disconnect tears down the channel and returns to StateDisconnected. It is
// idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.state = StateDisconnected
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rpc = nil
	c.state = StateDisconnected
	return err
}

func (c *Client) rpcOrErr() (*mayastorpb.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.rpc == nil {
		return nil, ErrDisconnected
	}
	return c.rpc, nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.CallTimeout)
}

// onFailure transitions the session to disconnected whenever an RPC reports
// the channel itself is unusable (as opposed to a domain-level NOT_FOUND /
// ALREADY_EXISTS, which says nothing about transport health).
func (c *Client) onFailure(err error) {
	if Classify(err) != KindUnavailable {
		return
	}
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Client) ListPools(ctx context.Context) ([]mayastorpb.Pool, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.ListPools(cctx, &mayastorpb.ListPoolsRequest{})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return reply.Pools, nil
}

func (c *Client) CreatePool(ctx context.Context, name string, disks []string) (*mayastorpb.Pool, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.CreatePool(cctx, &mayastorpb.CreatePoolRequest{Name: name, Disks: disks})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return &reply.Pool, nil
}

func (c *Client) DestroyPool(ctx context.Context, name string) error {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err = rpc.DestroyPool(cctx, &mayastorpb.DestroyPoolRequest{Name: name})
	if err != nil && !IsNotFound(err) {
		c.onFailure(err)
		return err
	}
	return nil
}

func (c *Client) ListReplicas(ctx context.Context) ([]mayastorpb.Replica, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.ListReplicas(cctx, &mayastorpb.ListReplicasRequest{})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return reply.Replicas, nil
}

func (c *Client) CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (*mayastorpb.Replica, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.CreateReplica(cctx, &mayastorpb.CreateReplicaRequest{UUID: uuid, Pool: pool, Size: size, Thin: thin})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return &reply.Replica, nil
}

func (c *Client) DestroyReplica(ctx context.Context, uuid string) error {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err = rpc.DestroyReplica(cctx, &mayastorpb.DestroyReplicaRequest{UUID: uuid})
	if err != nil && !IsNotFound(err) {
		c.onFailure(err)
		return err
	}
	return nil
}

func (c *Client) ShareReplica(ctx context.Context, uuid, protocol string) (string, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return "", err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.ShareReplica(cctx, &mayastorpb.ShareReplicaRequest{UUID: uuid, Protocol: protocol})
	if err != nil {
		c.onFailure(err)
		return "", err
	}
	return reply.URI, nil
}

func (c *Client) ListNexus(ctx context.Context) ([]mayastorpb.Nexus, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.ListNexus(cctx, &mayastorpb.ListNexusRequest{})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return reply.Nexus, nil
}

func (c *Client) CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (*mayastorpb.Nexus, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.CreateNexus(cctx, &mayastorpb.CreateNexusRequest{UUID: uuid, Size: size, Children: children})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return &reply.Nexus, nil
}

func (c *Client) DestroyNexus(ctx context.Context, uuid string) error {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err = rpc.DestroyNexus(cctx, &mayastorpb.DestroyNexusRequest{UUID: uuid})
	if err != nil && !IsNotFound(err) {
		c.onFailure(err)
		return err
	}
	return nil
}

func (c *Client) AddChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.AddChildNexus(cctx, &mayastorpb.AddChildNexusRequest{NexusUUID: nexusUUID, URI: uri})
	if err != nil {
		c.onFailure(err)
		return nil, err
	}
	return &reply.Nexus, nil
}

func (c *Client) RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return nil, err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.RemoveChildNexus(cctx, &mayastorpb.RemoveChildNexusRequest{NexusUUID: nexusUUID, URI: uri})
	if err != nil && !IsNotFound(err) {
		c.onFailure(err)
		return nil, err
	}
	return &reply.Nexus, nil
}

func (c *Client) PublishNexus(ctx context.Context, uuid, protocol string) (string, error) {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return "", err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	reply, err := rpc.PublishNexus(cctx, &mayastorpb.PublishNexusRequest{UUID: uuid, Protocol: protocol})
	if err != nil {
		c.onFailure(err)
		return "", err
	}
	return reply.DeviceURI, nil
}

func (c *Client) UnpublishNexus(ctx context.Context, uuid string) error {
	rpc, err := c.rpcOrErr()
	if err != nil {
		return err
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err = rpc.UnpublishNexus(cctx, &mayastorpb.UnpublishNexusRequest{UUID: uuid})
	if err != nil && !IsNotFound(err) {
		c.onFailure(err)
		return err
	}
	return nil
}
