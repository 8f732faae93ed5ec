package node

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/mayastorpb"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
	"github.com/cuemby/mayastor-control-plane/pkg/nodeclient"
	"github.com/rs/zerolog"
)

// RPCClient is the subset of *nodeclient.Client that Node depends on. It
// exists so tests can substitute a fake south-bound session without a real
// gRPC server; nodeclient.Client satisfies it.
type RPCClient interface {
	Connect(ctx context.Context) error
	Disconnect() error

	ListPools(ctx context.Context) ([]mayastorpb.Pool, error)
	CreatePool(ctx context.Context, name string, disks []string) (*mayastorpb.Pool, error)
	DestroyPool(ctx context.Context, name string) error

	ListReplicas(ctx context.Context) ([]mayastorpb.Replica, error)
	CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (*mayastorpb.Replica, error)
	DestroyReplica(ctx context.Context, uuid string) error
	ShareReplica(ctx context.Context, uuid, protocol string) (string, error)

	ListNexus(ctx context.Context) ([]mayastorpb.Nexus, error)
	CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (*mayastorpb.Nexus, error)
	DestroyNexus(ctx context.Context, uuid string) error
	AddChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error)
	RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error)
	PublishNexus(ctx context.Context, uuid, protocol string) (string, error)
	UnpublishNexus(ctx context.Context, uuid string) error
}

// Status is the Node's up/down state as observed by its own sync loop, not
// to be confused with nodeclient.State which tracks the raw channel.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
)

// DefaultSyncInterval is how often a connected Node re-enumerates its
// pools/replicas/nexuses.
const DefaultSyncInterval = 10 * time.Second

// Node owns one storage node's RPC session plus everything discovered on
// it. All map access is guarded by mu; the sync loop is this Node's single
// writer, mutators run on whatever goroutine calls them (serialized the
// same way, via mu).
type Node struct {
	Name     string
	Endpoint string

	client       RPCClient
	broker       *events.Broker
	backoff      *nodeclient.Backoff
	syncInterval time.Duration

	mu       sync.RWMutex
	status   Status
	pools    map[string]entity.Pool
	replicas map[string]map[string]entity.Replica // pool name -> replica uuid -> Replica
	nexuses  map[string]entity.Nexus

	stopCh chan struct{}
	logger zerolog.Logger
}

// New creates a Node in StatusOffline with an empty model. Call Start to
// begin connecting and syncing.
func New(name, endpoint string) *Node {
	return newNode(name, endpoint, nodeclient.New(endpoint))
}

// NewWithClient is used by tests to inject a fake RPCClient in place of a
// real gRPC session.
func NewWithClient(name, endpoint string, client RPCClient) *Node {
	return newNode(name, endpoint, client)
}

func newNode(name, endpoint string, client RPCClient) *Node {
	return &Node{
		Name:         name,
		Endpoint:     endpoint,
		client:       client,
		broker:       events.NewBroker(),
		backoff:      nodeclient.DefaultBackoff(),
		syncInterval: DefaultSyncInterval,
		status:       StatusOffline,
		pools:        make(map[string]entity.Pool),
		replicas:     make(map[string]map[string]entity.Replica),
		nexuses:      make(map[string]entity.Nexus),
		stopCh:       make(chan struct{}),
		logger:       log.WithComponent("node").With().Str("node", name).Logger(),
	}
}

// Subscribe returns a channel of every event this Node emits. The Registry
// subscribes to every registered Node and relays onward.
func (n *Node) Subscribe() events.Subscriber {
	return n.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (n *Node) Unsubscribe(sub events.Subscriber) {
	n.broker.Unsubscribe(sub)
}

// Status reports whether the node is currently considered online.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Start begins the connect/sync/reconnect loop in the background.
func (n *Node) Start(ctx context.Context) {
	n.broker.Start()
	go n.run(ctx)
}

// Stop halts the loop and tears down the RPC session. It does not block
// waiting for an in-flight sync to finish.
func (n *Node) Stop() {
	close(n.stopCh)
	_ = n.client.Disconnect()
	n.broker.Stop()
}

func (n *Node) run(ctx context.Context) {
reconnectLoop:
	for {
		if err := n.connectAndSync(ctx); err != nil {
			n.logger.Warn().Err(err).Msg("connect failed, backing off")
			delay := n.backoff.Next()
			select {
			case <-time.After(delay):
				continue reconnectLoop
			case <-n.stopCh:
				return
			}
		}
		n.backoff.Reset()

		if n.syncUntilFailure(ctx) {
			return
		}
		_ = n.client.Disconnect()
	}
}

// syncUntilFailure runs the periodic sync tick until either a sync fails
// (it marks the node offline and returns false, so run() redials) or Stop
// is called (returns true, so run() exits).
func (n *Node) syncUntilFailure(ctx context.Context) (stopped bool) {
	ticker := time.NewTicker(n.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := n.Sync(ctx); err != nil {
				n.logger.Warn().Err(err).Msg("sync failed, marking offline")
				metrics.NodeSyncFailuresTotal.WithLabelValues(n.Name).Inc()
				n.goOffline()
				return false
			}
		case <-n.stopCh:
			return true
		}
	}
}

// connectAndSync dials the node and runs the initial sync pass required
// before the node is considered online (spec.md §4.2: "on entering
// connected, an initial sync() runs").
func (n *Node) connectAndSync(ctx context.Context) error {
	if err := n.client.Connect(ctx); err != nil {
		return err
	}
	if err := n.Sync(ctx); err != nil {
		_ = n.client.Disconnect()
		return err
	}
	n.mu.Lock()
	wasOnline := n.status == StatusOnline
	n.status = StatusOnline
	n.mu.Unlock()
	if !wasOnline {
		n.emit(events.KindNode, events.OpMod, n.snapshotSelf())
	}
	return nil
}

// goOffline cascades OFFLINE onto every cached pool and replica and emits
// the resulting events, per entity.Pool.offline() in spec.md §4.3.
func (n *Node) goOffline() {
	n.mu.Lock()
	n.status = StatusOffline
	var poolEvents []entity.Pool
	var replicaEvents []entity.Replica
	for name, p := range n.pools {
		if p.State == entity.PoolOffline {
			continue
		}
		p.State = entity.PoolOffline
		n.pools[name] = p
		poolEvents = append(poolEvents, p)
		for uuid, r := range n.replicas[name] {
			if r.State == entity.ReplicaOffline {
				continue
			}
			r.State = entity.ReplicaOffline
			n.replicas[name][uuid] = r
			replicaEvents = append(replicaEvents, r)
		}
	}
	n.mu.Unlock()

	for _, p := range poolEvents {
		n.emit(events.KindPool, events.OpMod, p)
	}
	for _, r := range replicaEvents {
		n.emit(events.KindReplica, events.OpMod, r)
	}
	n.emit(events.KindNode, events.OpMod, n.snapshotSelf())
}

func (n *Node) snapshotSelf() NodeSnapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NodeSnapshot{Name: n.Name, Endpoint: n.Endpoint, Status: n.status}
}

// NodeSnapshot is the defensive-copy payload carried by KindNode events.
type NodeSnapshot struct {
	Name     string
	Endpoint string
	Status   Status
}

func (n *Node) emit(kind events.Kind, op events.Op, payload interface{}) {
	n.broker.Publish(&events.Event{Kind: kind, Op: op, NodeName: n.Name, Payload: payload})
}

// Pools returns a defensive copy of the node's current pool set.
func (n *Node) Pools() []entity.Pool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]entity.Pool, 0, len(n.pools))
	for _, p := range n.pools {
		out = append(out, p)
	}
	return out
}

// Pool looks up a single pool by name.
func (n *Node) Pool(name string) (entity.Pool, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.pools[name]
	return p, ok
}

// PoolReplicaCount reports how many replicas currently live on the named
// pool. The registry's placement algorithm uses this to prefer the
// least-loaded pool among otherwise-equal candidates.
func (n *Node) PoolReplicaCount(pool string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.replicas[pool])
}

// Replicas returns a defensive copy of every replica on the node.
func (n *Node) Replicas() []entity.Replica {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []entity.Replica
	for _, byUUID := range n.replicas {
		for _, r := range byUUID {
			out = append(out, r)
		}
	}
	return out
}

// Nexuses returns a defensive copy of every nexus on the node.
func (n *Node) Nexuses() []entity.Nexus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]entity.Nexus, 0, len(n.nexuses))
	for _, x := range n.nexuses {
		out = append(out, x)
	}
	return out
}

// Nexus looks up a single nexus by uuid.
func (n *Node) Nexus(uuid string) (entity.Nexus, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	x, ok := n.nexuses[uuid]
	return x, ok
}
