package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/node"
	"github.com/rs/zerolog"
)

// Node is the subset of *node.Node the registry depends on. Expressing it
// as an interface keeps the placement algorithm and query surface testable
// without a real gRPC session underneath every node.
type Node interface {
	Status() node.Status
	Pools() []entity.Pool
	Pool(name string) (entity.Pool, bool)
	PoolReplicaCount(pool string) int
	Replicas() []entity.Replica
	Nexuses() []entity.Nexus
	Nexus(uuid string) (entity.Nexus, bool)

	CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (entity.Replica, error)
	DestroyReplica(ctx context.Context, uuid string) error
	ShareReplica(ctx context.Context, uuid string, protocol entity.ShareProtocol) (entity.Replica, error)
	CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (entity.Nexus, error)
	DestroyNexus(ctx context.Context, uuid string) error
	AddChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error)
	RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error)
	PublishNexus(ctx context.Context, uuid string, protocol entity.ShareProtocol) (string, error)
	UnpublishNexus(ctx context.Context, uuid string) error

	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
	Start(ctx context.Context)
	Stop()
}

type entry struct {
	node     Node
	sub      events.Subscriber
	stopCh   chan struct{}
	endpoint string
}

// Registry is the in-memory catalog of every known storage node.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]*entry
	broker  *events.Broker
	logger  zerolog.Logger
	newNode func(name, endpoint string) Node
}

// New creates an empty Registry. newNode constructs the Node for a given
// (name, endpoint) pair; production callers pass a function wrapping
// node.New, tests pass a fake-backed constructor.
func New(newNode func(name, endpoint string) Node) *Registry {
	r := &Registry{
		nodes:   make(map[string]*entry),
		broker:  events.NewBroker(),
		logger:  log.WithComponent("registry"),
		newNode: newNode,
	}
	r.broker.Start()
	return r
}

// Subscribe returns a channel of every node/pool/replica/nexus event
// relayed from any registered node.
func (r *Registry) Subscribe() events.Subscriber {
	return r.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (r *Registry) Unsubscribe(sub events.Subscriber) {
	r.broker.Unsubscribe(sub)
}

// AddNode registers name/endpoint, idempotently. If name is already
// registered with a different endpoint, the old Node is disconnected and
// replaced; if the endpoint is unchanged, the call is a no-op.
func (r *Registry) AddNode(ctx context.Context, name, endpoint string) error {
	r.mu.Lock()
	if e, ok := r.nodes[name]; ok {
		if e.endpoint == endpoint {
			r.mu.Unlock()
			return nil
		}
		r.unregisterLocked(name)
	}

	n := r.newNode(name, endpoint)
	sub := n.Subscribe()
	e := &entry{node: n, sub: sub, stopCh: make(chan struct{}), endpoint: endpoint}
	r.nodes[name] = e
	r.mu.Unlock()

	go r.relay(e)
	n.Start(ctx)

	r.logger.Info().Str("node", name).Str("endpoint", endpoint).Msg("node registered")
	return nil
}

// RemoveNode disconnects and drops a node. Any event already in flight from
// it is discarded by the relay goroutine rather than forwarded.
func (r *Registry) RemoveNode(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; !ok {
		return fmt.Errorf("registry: node %q not found", name)
	}
	r.unregisterLocked(name)
	return nil
}

func (r *Registry) unregisterLocked(name string) {
	e := r.nodes[name]
	delete(r.nodes, name)
	close(e.stopCh)
	e.node.Stop()
	e.node.Unsubscribe(e.sub)
}

// relay forwards every event a node emits onto the registry's broker, until
// either the node's own channel closes or the entry is unregistered.
func (r *Registry) relay(e *entry) {
	for {
		select {
		case ev, ok := <-e.sub:
			if !ok {
				return
			}
			r.broker.Publish(ev)
		case <-e.stopCh:
			return
		}
	}
}

// GetNode returns the named node, if registered.
func (r *Registry) GetNode(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[name]
	if !ok {
		return nil, false
	}
	return e.node, true
}

// Nodes returns every registered node.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, e.node)
	}
	return out
}

// NodeNames returns the registered name of every node, in no particular order.
func (r *Registry) NodeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		out = append(out, name)
	}
	return out
}

// GetPool looks up a pool by (node, pool-name).
func (r *Registry) GetPool(nodeName, poolName string) (entity.Pool, bool) {
	n, ok := r.GetNode(nodeName)
	if !ok {
		return entity.Pool{}, false
	}
	return n.Pool(poolName)
}

// Pools returns every pool known across every registered node.
func (r *Registry) Pools() []entity.Pool {
	var out []entity.Pool
	for _, n := range r.Nodes() {
		out = append(out, n.Pools()...)
	}
	return out
}

// GetReplicaSet returns every replica with the given volume uuid, across
// every node (spec.md §3: "at most one Replica per Node per Volume", so at
// most one entry per node is expected but not enforced here).
func (r *Registry) GetReplicaSet(uuid string) []entity.Replica {
	var out []entity.Replica
	for _, n := range r.Nodes() {
		for _, rep := range n.Replicas() {
			if rep.UUID == uuid {
				out = append(out, rep)
			}
		}
	}
	return out
}

// GetNexus finds the nexus with the given uuid across every node.
func (r *Registry) GetNexus(uuid string) (entity.Nexus, bool) {
	for _, n := range r.Nodes() {
		if x, ok := n.Nexus(uuid); ok {
			return x, true
		}
	}
	return entity.Nexus{}, false
}

// GetCapacity sums FreeBytes over every accessible pool, optionally scoped
// to a single node.
func (r *Registry) GetCapacity(nodeName string) uint64 {
	var total uint64
	nodes := r.Nodes()
	if nodeName != "" {
		n, ok := r.GetNode(nodeName)
		if !ok {
			return 0
		}
		nodes = []Node{n}
	}
	for _, n := range nodes {
		for _, p := range n.Pools() {
			if p.Accessible() {
				total += p.FreeBytes()
			}
		}
	}
	return total
}
