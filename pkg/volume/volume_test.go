package volume

import (
	"context"
	"fmt"
	"testing"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/node"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode is a minimal registry.Node that serves ChoosePools/CreateReplica/
// CreateNexus calls directly off in-memory state, with no RPC underneath.
type fakeNode struct {
	name   string
	pools  []entity.Pool
	replicas []entity.Replica
	nexuses  []entity.Nexus
	broker *events.Broker
}

func newFakeNode(name string, pools ...entity.Pool) *fakeNode {
	for i := range pools {
		pools[i].Node = name
	}
	return &fakeNode{name: name, pools: pools, broker: events.NewBroker()}
}

func (f *fakeNode) Status() node.Status { return node.StatusOnline }

func (f *fakeNode) Pools() []entity.Pool { return f.pools }
func (f *fakeNode) Pool(name string) (entity.Pool, bool) {
	for _, p := range f.pools {
		if p.Name == name {
			return p, true
		}
	}
	return entity.Pool{}, false
}
func (f *fakeNode) PoolReplicaCount(pool string) int {
	n := 0
	for _, r := range f.replicas {
		if r.Pool == pool {
			n++
		}
	}
	return n
}
func (f *fakeNode) Replicas() []entity.Replica { return f.replicas }
func (f *fakeNode) Nexuses() []entity.Nexus    { return f.nexuses }
func (f *fakeNode) Nexus(uuid string) (entity.Nexus, bool) {
	for _, x := range f.nexuses {
		if x.UUID == uuid {
			return x, true
		}
	}
	return entity.Nexus{}, false
}

func (f *fakeNode) CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (entity.Replica, error) {
	for _, p := range f.pools {
		if p.Name == pool && p.FreeBytes() < size {
			return entity.Replica{}, fmt.Errorf("pool %s: out of space", pool)
		}
	}
	r := entity.Replica{UUID: uuid, Pool: pool, Node: f.name, Size: size, Thin: thin, State: entity.ReplicaOnline, Share: entity.ShareNone}
	f.replicas = append(f.replicas, r)
	return r, nil
}
func (f *fakeNode) DestroyReplica(ctx context.Context, uuid string) error {
	out := f.replicas[:0]
	for _, r := range f.replicas {
		if r.UUID != uuid {
			out = append(out, r)
		}
	}
	f.replicas = out
	return nil
}
func (f *fakeNode) ShareReplica(ctx context.Context, uuid string, protocol entity.ShareProtocol) (entity.Replica, error) {
	for i, r := range f.replicas {
		if r.UUID == uuid {
			f.replicas[i].Share = protocol
			if protocol == entity.ShareNone {
				f.replicas[i].URI = "bdev:///" + uuid
			} else {
				f.replicas[i].URI = "nvmf://" + f.name + "/" + uuid
			}
			return f.replicas[i], nil
		}
	}
	return entity.Replica{}, fmt.Errorf("replica %s not found", uuid)
}
func (f *fakeNode) CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (entity.Nexus, error) {
	x := entity.Nexus{UUID: uuid, Node: f.name, Size: size, State: entity.ReplicaOnline}
	for _, c := range children {
		x.Children = append(x.Children, entity.NexusChild{URI: c, State: entity.ReplicaOnline})
	}
	f.nexuses = append(f.nexuses, x)
	return x, nil
}
func (f *fakeNode) DestroyNexus(ctx context.Context, uuid string) error {
	out := f.nexuses[:0]
	for _, x := range f.nexuses {
		if x.UUID != uuid {
			out = append(out, x)
		}
	}
	f.nexuses = out
	return nil
}
func (f *fakeNode) AddChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error) {
	for i, x := range f.nexuses {
		if x.UUID == nexusUUID {
			f.nexuses[i].Children = append(f.nexuses[i].Children, entity.NexusChild{URI: uri, State: entity.ReplicaOnline})
			return f.nexuses[i], nil
		}
	}
	return entity.Nexus{}, fmt.Errorf("nexus %s not found", nexusUUID)
}
func (f *fakeNode) RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error) {
	for i, x := range f.nexuses {
		if x.UUID == nexusUUID {
			kept := x.Children[:0]
			for _, c := range x.Children {
				if c.URI != uri {
					kept = append(kept, c)
				}
			}
			f.nexuses[i].Children = kept
			return f.nexuses[i], nil
		}
	}
	return entity.Nexus{}, fmt.Errorf("nexus %s not found", nexusUUID)
}
func (f *fakeNode) PublishNexus(ctx context.Context, uuid string, protocol entity.ShareProtocol) (string, error) {
	return "nvmf://" + f.name + "/" + uuid, nil
}
func (f *fakeNode) UnpublishNexus(ctx context.Context, uuid string) error { return nil }

func (f *fakeNode) Subscribe() events.Subscriber      { return f.broker.Subscribe() }
func (f *fakeNode) Unsubscribe(sub events.Subscriber) { f.broker.Unsubscribe(sub) }
func (f *fakeNode) Start(ctx context.Context)         { f.broker.Start() }
func (f *fakeNode) Stop()                             { f.broker.Stop() }

func newTestRegistry(t *testing.T, nodes ...*fakeNode) *registry.Registry {
	t.Helper()
	byName := make(map[string]*fakeNode, len(nodes))
	for _, n := range nodes {
		byName[n.name] = n
	}
	r := registry.New(func(name, endpoint string) registry.Node {
		n, ok := byName[name]
		require.True(t, ok, "no fake node registered for %q", name)
		return n
	})
	for _, n := range nodes {
		require.NoError(t, r.AddNode(context.Background(), n.name, "unused:0"))
	}
	return r
}

// Concrete scenario 5 (spec.md §8): CreateVolume happy path.
func TestEnsureVolume_HappyPath(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	n2 := newFakeNode("n2", entity.Pool{Name: "P2", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1, n2)
	mgr := NewManager(reg)

	uuid := "753b391c-9b04-4ce3-9c74-9d949152e547"
	vol, err := mgr.EnsureVolume(context.Background(), uuid, Spec{
		Name:          "pvc-" + uuid,
		ReplicaCount:  2,
		RequiredBytes: 64,
	})
	require.NoError(t, err)
	assert.Len(t, vol.Replicas, 2)
	require.NotNil(t, vol.Nexus)
	assert.Equal(t, entity.VolumeOnline, vol.State)

	seenNodes := map[string]bool{}
	for _, r := range vol.Replicas {
		seenNodes[r.Node] = true
	}
	assert.True(t, seenNodes["n1"])
	assert.True(t, seenNodes["n2"])
}

// P2: after ensure() succeeds, the nexus-local replica is unshared and
// every other replica is shared over NVMe-oF.
func TestEnsureVolume_ShareInvariant(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	n2 := newFakeNode("n2", entity.Pool{Name: "P2", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1, n2)
	mgr := NewManager(reg)

	uuid := "11111111-1111-1111-1111-111111111111"
	vol, err := mgr.EnsureVolume(context.Background(), uuid, Spec{
		Name:          "pvc-" + uuid,
		ReplicaCount:  2,
		RequiredBytes: 32,
	})
	require.NoError(t, err)
	require.NotNil(t, vol.Nexus)

	for _, r := range vol.Replicas {
		if r.Node == vol.Nexus.Node {
			assert.Equal(t, entity.ShareNone, r.Share)
		} else {
			assert.Equal(t, entity.ShareNvmf, r.Share)
		}
	}
}

// P1: replica count and nexus presence hold, and a re-entrant EnsureVolume
// with the same spec short-circuits without creating anything new.
func TestEnsureVolume_ReentrantShortCircuit(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1)
	mgr := NewManager(reg)

	uuid := "22222222-2222-2222-2222-222222222222"
	spec := Spec{Name: "pvc-" + uuid, ReplicaCount: 1, RequiredBytes: 16}
	first, err := mgr.EnsureVolume(context.Background(), uuid, spec)
	require.NoError(t, err)
	require.Len(t, first.Replicas, 1)

	second, err := mgr.EnsureVolume(context.Background(), uuid, spec)
	require.NoError(t, err)
	assert.Equal(t, first.Replicas, second.Replicas)
	assert.Len(t, n1.replicas, 1)
}

// RESOURCE_EXHAUSTED when there aren't enough eligible pools to satisfy
// replicaCount.
func TestEnsureVolume_ResourceExhausted(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1)
	mgr := NewManager(reg)

	uuid := "33333333-3333-3333-3333-333333333333"
	_, err := mgr.EnsureVolume(context.Background(), uuid, Spec{
		Name:          "pvc-" + uuid,
		ReplicaCount:  2,
		RequiredBytes: 16,
	})
	require.Error(t, err)
}

// P5: DeleteVolume (here, DestroyVolume) is idempotent.
func TestDestroyVolume_Idempotent(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1)
	mgr := NewManager(reg)

	uuid := "44444444-4444-4444-4444-444444444444"
	_, err := mgr.EnsureVolume(context.Background(), uuid, Spec{Name: "pvc-" + uuid, ReplicaCount: 1, RequiredBytes: 16})
	require.NoError(t, err)

	require.NoError(t, mgr.DestroyVolume(context.Background(), uuid))
	require.NoError(t, mgr.DestroyVolume(context.Background(), uuid))
	assert.Empty(t, n1.replicas)
	assert.Empty(t, n1.nexuses)
}

func TestUpdateVolume_RejectsResize(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100, Used: 0})
	reg := newTestRegistry(t, n1)
	mgr := NewManager(reg)

	uuid := "55555555-5555-5555-5555-555555555555"
	spec := Spec{Name: "pvc-" + uuid, ReplicaCount: 1, RequiredBytes: 16}
	_, err := mgr.EnsureVolume(context.Background(), uuid, spec)
	require.NoError(t, err)

	spec.LimitBytes = 9999
	_, err = mgr.UpdateVolume(uuid, spec)
	require.Error(t, err)
}
