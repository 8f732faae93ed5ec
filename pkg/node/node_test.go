package node

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/mayastorpb"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scripted RPCClient: each List* call consumes the next
// entry of its sequence (clamped to the last one once exhausted).
type fakeClient struct {
	pools    [][]mayastorpb.Pool
	replicas [][]mayastorpb.Replica
	nexus    [][]mayastorpb.Nexus

	poolsCall, replicasCall, nexusCall int
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Disconnect() error                 { return nil }

func (f *fakeClient) ListPools(ctx context.Context) ([]mayastorpb.Pool, error) {
	v := f.pools[min(f.poolsCall, len(f.pools)-1)]
	f.poolsCall++
	return v, nil
}

func (f *fakeClient) ListReplicas(ctx context.Context) ([]mayastorpb.Replica, error) {
	v := f.replicas[min(f.replicasCall, len(f.replicas)-1)]
	f.replicasCall++
	return v, nil
}

func (f *fakeClient) ListNexus(ctx context.Context) ([]mayastorpb.Nexus, error) {
	v := f.nexus[min(f.nexusCall, len(f.nexus)-1)]
	f.nexusCall++
	return v, nil
}

func (f *fakeClient) CreatePool(ctx context.Context, name string, disks []string) (*mayastorpb.Pool, error) {
	return &mayastorpb.Pool{Name: name, Disks: disks}, nil
}
func (f *fakeClient) DestroyPool(ctx context.Context, name string) error { return nil }

func (f *fakeClient) CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (*mayastorpb.Replica, error) {
	return &mayastorpb.Replica{UUID: uuid, Pool: pool, Size: size, Thin: thin}, nil
}
func (f *fakeClient) DestroyReplica(ctx context.Context, uuid string) error { return nil }
func (f *fakeClient) ShareReplica(ctx context.Context, uuid, protocol string) (string, error) {
	return "nvmf://host/" + uuid, nil
}

func (f *fakeClient) CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (*mayastorpb.Nexus, error) {
	return &mayastorpb.Nexus{UUID: uuid, Size: size}, nil
}
func (f *fakeClient) DestroyNexus(ctx context.Context, uuid string) error { return nil }
func (f *fakeClient) AddChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error) {
	return &mayastorpb.Nexus{UUID: nexusUUID}, nil
}
func (f *fakeClient) RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (*mayastorpb.Nexus, error) {
	return &mayastorpb.Nexus{UUID: nexusUUID}, nil
}
func (f *fakeClient) PublishNexus(ctx context.Context, uuid, protocol string) (string, error) {
	return "", nil
}
func (f *fakeClient) UnpublishNexus(ctx context.Context, uuid string) error { return nil }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drain(t *testing.T, sub events.Subscriber, n int) []*events.Event {
	t.Helper()
	var out []*events.Event
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub:
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d/%d (got %d)", i+1, n, len(out))
		}
	}
	return out
}

func assertNoMoreEvents(t *testing.T, sub events.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// Concrete scenario 1 (spec.md §8): disks-only change emits no event;
// a subsequent state change emits exactly one pool mod.
func TestSync_PoolEventFiltering(t *testing.T) {
	fc := &fakeClient{
		pools: [][]mayastorpb.Pool{
			{{Name: "P", State: "POOL_ONLINE", Capacity: 100, Used: 4}},
			{{Name: "P", State: "POOL_ONLINE", Capacity: 100, Used: 4, Disks: []string{"/dev/sdb"}}},
			{{Name: "P", State: "POOL_DEGRADED", Capacity: 100, Used: 4, Disks: []string{"/dev/sdb"}}},
		},
		replicas: [][]mayastorpb.Replica{{}},
		nexus:    [][]mayastorpb.Nexus{{}},
	}
	n := NewWithClient("n1", "unused:0", fc)
	n.broker.Start()
	defer n.broker.Stop()
	sub := n.Subscribe()
	defer n.Unsubscribe(sub)

	ctx := context.Background()
	require.NoError(t, n.Sync(ctx))
	evs := drain(t, sub, 1)
	require.Equal(t, events.KindPool, evs[0].Kind)
	require.Equal(t, events.OpNew, evs[0].Op)

	require.NoError(t, n.Sync(ctx))
	assertNoMoreEvents(t, sub)

	require.NoError(t, n.Sync(ctx))
	evs = drain(t, sub, 1)
	require.Equal(t, events.KindPool, evs[0].Kind)
	require.Equal(t, events.OpMod, evs[0].Op)
	assertNoMoreEvents(t, sub)
}

// spec.md §5: within one sync pass, pool new precedes its replica new; pool
// del follows its replica del.
func TestSync_EventOrdering(t *testing.T) {
	fc := &fakeClient{
		pools: [][]mayastorpb.Pool{
			{{Name: "P1", State: "POOL_ONLINE", Capacity: 100}},
			{}, // P1 removed on the second pass
		},
		replicas: [][]mayastorpb.Replica{
			{{UUID: "r1", Pool: "P1", Size: 10}},
			{},
		},
		nexus: [][]mayastorpb.Nexus{{}, {}},
	}
	n := NewWithClient("n1", "unused:0", fc)
	n.broker.Start()
	defer n.broker.Stop()
	sub := n.Subscribe()
	defer n.Unsubscribe(sub)

	ctx := context.Background()
	require.NoError(t, n.Sync(ctx))
	evs := drain(t, sub, 2)
	require.Equal(t, events.KindPool, evs[0].Kind)
	require.Equal(t, events.OpNew, evs[0].Op)
	require.Equal(t, events.KindReplica, evs[1].Kind)
	require.Equal(t, events.OpNew, evs[1].Op)

	require.NoError(t, n.Sync(ctx))
	evs = drain(t, sub, 2)
	require.Equal(t, events.KindReplica, evs[0].Kind)
	require.Equal(t, events.OpDel, evs[0].Op)
	require.Equal(t, events.KindPool, evs[1].Kind)
	require.Equal(t, events.OpDel, evs[1].Op)
}

func TestNode_CreateAndDestroyReplica(t *testing.T) {
	fc := &fakeClient{
		pools:    [][]mayastorpb.Pool{{{Name: "P1", State: "POOL_ONLINE", Capacity: 100}}},
		replicas: [][]mayastorpb.Replica{{}},
		nexus:    [][]mayastorpb.Nexus{{}},
	}
	n := NewWithClient("n1", "unused:0", fc)
	n.broker.Start()
	defer n.broker.Stop()
	require.NoError(t, n.Sync(context.Background()))

	r, err := n.CreateReplica(context.Background(), "r1", "P1", 10, true)
	require.NoError(t, err)
	require.Equal(t, entity.ReplicaState(""), r.State)
	require.Equal(t, "P1", r.Pool)

	require.NoError(t, n.DestroyReplica(context.Background(), "r1"))
	require.Empty(t, n.Replicas())
}
