package csi

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	cscsi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/node"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/cuemby/mayastor-control-plane/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeNode is a minimal registry.Node driving CreateReplica/CreateNexus off
// in-memory state, mirroring pkg/volume's test double.
type fakeNode struct {
	name     string
	pools    []entity.Pool
	replicas []entity.Replica
	nexuses  []entity.Nexus
	broker   *events.Broker
}

func newFakeNode(name string, pools ...entity.Pool) *fakeNode {
	for i := range pools {
		pools[i].Node = name
	}
	return &fakeNode{name: name, pools: pools, broker: events.NewBroker()}
}

func (f *fakeNode) Status() node.Status  { return node.StatusOnline }
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

func newTestServer(t *testing.T, nodes ...*fakeNode) *Server {
	t.Helper()
	byName := make(map[string]*fakeNode, len(nodes))
	for _, n := range nodes {
		byName[n.name] = n
	}
	reg := registry.New(func(name, endpoint string) registry.Node {
		n, ok := byName[name]
		require.True(t, ok, "no fake node registered for %q", name)
		return n
	})
	for _, n := range nodes {
		require.NoError(t, reg.AddNode(context.Background(), n.name, "unused:0"))
	}

	socket := filepath.Join(t.TempDir(), "csi.sock")
	s, err := NewServer(socket, volume.NewManager(reg), reg)
	require.NoError(t, err)
	s.SetReady(true)
	t.Cleanup(s.Stop)
	return s
}

func singleWriterCap() *cscsi.VolumeCapability {
	return &cscsi.VolumeCapability{
		AccessType: &cscsi.VolumeCapability_Mount{Mount: &cscsi.VolumeCapability_MountVolume{}},
		AccessMode: &cscsi.VolumeCapability_AccessMode{Mode: cscsi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER},
	}
}

func TestCreateVolume_RejectsBadName(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100}))
	_, err := s.CreateVolume(context.Background(), &cscsi.CreateVolumeRequest{
		Name:               "not-a-valid-name",
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCreateVolume_RejectsMultiNodeAccessMode(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100}))
	vc := singleWriterCap()
	vc.AccessMode.Mode = cscsi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER
	_, err := s.CreateVolume(context.Background(), &cscsi.CreateVolumeRequest{
		Name:               "pvc-753b391c-9b04-4ce3-9c74-9d949152e547",
		VolumeCapabilities: []*cscsi.VolumeCapability{vc},
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCreateVolume_RejectsNonHostnameTopology(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 100}))
	_, err := s.CreateVolume(context.Background(), &cscsi.CreateVolumeRequest{
		Name:               "pvc-753b391c-9b04-4ce3-9c74-9d949152e547",
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		AccessibilityRequirements: &cscsi.TopologyRequirement{
			Requisite: []*cscsi.Topology{{Segments: map[string]string{"topology.kubernetes.io/zone": "us-east-1a"}}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCreateVolume_HappyPath(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 1024}))
	resp, err := s.CreateVolume(context.Background(), &cscsi.CreateVolumeRequest{
		Name:               "pvc-753b391c-9b04-4ce3-9c74-9d949152e547",
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, "753b391c-9b04-4ce3-9c74-9d949152e547", resp.GetVolume().GetVolumeId())
	assert.Len(t, resp.GetVolume().GetAccessibleTopology(), 1)
}

// P6: ControllerPublishVolume is idempotent for the same node, rejected for
// a different one.
func TestControllerPublishVolume_IdempotentSameNode(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 1024})
	s := newTestServer(t, n1)
	ctx := context.Background()
	uuid := "11111111-1111-1111-1111-111111111111"
	_, err := s.CreateVolume(ctx, &cscsi.CreateVolumeRequest{
		Name:               "pvc-" + uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 32},
	})
	require.NoError(t, err)

	req := &cscsi.ControllerPublishVolumeRequest{
		VolumeId:         uuid,
		NodeId:           formatNodeID("n1"),
		VolumeCapability: singleWriterCap(),
	}
	_, err = s.ControllerPublishVolume(ctx, req)
	require.NoError(t, err)

	// Second publish to the same node is a no-op success, not an error.
	_, err = s.ControllerPublishVolume(ctx, req)
	require.NoError(t, err)
}

func TestControllerPublishVolume_RejectsWrongNode(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 1024})
	s := newTestServer(t, n1)
	ctx := context.Background()
	uuid := "22222222-2222-2222-2222-222222222222"
	_, err := s.CreateVolume(ctx, &cscsi.CreateVolumeRequest{
		Name:               "pvc-" + uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 32},
	})
	require.NoError(t, err)

	_, err = s.ControllerPublishVolume(ctx, &cscsi.ControllerPublishVolumeRequest{
		VolumeId:         uuid,
		NodeId:           formatNodeID("some-other-node"),
		VolumeCapability: singleWriterCap(),
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// P5: DeleteVolume is idempotent at the CSI layer too.
func TestDeleteVolume_Idempotent(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 1024}))
	ctx := context.Background()
	uuid := "33333333-3333-3333-3333-333333333333"
	_, err := s.CreateVolume(ctx, &cscsi.CreateVolumeRequest{
		Name:               "pvc-" + uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 32},
	})
	require.NoError(t, err)

	_, err = s.DeleteVolume(ctx, &cscsi.DeleteVolumeRequest{VolumeId: uuid})
	require.NoError(t, err)
	_, err = s.DeleteVolume(ctx, &cscsi.DeleteVolumeRequest{VolumeId: uuid})
	require.NoError(t, err)
}

func TestValidateVolumeCapabilities(t *testing.T) {
	s := newTestServer(t, newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 1024}))
	ctx := context.Background()
	uuid := "44444444-4444-4444-4444-444444444444"
	_, err := s.CreateVolume(ctx, &cscsi.CreateVolumeRequest{
		Name:               "pvc-" + uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
		CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 32},
	})
	require.NoError(t, err)

	resp, err := s.ValidateVolumeCapabilities(ctx, &cscsi.ValidateVolumeCapabilitiesRequest{
		VolumeId:           uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.GetConfirmed())

	badCap := singleWriterCap()
	badCap.AccessMode.Mode = cscsi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER
	resp, err = s.ValidateVolumeCapabilities(ctx, &cscsi.ValidateVolumeCapabilitiesRequest{
		VolumeId:           uuid,
		VolumeCapabilities: []*cscsi.VolumeCapability{badCap},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.GetConfirmed())
	assert.NotEmpty(t, resp.GetMessage())
}

func TestListVolumes_Pagination(t *testing.T) {
	n1 := newFakeNode("n1", entity.Pool{Name: "P1", State: entity.PoolOnline, Capacity: 4096})
	s := newTestServer(t, n1)
	ctx := context.Background()
	for _, uuid := range []string{
		"55555555-5555-5555-5555-555555555555",
		"66666666-6666-6666-6666-666666666666",
		"77777777-7777-7777-7777-777777777777",
	} {
		_, err := s.CreateVolume(ctx, &cscsi.CreateVolumeRequest{
			Name:               "pvc-" + uuid,
			VolumeCapabilities: []*cscsi.VolumeCapability{singleWriterCap()},
			CapacityRange:      &cscsi.CapacityRange{RequiredBytes: 32},
		})
		require.NoError(t, err)
	}

	first, err := s.ListVolumes(ctx, &cscsi.ListVolumesRequest{MaxEntries: 2})
	require.NoError(t, err)
	assert.Len(t, first.GetEntries(), 2)
	require.NotEmpty(t, first.GetNextToken())

	second, err := s.ListVolumes(ctx, &cscsi.ListVolumesRequest{StartingToken: first.GetNextToken()})
	require.NoError(t, err)
	assert.Len(t, second.GetEntries(), 1)
	assert.Empty(t, second.GetNextToken())
}
