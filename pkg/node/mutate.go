package node

import (
	"context"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/mayastorpb"
	"github.com/cuemby/mayastor-control-plane/pkg/nodeclient"
)

// CreatePool issues CreatePool and, on success, caches and announces the
// new pool. An ALREADY_EXISTS error is returned verbatim: per spec.md §4.2
// the node does not merge on behalf of the caller.
func (n *Node) CreatePool(ctx context.Context, name string, disks []string) (entity.Pool, error) {
	wp, err := n.client.CreatePool(ctx, name, disks)
	if err != nil {
		return entity.Pool{}, err
	}
	p := poolFromWire(n.Name, *wp)
	n.mu.Lock()
	n.pools[name] = p
	n.replicas[name] = make(map[string]entity.Replica)
	n.mu.Unlock()
	n.emit(events.KindPool, events.OpNew, p)
	return p, nil
}

// DestroyPool issues DestroyPool; NOT_FOUND is swallowed by nodeclient
// already, so reaching here with err == nil always means "pool is gone".
func (n *Node) DestroyPool(ctx context.Context, name string) error {
	if err := n.client.DestroyPool(ctx, name); err != nil {
		return err
	}
	n.mu.Lock()
	p, existed := n.pools[name]
	delete(n.pools, name)
	delete(n.replicas, name)
	n.mu.Unlock()
	if existed {
		n.emit(events.KindPool, events.OpDel, p)
	}
	return nil
}

// CreateReplica issues CreateReplica on the named pool.
func (n *Node) CreateReplica(ctx context.Context, uuid, pool string, size uint64, thin bool) (entity.Replica, error) {
	wr, err := n.client.CreateReplica(ctx, uuid, pool, size, thin)
	if err != nil {
		return entity.Replica{}, err
	}
	r := replicasFromWire(n.Name, pool, []mayastorpb.Replica{*wr})[0]
	n.mu.Lock()
	if n.replicas[pool] == nil {
		n.replicas[pool] = make(map[string]entity.Replica)
	}
	n.replicas[pool][uuid] = r
	n.mu.Unlock()
	n.emit(events.KindReplica, events.OpNew, r)
	return r, nil
}

// DestroyReplica issues DestroyReplica. uuid is looked up across every pool
// since the caller may not know which pool currently hosts it.
func (n *Node) DestroyReplica(ctx context.Context, uuid string) error {
	if err := n.client.DestroyReplica(ctx, uuid); err != nil {
		return err
	}
	n.mu.Lock()
	var removed *entity.Replica
	for pool, byUUID := range n.replicas {
		if r, ok := byUUID[uuid]; ok {
			delete(byUUID, uuid)
			removed = &r
			_ = pool
			break
		}
	}
	n.mu.Unlock()
	if removed != nil {
		n.emit(events.KindReplica, events.OpDel, *removed)
	}
	return nil
}

// ShareReplica issues ShareReplica and updates the cached share/URI.
func (n *Node) ShareReplica(ctx context.Context, uuid string, protocol entity.ShareProtocol) (entity.Replica, error) {
	uri, err := n.client.ShareReplica(ctx, uuid, string(protocol))
	if err != nil {
		return entity.Replica{}, err
	}
	var updated entity.Replica
	n.mu.Lock()
	for _, byUUID := range n.replicas {
		if r, ok := byUUID[uuid]; ok {
			r.Share = protocol
			r.URI = uri
			byUUID[uuid] = r
			updated = r
			break
		}
	}
	n.mu.Unlock()
	n.emit(events.KindReplica, events.OpMod, updated)
	return updated, nil
}

// CreateNexus issues CreateNexus with the given child URIs.
func (n *Node) CreateNexus(ctx context.Context, uuid string, size uint64, children []string) (entity.Nexus, error) {
	wx, err := n.client.CreateNexus(ctx, uuid, size, children)
	if err != nil {
		return entity.Nexus{}, err
	}
	x := nexusFromWire(n.Name, *wx)
	n.mu.Lock()
	n.nexuses[uuid] = x
	n.mu.Unlock()
	n.emit(events.KindNexus, events.OpNew, x)
	return x, nil
}

// DestroyNexus issues DestroyNexus; NOT_FOUND is idempotent.
func (n *Node) DestroyNexus(ctx context.Context, uuid string) error {
	if err := n.client.DestroyNexus(ctx, uuid); err != nil {
		return err
	}
	n.mu.Lock()
	x, existed := n.nexuses[uuid]
	delete(n.nexuses, uuid)
	n.mu.Unlock()
	if existed {
		n.emit(events.KindNexus, events.OpDel, x)
	}
	return nil
}

// AddChildNexus attaches a replica URI to a nexus.
func (n *Node) AddChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error) {
	wx, err := n.client.AddChildNexus(ctx, nexusUUID, uri)
	if err != nil {
		return entity.Nexus{}, err
	}
	x := nexusFromWire(n.Name, *wx)
	n.mu.Lock()
	n.nexuses[nexusUUID] = x
	n.mu.Unlock()
	n.emit(events.KindNexus, events.OpMod, x)
	return x, nil
}

// RemoveChildNexus detaches a replica URI from a nexus. A NOT_FOUND
// (already detached) is not fatal -- spec.md §4.5 step 4 treats excess
// child removal as non-fatal.
func (n *Node) RemoveChildNexus(ctx context.Context, nexusUUID, uri string) (entity.Nexus, error) {
	wx, err := n.client.RemoveChildNexus(ctx, nexusUUID, uri)
	if err != nil && !nodeclient.IsNotFound(err) {
		return entity.Nexus{}, err
	}
	if err != nil || wx == nil {
		n.mu.RLock()
		x := n.nexuses[nexusUUID]
		n.mu.RUnlock()
		return x, nil
	}
	x := nexusFromWire(n.Name, *wx)
	n.mu.Lock()
	n.nexuses[nexusUUID] = x
	n.mu.Unlock()
	n.emit(events.KindNexus, events.OpMod, x)
	return x, nil
}

// PublishNexus publishes the nexus's block device and returns the device
// URI. ALREADY_EXISTS is propagated; the caller (CSI façade) treats
// publishing an already-published volume as success.
func (n *Node) PublishNexus(ctx context.Context, uuid string, protocol entity.ShareProtocol) (string, error) {
	deviceURI, err := n.client.PublishNexus(ctx, uuid, string(protocol))
	if err != nil {
		return "", err
	}
	n.mu.Lock()
	x, ok := n.nexuses[uuid]
	if ok {
		x.DeviceURI = deviceURI
		n.nexuses[uuid] = x
	}
	n.mu.Unlock()
	if ok {
		n.emit(events.KindNexus, events.OpMod, x)
	}
	return deviceURI, nil
}

// UnpublishNexus clears the nexus's device URI. NOT_FOUND is idempotent.
func (n *Node) UnpublishNexus(ctx context.Context, uuid string) error {
	if err := n.client.UnpublishNexus(ctx, uuid); err != nil {
		return err
	}
	n.mu.Lock()
	x, ok := n.nexuses[uuid]
	if ok {
		x.DeviceURI = ""
		n.nexuses[uuid] = x
	}
	n.mu.Unlock()
	if ok {
		n.emit(events.KindNexus, events.OpMod, x)
	}
	return nil
}
