package node

import (
	"context"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/events"
	"github.com/cuemby/mayastor-control-plane/pkg/mayastorpb"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
)

// Sync issues ListPools/ListReplicas/ListNexus and reconciles the result
// against the cached model, emitting one event per observed change. Events
// for a single sync pass are emitted in the order spec.md §5 requires: all
// pool new before their replica new; all pool del after their replica del.
func (n *Node) Sync(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NodeSyncDuration)

	wirePools, err := n.client.ListPools(ctx)
	if err != nil {
		return err
	}
	wireReplicas, err := n.client.ListReplicas(ctx)
	if err != nil {
		return err
	}
	wireNexus, err := n.client.ListNexus(ctx)
	if err != nil {
		return err
	}

	replicasByPool := make(map[string][]mayastorpb.Replica)
	for _, r := range wireReplicas {
		replicasByPool[r.Pool] = append(replicasByPool[r.Pool], r)
	}

	seenPools := make(map[string]bool, len(wirePools))

	n.mu.Lock()
	var toEmit []func()
	for _, wp := range wirePools {
		seenPools[wp.Name] = true
		next := poolFromWire(n.Name, wp)
		nextReplicas := replicasFromWire(n.Name, wp.Name, replicasByPool[wp.Name])

		cur, existed := n.pools[wp.Name]
		n.pools[wp.Name] = next
		if n.replicas[wp.Name] == nil {
			n.replicas[wp.Name] = make(map[string]entity.Replica)
		}

		if !existed {
			toEmit = append(toEmit, poolEmitter(n, events.OpNew, next))
			for _, r := range nextReplicas {
				n.replicas[wp.Name][r.UUID] = r
				toEmit = append(toEmit, replicaEmitter(n, events.OpNew, r))
			}
			continue
		}

		if poolVolatileChanged(cur, next) {
			toEmit = append(toEmit, poolEmitter(n, events.OpMod, next))
		}
		toEmit = append(toEmit, n.diffReplicasLocked(wp.Name, nextReplicas)...)
	}

	for name, cur := range n.pools {
		if seenPools[name] {
			continue
		}
		toEmit = append(toEmit, n.diffReplicasLocked(name, nil)...)
		delete(n.pools, name)
		delete(n.replicas, name)
		toEmit = append(toEmit, poolEmitter(n, events.OpDel, cur))
	}

	toEmit = append(toEmit, n.diffNexusLocked(wireNexus)...)
	n.mu.Unlock()

	for _, emit := range toEmit {
		emit()
	}
	return nil
}

// diffReplicasLocked must be called with n.mu held. It mutates n.replicas
// for poolName in place and returns emit closures, deferred so pool new/del
// ordering around replica events is preserved by the caller.
func (n *Node) diffReplicasLocked(poolName string, next []entity.Replica) []func() {
	cache := n.replicas[poolName]
	if cache == nil {
		cache = make(map[string]entity.Replica)
		n.replicas[poolName] = cache
	}
	seen := make(map[string]bool, len(next))
	var emits []func()
	for _, r := range next {
		seen[r.UUID] = true
		cur, existed := cache[r.UUID]
		cache[r.UUID] = r
		if !existed {
			emits = append(emits, replicaEmitter(n, events.OpNew, r))
			continue
		}
		if replicaVolatileChanged(cur, r) {
			emits = append(emits, replicaEmitter(n, events.OpMod, r))
		}
	}
	for uuid, cur := range cache {
		if seen[uuid] {
			continue
		}
		delete(cache, uuid)
		emits = append(emits, replicaEmitter(n, events.OpDel, cur))
	}
	return emits
}

// diffNexusLocked must be called with n.mu held.
func (n *Node) diffNexusLocked(wire []mayastorpb.Nexus) []func() {
	seen := make(map[string]bool, len(wire))
	var emits []func()
	for _, wx := range wire {
		seen[wx.UUID] = true
		next := nexusFromWire(n.Name, wx)
		cur, existed := n.nexuses[wx.UUID]
		n.nexuses[wx.UUID] = next
		if !existed {
			emits = append(emits, nexusEmitter(n, events.OpNew, next))
			continue
		}
		if nexusVolatileChanged(cur, next) {
			emits = append(emits, nexusEmitter(n, events.OpMod, next))
		}
	}
	for uuid, cur := range n.nexuses {
		if seen[uuid] {
			continue
		}
		delete(n.nexuses, uuid)
		emits = append(emits, nexusEmitter(n, events.OpDel, cur))
	}
	return emits
}

func poolEmitter(n *Node, op events.Op, p entity.Pool) func() {
	return func() { n.emit(events.KindPool, op, p) }
}

func replicaEmitter(n *Node, op events.Op, r entity.Replica) func() {
	return func() { n.emit(events.KindReplica, op, r) }
}

func nexusEmitter(n *Node, op events.Op, x entity.Nexus) func() {
	return func() { n.emit(events.KindNexus, op, x) }
}

// poolVolatileChanged reports whether a pool `mod` event should fire.
// Identity (name, disks) is deliberately excluded: disks never change once
// a pool exists, and a change there must never itself emit an event
// (spec.md §3, "disks never change").
func poolVolatileChanged(a, b entity.Pool) bool {
	return a.State != b.State || a.Capacity != b.Capacity || a.Used != b.Used
}

func replicaVolatileChanged(a, b entity.Replica) bool {
	return a.State != b.State || a.Share != b.Share || a.URI != b.URI || a.Size != b.Size
}

func nexusVolatileChanged(a, b entity.Nexus) bool {
	if a.State != b.State || a.DeviceURI != b.DeviceURI || a.Share != b.Share || a.Size != b.Size {
		return true
	}
	if len(a.Children) != len(b.Children) {
		return true
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			return true
		}
	}
	return false
}

func poolFromWire(node string, p mayastorpb.Pool) entity.Pool {
	return entity.Pool{
		Name:     p.Name,
		Node:     node,
		Disks:    append([]string(nil), p.Disks...),
		State:    entity.PoolState(p.State),
		Capacity: p.Capacity,
		Used:     p.Used,
	}
}

func replicasFromWire(node, pool string, in []mayastorpb.Replica) []entity.Replica {
	out := make([]entity.Replica, 0, len(in))
	for _, r := range in {
		out = append(out, entity.Replica{
			UUID:  r.UUID,
			Pool:  pool,
			Node:  node,
			Size:  r.Size,
			Thin:  r.Thin,
			Share: entity.ShareProtocol(r.Share),
			URI:   r.URI,
			State: entity.ReplicaState(r.State),
		})
	}
	return out
}

func nexusFromWire(node string, x mayastorpb.Nexus) entity.Nexus {
	children := make([]entity.NexusChild, 0, len(x.Children))
	for _, c := range x.Children {
		children = append(children, entity.NexusChild{URI: c.URI, State: entity.ReplicaState(c.State)})
	}
	return entity.Nexus{
		UUID:      x.UUID,
		Node:      node,
		Size:      x.Size,
		State:     entity.NexusState(x.State),
		Children:  children,
		DeviceURI: x.DeviceURI,
		Share:     entity.ShareProtocol(x.Share),
	}
}
