package registry

import (
	"sort"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/metrics"
)

// candidate pairs a pool with the node-scoped facts choosePools ranks on,
// gathered once up front so the sort comparator stays pure.
type candidate struct {
	pool          entity.Pool
	online        bool
	replicaCount  int
	shouldPreferred bool
}

// ChoosePools implements the placement algorithm of spec.md §4.4: filter by
// free space and required nodes, sort by
// (online-first, fewer-replicas-first, more-free-bytes-first, should-node-first),
// then take at most one pool per node.
func (r *Registry) ChoosePools(requiredBytes uint64, mustNodes, shouldNodes []string) []entity.Pool {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementDuration)

	must := toSet(mustNodes)
	should := toSet(shouldNodes)

	var candidates []candidate
	for _, n := range r.Nodes() {
		for _, p := range n.Pools() {
			if !p.Accessible() {
				continue
			}
			if p.FreeBytes() < requiredBytes {
				continue
			}
			if len(must) > 0 && !must[p.Node] {
				continue
			}
			candidates = append(candidates, candidate{
				pool:            p,
				online:          p.State == entity.PoolOnline,
				replicaCount:    n.PoolReplicaCount(p.Name),
				shouldPreferred: should[p.Node],
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.online != b.online {
			return a.online
		}
		if a.replicaCount != b.replicaCount {
			return a.replicaCount < b.replicaCount
		}
		if a.pool.FreeBytes() != b.pool.FreeBytes() {
			return a.pool.FreeBytes() > b.pool.FreeBytes()
		}
		if a.shouldPreferred != b.shouldPreferred {
			return a.shouldPreferred
		}
		// Deterministic fallback (Open Question #2 decision, DESIGN.md):
		// map iteration order is randomized, so without this the same
		// inputs could yield different orderings across runs.
		return a.pool.Name < b.pool.Name
	})

	var out []entity.Pool
	usedNode := make(map[string]bool)
	for _, c := range candidates {
		if usedNode[c.pool.Node] {
			continue
		}
		usedNode[c.pool.Node] = true
		out = append(out, c.pool)
	}

	if out == nil {
		metrics.PlacementFailuresTotal.Inc()
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
