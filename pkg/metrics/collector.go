package metrics

import (
	"time"

	"github.com/cuemby/mayastor-control-plane/pkg/entity"
	"github.com/cuemby/mayastor-control-plane/pkg/node"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
)

// VolumeLister is the subset of *volume.Manager the collector depends on.
// Expressed as an interface so pkg/metrics never imports pkg/volume, which
// itself depends on pkg/metrics for reconciliation timers.
type VolumeLister interface {
	List() []entity.Volume
}

// Collector polls the registry and volume manager on a ticker and updates
// the gauge metrics declared in metrics.go.
type Collector struct {
	registry *registry.Registry
	volumes  VolumeLister
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(reg *registry.Registry, volumes VolumeLister) *Collector {
	return &Collector{
		registry: reg,
		volumes:  volumes,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectPoolMetrics()
	c.collectReplicaNexusMetrics()
	c.collectVolumeMetrics()
}

func (c *Collector) collectNodeMetrics() {
	counts := map[node.Status]int{}
	for _, n := range c.registry.Nodes() {
		counts[n.Status()]++
	}
	NodesTotal.WithLabelValues("true").Set(float64(counts[node.StatusOnline]))
	NodesTotal.WithLabelValues("false").Set(float64(counts[node.StatusOffline]))
}

func (c *Collector) collectPoolMetrics() {
	stateCounts := map[entity.PoolState]int{}
	for _, p := range c.registry.Pools() {
		stateCounts[p.State]++
		PoolCapacityBytes.WithLabelValues(p.Name, p.Node).Set(float64(p.Capacity))
		PoolUsedBytes.WithLabelValues(p.Name, p.Node).Set(float64(p.Used))
	}
	for _, state := range []entity.PoolState{entity.PoolOnline, entity.PoolDegraded, entity.PoolFaulted, entity.PoolOffline} {
		PoolsTotal.WithLabelValues(string(state)).Set(float64(stateCounts[state]))
	}
}

func (c *Collector) collectReplicaNexusMetrics() {
	replicaCounts := map[entity.ReplicaState]int{}
	nexusCounts := map[entity.NexusState]int{}
	for _, n := range c.registry.Nodes() {
		for _, r := range n.Replicas() {
			replicaCounts[r.State]++
		}
		for _, nx := range n.Nexuses() {
			nexusCounts[nx.State]++
		}
	}
	states := []entity.ReplicaState{entity.ReplicaOnline, entity.ReplicaDegraded, entity.ReplicaFaulted, entity.ReplicaOffline}
	for _, state := range states {
		ReplicasTotal.WithLabelValues(string(state)).Set(float64(replicaCounts[state]))
		NexusTotal.WithLabelValues(string(state)).Set(float64(nexusCounts[state]))
	}
}

func (c *Collector) collectVolumeMetrics() {
	stateCounts := map[entity.VolumeState]int{}
	for _, v := range c.volumes.List() {
		stateCounts[v.State]++
	}
	for _, state := range []entity.VolumeState{entity.VolumePending, entity.VolumeOnline, entity.VolumeDegraded, entity.VolumeFaulted} {
		VolumesTotal.WithLabelValues(string(state)).Set(float64(stateCounts[state]))
	}
}
