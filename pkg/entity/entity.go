package entity

// PoolState mirrors the reported state of a storage pool on a node.
type PoolState string

const (
	PoolOnline   PoolState = "POOL_ONLINE"
	PoolDegraded PoolState = "POOL_DEGRADED"
	PoolFaulted  PoolState = "POOL_FAULTED"
	PoolOffline  PoolState = "POOL_OFFLINE"
)

// ReplicaState mirrors the reported state of a replica.
type ReplicaState string

const (
	ReplicaOnline   ReplicaState = "ONLINE"
	ReplicaDegraded ReplicaState = "DEGRADED"
	ReplicaFaulted  ReplicaState = "FAULTED"
	ReplicaOffline  ReplicaState = "OFFLINE"
)

// NexusState mirrors the reported state of a nexus target; it uses the same
// vocabulary as ReplicaState (a nexus degrades the same way a replica does).
type NexusState = ReplicaState

// ShareProtocol identifies how a replica or nexus is exported off-node.
type ShareProtocol string

const (
	ShareNone ShareProtocol = "NONE"
	ShareNvmf ShareProtocol = "NVMF"
	ShareIscsi ShareProtocol = "ISCSI"
)

// VolumeState is the derived, control-plane-only state of a Volume.
type VolumeState string

const (
	VolumePending  VolumeState = "PENDING"
	VolumeOnline   VolumeState = "ONLINE"
	VolumeDegraded VolumeState = "DEGRADED"
	VolumeFaulted  VolumeState = "FAULTED"
)

// Pool is a node-reported storage pool: a set of disks aggregated into one
// allocation domain for replicas.
type Pool struct {
	Name     string
	Node     string
	Disks    []string
	State    PoolState
	Capacity uint64
	Used     uint64
}

// FreeBytes returns the pool's remaining allocatable capacity. A pool that
// isn't accessible (faulted or offline) has no usable free space regardless
// of its reported numbers.
func (p Pool) FreeBytes() uint64 {
	if !p.Accessible() {
		return 0
	}
	if p.Used >= p.Capacity {
		return 0
	}
	return p.Capacity - p.Used
}

// Accessible reports whether the pool can currently accept new replicas.
// A degraded pool is still serving I/O and still counts; only faulted and
// offline pools are excluded.
func (p Pool) Accessible() bool {
	return p.State == PoolOnline || p.State == PoolDegraded
}

// Replica is a node-reported thin or thick volume slice carved out of a pool.
type Replica struct {
	UUID  string
	Pool  string
	Node  string
	Size  uint64
	Thin  bool
	Share ShareProtocol
	URI   string
	State ReplicaState
}

// Online reports whether the replica can currently serve I/O.
func (r Replica) Online() bool {
	return r.State == ReplicaOnline
}

// NexusChild describes one replica attached to a nexus, by its URI (not its
// UUID) because the south-bound protocol addresses nexus children by URI.
type NexusChild struct {
	URI   string
	State ReplicaState
}

// Nexus is the node-local I/O frontend that aggregates one or more replicas
// into a single exported block device.
type Nexus struct {
	UUID      string
	Node      string
	Size      uint64
	State     NexusState
	Children  []NexusChild
	DeviceURI string
	Share     ShareProtocol
}

// HasChildURI reports whether uri is already attached to the nexus.
func (n Nexus) HasChildURI(uri string) bool {
	for _, c := range n.Children {
		if c.URI == uri {
			return true
		}
	}
	return false
}
