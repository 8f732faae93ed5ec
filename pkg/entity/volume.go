package entity

// Volume is the control-plane object synthesized from a set of replicas and,
// when published, a nexus. It is never reported by a node -- it exists only
// in the volume manager's map, created by EnsureVolume; it is not rebuilt
// from Pool/Replica/Nexus events.
type Volume struct {
	UUID          string
	Name          string
	ReplicaCount  int
	RequiredNodes []string
	PreferredNodes []string
	RequiredBytes uint64
	LimitBytes    uint64

	// Derived fields, recomputed by ensure() on every reconcile pass.
	Replicas []Replica
	Nexus    *Nexus
	Size     uint64
	State    VolumeState
	Reason   string
}

// PublishedNode returns the node hosting the volume's nexus, or "" if the
// volume is not currently published.
func (v Volume) PublishedNode() string {
	if v.Nexus == nil {
		return ""
	}
	return v.Nexus.Node
}

// ReplicaOnNode reports whether the volume already has a replica on node.
func (v Volume) ReplicaOnNode(node string) bool {
	for _, r := range v.Replicas {
		if r.Node == node {
			return true
		}
	}
	return false
}
