package mayastorpb

// Disk is a physical or virtual block device path as reported by a node.
type Disk = string

// Pool mirrors entity.Pool on the wire.
type Pool struct {
	Name     string `json:"name"`
	Disks    []Disk `json:"disks"`
	State    string `json:"state"`
	Capacity uint64 `json:"capacity"`
	Used     uint64 `json:"used"`
}

// Replica mirrors entity.Replica on the wire.
type Replica struct {
	UUID  string `json:"uuid"`
	Pool  string `json:"pool"`
	Size  uint64 `json:"size"`
	Thin  bool   `json:"thin"`
	Share string `json:"share"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

// NexusChild mirrors entity.NexusChild on the wire.
type NexusChild struct {
	URI   string `json:"uri"`
	State string `json:"state"`
}

// Nexus mirrors entity.Nexus on the wire.
type Nexus struct {
	UUID      string       `json:"uuid"`
	Size      uint64       `json:"size"`
	State     string       `json:"state"`
	Children  []NexusChild `json:"children"`
	DeviceURI string       `json:"device_uri"`
	Share     string       `json:"share"`
}

type ListPoolsRequest struct{}
type ListPoolsReply struct{ Pools []Pool }

type CreatePoolRequest struct {
	Name  string
	Disks []Disk
}
type CreatePoolReply struct{ Pool Pool }

type DestroyPoolRequest struct{ Name string }
type DestroyPoolReply struct{}

type ListReplicasRequest struct{}
type ListReplicasReply struct{ Replicas []Replica }

type CreateReplicaRequest struct {
	UUID string
	Pool string
	Size uint64
	Thin bool
}
type CreateReplicaReply struct{ Replica Replica }

type DestroyReplicaRequest struct{ UUID string }
type DestroyReplicaReply struct{}

type ShareReplicaRequest struct {
	UUID     string
	Protocol string
}
type ShareReplicaReply struct{ URI string }

type ListNexusRequest struct{}
type ListNexusReply struct{ Nexus []Nexus }

type CreateNexusRequest struct {
	UUID     string
	Size     uint64
	Children []string
}
type CreateNexusReply struct{ Nexus Nexus }

type DestroyNexusRequest struct{ UUID string }
type DestroyNexusReply struct{}

type AddChildNexusRequest struct {
	NexusUUID string
	URI       string
}
type AddChildNexusReply struct{ Nexus Nexus }

type RemoveChildNexusRequest struct {
	NexusUUID string
	URI       string
}
type RemoveChildNexusReply struct{ Nexus Nexus }

type PublishNexusRequest struct {
	UUID     string
	Protocol string
}
type PublishNexusReply struct{ DeviceURI string }

type UnpublishNexusRequest struct{ UUID string }
type UnpublishNexusReply struct{}
