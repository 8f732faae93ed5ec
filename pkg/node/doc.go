// Package node implements component C3: a Node owns one reconnectable
// nodeclient.Client plus the Pool/Replica/Nexus entities discovered on that
// node. It runs a periodic sync loop that diffs live enumeration against
// the cached model and emits one event per observed change, and it exposes
// the mutators (createPool, createReplica, ...) that the volume reconciler
// drives.
package node
