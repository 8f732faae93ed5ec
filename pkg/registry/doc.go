// Package registry implements component C4: the in-memory catalog of every
// known storage node and its pools/replicas/nexuses, the query surface used
// by the volume reconciler, and the pool-placement algorithm (choosePools).
package registry
