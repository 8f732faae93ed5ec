// Package volume implements the reconciler that keeps a Volume's replicas
// and nexus converged with its desired spec (component C5). Volume itself
// holds no RPC session: every mutation it issues goes through the
// registry's Node lookup, so the reconcile algorithm stays pure control
// flow over entity snapshots.
package volume
