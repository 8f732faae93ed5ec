/*
Package metrics exposes Prometheus collectors for the control plane: fleet
gauges (nodes/pools/replicas/nexus/volumes by state), per-pool capacity
gauges, and histograms for node sync, volume reconciliation, placement and
CSI RPC latency. Handler() serves them on the standard /metrics path.
*/
package metrics
