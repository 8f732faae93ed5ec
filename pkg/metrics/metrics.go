package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_nodes_total",
			Help: "Total number of registered storage nodes by online state",
		},
		[]string{"online"},
	)

	PoolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_pools_total",
			Help: "Total number of storage pools by state",
		},
		[]string{"state"},
	)

	ReplicasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_replicas_total",
			Help: "Total number of replicas by state",
		},
		[]string{"state"},
	)

	NexusTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_nexus_total",
			Help: "Total number of nexus targets by state",
		},
		[]string{"state"},
	)

	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_volumes_total",
			Help: "Total number of volumes by state",
		},
		[]string{"state"},
	)

	PoolCapacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_pool_capacity_bytes",
			Help: "Pool capacity in bytes",
		},
		[]string{"pool", "node"},
	)

	PoolUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mayastor_pool_used_bytes",
			Help: "Pool used bytes",
		},
		[]string{"pool", "node"},
	)

	NodeSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mayastor_node_sync_duration_seconds",
			Help:    "Time taken for a single node sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodeSyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mayastor_node_sync_failures_total",
			Help: "Total number of failed node sync cycles by node",
		},
		[]string{"node"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mayastor_volume_reconciliation_duration_seconds",
			Help:    "Time taken for a volume ensure() reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mayastor_volume_reconciliation_cycles_total",
			Help: "Total number of volume reconciliation cycles completed",
		},
	)

	ReconciliationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mayastor_volume_reconciliation_failures_total",
			Help: "Total number of volume reconciliation failures by reason",
		},
		[]string{"reason"},
	)

	PlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mayastor_placement_duration_seconds",
			Help:    "Time taken by choosePools to select placement candidates",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mayastor_placement_failures_total",
			Help: "Total number of choosePools calls that could not satisfy a request",
		},
	)

	CSIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mayastor_csi_requests_total",
			Help: "Total number of CSI controller RPCs by method and status code",
		},
		[]string{"method", "code"},
	)

	CSIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mayastor_csi_request_duration_seconds",
			Help:    "CSI controller RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(ReplicasTotal)
	prometheus.MustRegister(NexusTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(PoolCapacityBytes)
	prometheus.MustRegister(PoolUsedBytes)
	prometheus.MustRegister(NodeSyncDuration)
	prometheus.MustRegister(NodeSyncFailuresTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationFailuresTotal)
	prometheus.MustRegister(PlacementDuration)
	prometheus.MustRegister(PlacementFailuresTotal)
	prometheus.MustRegister(CSIRequestsTotal)
	prometheus.MustRegister(CSIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
