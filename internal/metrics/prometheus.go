package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a replicator host. Each host
// carries its own registry so that several hosts can share one process.
type Metrics struct {
	registry *prometheus.Registry

	// Write path
	WritesTotal      *prometheus.CounterVec
	WriteAckTimeouts prometheus.Counter
	WriteDuration    prometheus.Histogram

	// Pull protocol
	PullRequestsTotal   *prometheus.CounterVec
	PullBatchesServed   prometheus.Counter
	BatchesApplied      prometheus.Counter
	PullErrorsTotal     prometheus.Counter
	UpstreamResetsTotal prometheus.Counter

	// Registry
	Databases       prometheus.Gauge
	DatabasesByRole *prometheus.GaugeVec

	// Storage executor
	StorageTasksTotal  *prometheus.CounterVec
	StorageTasksInline prometheus.Counter

	// Sweeper
	ExpiredAcks       prometheus.Counter
	IdleClientsClosed prometheus.Counter
}

// New creates a metrics set bound to a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_writes_total",
			Help: "Total leader writes by result",
		}, []string{"result"}),
		WriteAckTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_write_ack_timeouts_total",
			Help: "Mode-2 writes that timed out waiting for a follower ack",
		}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replicator_write_duration_seconds",
			Help:    "Leader write latency including ack wait",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),

		PullRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_pull_requests_total",
			Help: "Inbound pull requests by status",
		}, []string{"status"}),
		PullBatchesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_pull_batches_served_total",
			Help: "Batches served to downstream peers",
		}),
		BatchesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_batches_applied_total",
			Help: "Batches applied from an upstream",
		}),
		PullErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_pull_errors_total",
			Help: "Pull loop iterations that ended in a transport or apply error",
		}),
		UpstreamResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_upstream_reset_attempts_total",
			Help: "Upstream reset attempts triggered by empty-update streaks",
		}),

		Databases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replicator_databases",
			Help: "Databases currently registered on this host",
		}),
		DatabasesByRole: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replicator_databases_by_role",
			Help: "Databases currently registered by role",
		}, []string{"role"}),

		StorageTasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_storage_tasks_total",
			Help: "Storage engine tasks dispatched to the executor by kind",
		}, []string{"kind"}),
		StorageTasksInline: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_storage_tasks_inline_total",
			Help: "Storage tasks run on the submitting goroutine because the executor was saturated or stopped",
		}),

		ExpiredAcks: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_expired_pending_acks_total",
			Help: "Pending ack waiters expired by the sweeper",
		}),
		IdleClientsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "replicator_idle_clients_closed_total",
			Help: "Idle client connections released by the sweeper",
		}),
	}
}

// Registry exposes the host's registry for the metrics server.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
