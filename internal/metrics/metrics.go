// Package metrics declares the Prometheus collectors the storage core
// reports against. Each collector corresponds to a metric of the original
// Rust crate's metric module (crate::metric), renamed under a
// shuffleworker_ prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the storage core registers. It is
// constructed once at startup and passed to the constructors of the local
// disks, the local file store, the spill bus and the hybrid store, matching
// the teacher's habit of passing collaborators explicitly rather than
// reaching for globals. The memory and ticket collectors (MemoryUsed,
// MemoryCapacity, MemoryAllocated, TicketsLive, TicketsExpired) are
// registered but not updated by any component.
type Registry struct {
	reg *prometheus.Registry

	MemoryUsed          prometheus.Gauge
	MemoryCapacity      prometheus.Gauge
	MemoryAllocated     prometheus.Gauge
	TicketsLive         prometheus.Gauge
	TicketsExpired      prometheus.Counter
	SpillToLocalFile    prometheus.Counter
	SpillToRemoteFS     prometheus.Counter
	SpillFailed         prometheus.Counter
	SpillRetryExhausted prometheus.Counter
	SpillBusDropped     prometheus.Counter
	SpillBatchSize      prometheus.Histogram
	LocalDiskHealthy    *prometheus.GaugeVec
	LocalDiskCorrupted  *prometheus.GaugeVec
}

// New builds a Registry backed by a fresh prometheus.Registry and registers
// every collector on it.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		MemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuffleworker_memory_used_bytes",
			Help: "Bytes currently accounted as used in the hot tier budget.",
		}),
		MemoryCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuffleworker_memory_capacity_bytes",
			Help: "Configured hot tier memory capacity.",
		}),
		MemoryAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuffleworker_memory_allocated_bytes",
			Help: "Bytes currently reserved but not yet used in the hot tier budget.",
		}),
		TicketsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuffleworker_tickets_live",
			Help: "Number of outstanding (non-expired, non-released) tickets.",
		}),
		TicketsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_tickets_expired_total",
			Help: "Tickets reclaimed by the reaper due to TTL expiry.",
		}),
		SpillToLocalFile: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_spill_to_localfile_total",
			Help: "Flights successfully persisted to the warm (local disk) tier.",
		}),
		SpillToRemoteFS: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_spill_to_remotefs_total",
			Help: "Flights successfully persisted to the cold (remote filesystem) tier.",
		}),
		SpillFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_spill_failed_total",
			Help: "Spill attempts that failed and were retried or escalated.",
		}),
		SpillRetryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_spill_retry_exhausted_total",
			Help: "Flights that exhausted the retry budget (SPILL_EXCEED_RETRY_MAX_LIMIT).",
		}),
		SpillBusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuffleworker_spill_bus_dropped_total",
			Help: "Publishes dropped because the spill event bus queue was full.",
		}),
		SpillBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuffleworker_spill_batch_size_bytes",
			Help:    "Size in bytes of each flight handed to a persistent tier.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		LocalDiskHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shuffleworker_local_disk_healthy",
			Help: "1 if the disk is under the capacity watermark, 0 otherwise.",
		}, []string{"disk"}),
		LocalDiskCorrupted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shuffleworker_local_disk_corrupted",
			Help: "1 if the disk failed its canary write/read check (sticky).",
		}, []string{"disk"}),
	}

	r.reg.MustRegister(
		r.MemoryUsed, r.MemoryCapacity, r.MemoryAllocated,
		r.TicketsLive, r.TicketsExpired,
		r.SpillToLocalFile, r.SpillToRemoteFS, r.SpillFailed, r.SpillRetryExhausted,
		r.SpillBusDropped, r.SpillBatchSize,
		r.LocalDiskHealthy, r.LocalDiskCorrupted,
	)

	return r
}

// Gatherer exposes the underlying registry for promhttp.Handler wiring.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
