package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the discovery engine.
type Metrics struct {
	SyncedBlock  *prometheus.GaugeVec
	PoolsTracked *prometheus.GaugeVec
	ErrorsTotal  *prometheus.CounterVec

	SyncDuration *prometheus.HistogramVec
	Windows      *prometheus.CounterVec
	Bisections   *prometheus.CounterVec

	PoolsDiscovered *prometheus.CounterVec
	PoolsDropped    *prometheus.CounterVec
}

// New creates and registers the collectors on reg under the given subsystem.
func New(reg prometheus.Registerer, subsystem string) *Metrics {
	return &Metrics{
		SyncedBlock: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "synced_block",
			Help:      "Block number of the last checkpoint saved by a successful sync.",
		}, []string{"factory"}),

		PoolsTracked: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "pools_tracked",
			Help:      "Number of pools held in the last saved checkpoint.",
		}, []string{"factory"}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Aborted discovery runs, labeled by error type.",
		}, []string{"type"}),

		SyncDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "discovery_duration_seconds",
			Help:      "Duration of discovery runs by strategy.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"strategy"}),

		Windows: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "windows_total",
			Help:      "Settled pagination windows by call kind and outcome.",
		}, []string{"kind", "outcome"}),

		Bisections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "window_bisections_total",
			Help:      "Oversized windows that were split in two, by call kind.",
		}, []string{"kind"}),

		PoolsDiscovered: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "pools_discovered_total",
			Help:      "Populated pools returned by discovery runs, by strategy.",
		}, []string{"strategy"}),

		PoolsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "pools_dropped_total",
			Help:      "Unpopulated pools skipped by discovery runs, by strategy.",
		}, []string{"strategy"}),
	}
}

// NewNop returns metrics registered on a private registry, for callers that do not export them.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry(), "poolscope")
}
