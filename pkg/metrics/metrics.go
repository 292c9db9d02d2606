package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Shard lifecycle metrics
	ShardsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_shards_loaded_total",
			Help: "Total number of shard load operations by database and table",
		},
		[]string{"database", "table"},
	)

	ShardsUnloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_shards_unloaded_total",
			Help: "Total number of shard unload operations by database and table",
		},
		[]string{"database", "table"},
	)

	ShardsResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jstorage_shards_resident",
			Help: "Number of shards currently held in memory across all tables",
		},
	)

	ShardLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jstorage_shard_load_duration_seconds",
			Help:    "Time taken to load a shard from disk in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Record operation metrics
	RecordReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_record_reads_total",
			Help: "Total number of record reads by database and table",
		},
		[]string{"database", "table"},
	)

	RecordWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_record_writes_total",
			Help: "Total number of record writes by database and table",
		},
		[]string{"database", "table"},
	)

	StaleTokenRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_stale_token_rejections_total",
			Help: "Total number of writes rejected for carrying a stale update token",
		},
		[]string{"database", "table"},
	)

	// Notification bus metrics
	NotificationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jstorage_notification_queue_depth",
			Help: "Current depth of the notification dispatcher's bounded queue",
		},
	)

	NotificationListenersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jstorage_notification_listeners",
			Help: "Current number of subscribed notification listeners",
		},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_cache_hits_total",
			Help: "Total number of cache lookups that found a live entry",
		},
		[]string{"bucket"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_cache_misses_total",
			Help: "Total number of cache lookups that found no entry or an expired one",
		},
		[]string{"bucket"},
	)

	// Rate limiter metrics
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstorage_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the per-user token bucket",
		},
		[]string{"user"},
	)

	// Maintenance metrics
	MaintenanceCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jstorage_maintenance_cycle_duration_seconds",
			Help:    "Time taken for one maintenance sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jstorage_maintenance_cycles_total",
			Help: "Total number of maintenance sweep cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(ShardsLoadedTotal)
	prometheus.MustRegister(ShardsUnloadedTotal)
	prometheus.MustRegister(ShardsResident)
	prometheus.MustRegister(ShardLoadDuration)

	prometheus.MustRegister(RecordReadsTotal)
	prometheus.MustRegister(RecordWritesTotal)
	prometheus.MustRegister(StaleTokenRejectionsTotal)

	prometheus.MustRegister(NotificationQueueDepth)
	prometheus.MustRegister(NotificationListenersTotal)

	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)

	prometheus.MustRegister(RateLimitRejectionsTotal)

	prometheus.MustRegister(MaintenanceCycleDuration)
	prometheus.MustRegister(MaintenanceCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
