package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe loader metrics
	ProbeEventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_probe_events_received_total",
			Help: "Total number of ring-buffer events received by kind",
		},
		[]string{"kind"},
	)

	ProbeEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_probe_events_dropped_total",
			Help: "Total number of ring-buffer events dropped on channel send by kind",
		},
		[]string{"kind"},
	)

	// Correlator metrics
	CorrelatorSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kguardian_correlator_entries",
			Help: "Current number of pods tracked by the workload correlator",
		},
	)

	CorrelatorMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_correlator_misses_total",
			Help: "Total number of events dropped because their netns inode was not in the correlator",
		},
		[]string{"pipeline"},
	)

	// Pipeline metrics
	PipelineEventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_pipeline_events_emitted_total",
			Help: "Total number of records emitted to the broker by pipeline",
		},
		[]string{"pipeline"},
	)

	PipelineEventsDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_pipeline_events_deduped_total",
			Help: "Total number of events suppressed by the dedup cache by pipeline",
		},
		[]string{"pipeline"},
	)

	PipelineBatchFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_pipeline_batch_flushes_total",
			Help: "Total number of batch flushes by pipeline and reason (size, timeout, shutdown)",
		},
		[]string{"pipeline", "reason"},
	)

	PipelineBatchFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kguardian_pipeline_batch_flush_duration_seconds",
			Help:    "Time taken to POST a batch to the broker",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	// Watcher metrics
	WatcherPodsTrackedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kguardian_watcher_pods_tracked",
			Help: "Current number of pods resolved to a netns inode on this node",
		},
		[]string{"namespace"},
	)

	WatcherSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_watcher_skipped_total",
			Help: "Total number of pods skipped by the watcher by reason",
		},
		[]string{"reason"},
	)

	// Broker client (agent side) metrics
	BrokerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_broker_requests_total",
			Help: "Total number of outbound broker HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	BrokerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kguardian_broker_request_duration_seconds",
			Help:    "Outbound broker HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kguardian_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kguardian_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationMarkedDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kguardian_reconciliation_marked_dead_total",
			Help: "Total number of pods marked dead by the reconciler",
		},
	)

	// Broker ingest metrics (broker side)
	BrokerIngestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_broker_ingest_requests_total",
			Help: "Total number of inbound ingest HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	BrokerIngestDuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kguardian_broker_ingest_duplicates_total",
			Help: "Total number of records rejected by the duplicate predicate by table",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		ProbeEventsReceivedTotal,
		ProbeEventsDroppedTotal,
		CorrelatorSize,
		CorrelatorMissesTotal,
		PipelineEventsEmittedTotal,
		PipelineEventsDedupedTotal,
		PipelineBatchFlushesTotal,
		PipelineBatchFlushDuration,
		WatcherPodsTrackedTotal,
		WatcherSkippedTotal,
		BrokerRequestsTotal,
		BrokerRequestDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciliationMarkedDeadTotal,
		BrokerIngestRequestsTotal,
		BrokerIngestDuplicatesTotal,
	)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
