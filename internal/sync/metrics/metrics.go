package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogPagesProcessed tracks processed change-log pages.
	LogPagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsync_log_pages_processed_total",
			Help: "Total number of change-log pages processed",
		},
	)

	// LogEntriesProcessed tracks processed change-log entries.
	LogEntriesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsync_log_entries_processed_total",
			Help: "Total number of change-log entries processed",
		},
	)

	// ObjectUpdates tracks executed object updates by outcome.
	ObjectUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_object_updates_total",
			Help: "Total number of object updates by outcome",
		},
		[]string{"outcome"}, // patched, fetched, cached, deleted, skipped
	)

	// HubFetches tracks hub fetches by result.
	HubFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_hub_fetches_total",
			Help: "Total number of hub resource fetches",
		},
		[]string{"result"}, // ok, not_found, error
	)

	// HubFetchLatency tracks hub fetch latency.
	HubFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsync_hub_fetch_latency_seconds",
			Help:    "Hub fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BrokenLogStreams counts detected log stream breaks.
	BrokenLogStreams = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsync_broken_log_streams_total",
			Help: "Total number of detected broken log streams",
		},
	)

	// TasksRun counts executed delete-transfer tasks.
	TasksRun = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsync_delete_tasks_run_total",
			Help: "Total number of delete-transfer tasks executed",
		},
	)

	// SyncRounds counts background sync rounds by result.
	SyncRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_sync_rounds_total",
			Help: "Total number of sync rounds by result",
		},
		[]string{"result"}, // ok, error, broken
	)

	// PendingActions gauges queued action records.
	PendingActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletsync_pending_actions",
			Help: "Number of queued action records",
		},
	)
)
