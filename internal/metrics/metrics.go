// Package metrics provides Prometheus metrics for the livedit engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livedit_syncs_total",
			Help: "Total number of patch syncs by result",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livedit_sync_duration_seconds",
			Help:    "Time to read, patch and write one file",
			Buckets: prometheus.DefBuckets,
		},
	)

	desyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livedit_desyncs_total",
			Help: "Fingerprint mismatches reported to clients",
		},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livedit_snapshots_total",
			Help: "History entries written, by kind and status",
		},
		[]string{"kind", "status"},
	)

	autosavesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livedit_autosaves_scheduled_total",
			Help: "Autosave schedule requests, including ones later coalesced",
		},
	)

	workspacesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livedit_workspaces_created_total",
			Help: "Workspaces provisioned, by kind",
		},
		[]string{"kind"},
	)

	workspacesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livedit_workspaces_deleted_total",
			Help: "Workspaces deleted, by reason",
		},
		[]string{"reason"},
	)

	gcSkippedBusy = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livedit_gc_skipped_busy_total",
			Help: "Expired workspaces skipped because an operation held a lease",
		},
	)
)

// RecordSync records the outcome of one sync call.
func RecordSync(result string, d time.Duration) {
	syncsTotal.WithLabelValues(result).Inc()
	syncDuration.Observe(d.Seconds())
}

// RecordDesync counts a fingerprint mismatch.
func RecordDesync() {
	desyncsTotal.Inc()
}

// RecordSnapshot counts a history write. kind is autosave, manual, rewind or reset.
func RecordSnapshot(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	snapshotsTotal.WithLabelValues(kind, status).Inc()
}

func RecordAutosaveScheduled() {
	autosavesScheduled.Inc()
}

func RecordWorkspaceCreated(kind string) {
	workspacesCreated.WithLabelValues(kind).Inc()
}

func RecordWorkspaceDeleted(reason string) {
	workspacesDeleted.WithLabelValues(reason).Inc()
}

func RecordGCSkippedBusy() {
	gcSkippedBusy.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
