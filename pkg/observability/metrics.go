package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backend metrics
	backendOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convsync_backend_operations_total",
			Help: "Total number of backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Sync metrics
	syncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convsync_sync_passes_total",
			Help: "Total number of synchronization passes",
		},
		[]string{"status"},
	)

	pendingOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convsync_pending_operations",
			Help: "Number of queued operations awaiting replay",
		},
	)

	conflictsDetected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convsync_conflicts_detected",
			Help: "Number of unresolved conversation conflicts",
		},
	)

	// Attachment metrics
	attachmentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convsync_attachment_operations_total",
			Help: "Total number of attachment store operations",
		},
		[]string{"operation", "status"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			backendOpsTotal,
			syncPassesTotal,
			pendingOperations,
			conflictsDetected,
			attachmentOpsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordBackendOp records one backend operation outcome
func RecordBackendOp(backend, operation, status string) {
	backendOpsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordSyncPass records the outcome of one synchronization pass
func RecordSyncPass(status string) {
	syncPassesTotal.WithLabelValues(status).Inc()
}

// SetPendingOperations sets the queued-operation gauge
func SetPendingOperations(count int) {
	pendingOperations.Set(float64(count))
}

// SetConflicts sets the unresolved-conflict gauge
func SetConflicts(count int) {
	conflictsDetected.Set(float64(count))
}

// RecordAttachmentOp records one attachment store operation outcome
func RecordAttachmentOp(operation, status string) {
	attachmentOpsTotal.WithLabelValues(operation, status).Inc()
}
