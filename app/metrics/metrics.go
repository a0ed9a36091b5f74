// Package metrics holds the Prometheus collectors of scans, cleaning passes and anomaly writes
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Anomalies persisted, partitioned by type and data source
	anomaliesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_created_total",
			Help: "Total number of anomalies persisted",
		},
		[]string{"type", "source"},
	)

	// Anomalies removed by the bulk deletion
	anomaliesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anomalies_deleted_total",
			Help: "Total number of anomalies deleted",
		},
	)

	// Scan task duration in seconds partitioned by task and outcome
	scanTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_task_duration_seconds",
			Help:    "Scan task latencies in seconds",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"task", "status"},
	)

	// Rows removed or rewritten by the business rule cleaner
	cleaningRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleaning_rows_total",
			Help: "Rows deleted or tagged by the business rule cleaner",
		},
		[]string{"table", "action"},
	)

	// Last successful scan run, unix seconds
	lastScanTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_last_completed_timestamp_seconds",
			Help: "Unix time of the last completed scan run",
		},
	)
)

// RecordAnomaliesCreated counts a persisted anomaly batch
func RecordAnomaliesCreated(created []*models.Anomaly) {
	for _, a := range created {
		anomaliesCreatedTotal.WithLabelValues(a.Type, a.DataSource).Inc()
	}
}

// RecordAnomaliesDeleted counts deleted anomalies
func RecordAnomaliesDeleted(n int64) {
	if n > 0 {
		anomaliesDeletedTotal.Add(float64(n))
	}
}

// ObserveScanTask records one scan task outcome
func ObserveScanTask(task, status string, d time.Duration) {
	scanTaskDuration.WithLabelValues(task, status).Observe(d.Seconds())
}

// MarkScanCompleted stamps the completion time of a scan run
func MarkScanCompleted(at time.Time) {
	lastScanTimestamp.Set(float64(at.Unix()))
}

// RecordCleaning counts the rows a cleaning pass deleted and tagged
func RecordCleaning(table string, deleted, tagged int64) {
	cleaningRowsTotal.WithLabelValues(table, "deleted").Add(float64(deleted))
	cleaningRowsTotal.WithLabelValues(table, "tagged").Add(float64(tagged))
}

// Push sends every registered collector to a Pushgateway under job, grouped
// by environment
func Push(ctx context.Context, url, job, environment string) error {
	pusher := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("environment", environment)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
