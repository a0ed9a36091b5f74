package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAnomaliesCreated(t *testing.T) {
	counter := anomaliesCreatedTotal.WithLabelValues(models.AnomalyTypeOutlier, models.DataSourceJournal)
	before := testutil.ToFloat64(counter)

	RecordAnomaliesCreated([]*models.Anomaly{
		{Type: models.AnomalyTypeOutlier, DataSource: models.DataSourceJournal},
		{Type: models.AnomalyTypeOutlier, DataSource: models.DataSourceJournal},
		{Type: models.AnomalyTypeZeroValue, DataSource: models.DataSourceEtat},
	})
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordCleaningAndDeletion(t *testing.T) {
	deleted := cleaningRowsTotal.WithLabelValues("parc_corporate", "deleted")
	tagged := cleaningRowsTotal.WithLabelValues("parc_corporate", "tagged")
	beforeDeleted, beforeTagged := testutil.ToFloat64(deleted), testutil.ToFloat64(tagged)

	RecordCleaning("parc_corporate", 4, 5)
	assert.Equal(t, beforeDeleted+4, testutil.ToFloat64(deleted))
	assert.Equal(t, beforeTagged+5, testutil.ToFloat64(tagged))

	beforeAnomalies := testutil.ToFloat64(anomaliesDeletedTotal)
	RecordAnomaliesDeleted(0)
	RecordAnomaliesDeleted(12)
	assert.Equal(t, beforeAnomalies+12, testutil.ToFloat64(anomaliesDeletedTotal))
}

func TestMarkScanCompleted(t *testing.T) {
	at := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	MarkScanCompleted(at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(lastScanTimestamp))
}

func TestPush(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ObserveScanTask("zero_values", "succeeded", 150*time.Millisecond)
	require.NoError(t, Push(context.Background(), server.URL, "invoice_sentinel", "staging"))
	assert.Equal(t, "/metrics/job/invoice_sentinel/environment/staging", path)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.Error(t, Push(context.Background(), failing.URL, "invoice_sentinel", "staging"))
}
