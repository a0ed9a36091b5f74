package repository

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	testingutil "github.com/amirphl/invoice-sentinel/testing"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePayload(t *testing.T) {
	in := map[string]any{
		"record_id":    nil,
		"dot_id":       "",
		"territory_id": "T1",
		"field":        "organization",
		"value":        nil,
		"label":        "",
	}
	out := SanitizePayload(in)

	assert.Contains(t, out, "record_id")
	assert.Nil(t, out["record_id"])
	assert.NotContains(t, out, "dot_id")
	assert.NotContains(t, out, "value")
	assert.Equal(t, "T1", out["territory_id"])
	assert.Equal(t, "", out["label"], "empty strings only become null under _id keys")
	assert.Equal(t, "organization", out["field"])
	assert.Equal(t, "", in["dot_id"], "input must not be mutated")
}

func TestDataQualityScore(t *testing.T) {
	assert.Equal(t, 100.0, DataQualityScore(10, 0))
	assert.Equal(t, 100.0, DataQualityScore(0, 50))
	assert.InDelta(t, 90.0, DataQualityScore(10, 100), 1e-9)
	assert.Equal(t, 0.0, DataQualityScore(500, 100))
}

func TestSeverityCounts(t *testing.T) {
	got := SeverityCounts(map[string]int64{
		models.AnomalyTypeDuplicateData:  2,
		models.AnomalyTypeInvalidDot:     3,
		models.AnomalyTypeOutlier:        1,
		models.AnomalyTypeAmountMismatch: 4,
	})
	assert.Equal(t, map[string]int64{
		models.SeverityCritical: 5,
		models.SeverityHigh:     1,
		models.SeverityMedium:   4,
		models.SeverityLow:      0,
	}, got)
}

func TestParseSort(t *testing.T) {
	order, err := parseSort("")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC, id DESC", order)

	order, err = parseSort("type")
	require.NoError(t, err)
	assert.Equal(t, "type ASC, id ASC", order)

	_, err = parseSort("-description; DROP TABLE anomalies")
	assert.ErrorIs(t, err, ErrInvalidSortKey)
}

func newTestLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestAnomalyRepositoryBatchCreate(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoices := NewInvoiceRepository(testDB.DB)
		repo := NewAnomalyRepository(testDB.DB, invoices, newTestLogger(), 0)

		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		t.Run("SanitizesAndDefaults", func(t *testing.T) {
			created := repo.BatchCreate(ctx, []models.AnomalyCandidate{{
				Type:        models.AnomalyTypeInvalidDot,
				Description: "Invalid DOT",
				Data:        map[string]any{"record_id": 7, "dot_id": "", "dot_code": nil},
				DataSource:  models.DataSourceJournal,
			}}, nil)
			require.Len(t, created, 1)
			assert.Equal(t, invoice.ID, created[0].InvoiceID, "latest invoice is the fallback")
			assert.Equal(t, models.AnomalyStatusOpen, created[0].Status)
			assert.NotContains(t, created[0].Data, "dot_id")
			assert.NotContains(t, created[0].Data, "dot_code")
		})

		t.Run("DropsInvalidCandidates", func(t *testing.T) {
			created := repo.BatchCreate(ctx, []models.AnomalyCandidate{
				{Type: "", Description: "no type", InvoiceID: &invoice.ID},
				{Type: models.AnomalyTypeOutlier, Description: "", InvoiceID: &invoice.ID},
				{Type: models.AnomalyTypeOutlier, Description: "kept", InvoiceID: &invoice.ID},
			}, nil)
			require.Len(t, created, 1)
			assert.Equal(t, "kept", created[0].Description)
		})

		t.Run("EmptyInput", func(t *testing.T) {
			assert.Empty(t, repo.BatchCreate(ctx, nil, nil))
		})

		return nil
	})
}

func TestAnomalyBufferFlushesAtThreshold(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		repo := NewAnomalyRepository(testDB.DB, NewInvoiceRepository(testDB.DB), newTestLogger(), 0)

		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		var flushed int
		buffer := repo.NewBuffer(&invoice.ID, 3, func(batch []*models.Anomaly) { flushed += len(batch) })
		for i := 0; i < 7; i++ {
			buffer.Add(ctx, models.AnomalyCandidate{Type: models.AnomalyTypeZeroValue, Description: "zero"})
		}
		assert.Equal(t, 6, flushed)
		assert.Equal(t, 1, buffer.Pending())

		buffer.Flush(ctx)
		assert.Equal(t, 7, flushed)
		assert.Len(t, buffer.Created(), 7)

		count, err := repo.Count(ctx, models.AnomalyFilter{InvoiceID: &invoice.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(7), count)
		return nil
	})
}

func TestAnomalyRepositoryDelete(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		repo := NewAnomalyRepository(testDB.DB, NewInvoiceRepository(testDB.DB), newTestLogger(), 2)

		t.Run("OlderThan", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			invoice, err := fixtures.CreateTestInvoice()
			require.NoError(t, err)
			for _, days := range []int{40, 10, 0} {
				_, err := fixtures.CreateTestAnomaly(invoice.ID, models.AnomalyTypeOutlier, models.DataSourceJournal, utils.DaysAgo(days))
				require.NoError(t, err)
			}

			deleted, err := repo.DeleteOlderThan(ctx, 30)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			remaining, err := repo.Count(ctx, models.AnomalyFilter{})
			require.NoError(t, err)
			assert.Equal(t, int64(2), remaining)
		})

		t.Run("BatchedWithProgress", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			invoice, err := fixtures.CreateTestInvoice()
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				_, err := fixtures.CreateTestAnomaly(invoice.ID, models.AnomalyTypeEmptyField, models.DataSourceEtat, time.Now())
				require.NoError(t, err)
			}
			_, err = fixtures.CreateTestAnomaly(invoice.ID, models.AnomalyTypeOutlier, models.DataSourceEtat, time.Now())
			require.NoError(t, err)

			var calls []int64
			deleted, err := repo.DeleteByFilter(ctx, models.AnomalyDeleteFilter{Types: []string{models.AnomalyTypeEmptyField}}, 2,
				func(done, total int64) {
					assert.Equal(t, int64(5), total)
					calls = append(calls, done)
				})
			require.NoError(t, err)
			assert.Equal(t, int64(5), deleted)
			assert.Equal(t, []int64{2, 4, 5}, calls)

			remaining, err := repo.Count(ctx, models.AnomalyFilter{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), remaining)
		})

		t.Run("NothingMatches", func(t *testing.T) {
			deleted, err := repo.DeleteBySource(ctx, models.DataSourceParc)
			require.NoError(t, err)
			assert.Zero(t, deleted)
		})

		t.Run("ConvenienceDeletes", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			first, err := fixtures.CreateTestInvoice()
			require.NoError(t, err)
			second, err := fixtures.CreateTestInvoice()
			require.NoError(t, err)

			now := time.Now()
			_, err = fixtures.CreateTestAnomaly(first.ID, models.AnomalyTypeOutlier, models.DataSourceJournal, now)
			require.NoError(t, err)
			resolved, err := fixtures.CreateTestAnomaly(first.ID, models.AnomalyTypeOutlier, models.DataSourceJournal, now)
			require.NoError(t, err)
			require.NoError(t, testDB.DB.Model(resolved).Update("status", models.AnomalyStatusResolved).Error)
			_, err = fixtures.CreateTestAnomaly(second.ID, models.AnomalyTypeZeroValue, models.DataSourceEtat, now)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnomaly(second.ID, models.AnomalyTypeEmptyField, models.DataSourceEtat, now)
			require.NoError(t, err)

			steps := []struct {
				name string
				run  func() (int64, error)
			}{
				{"resolved", func() (int64, error) { return repo.DeleteResolved(ctx) }},
				{"by type", func() (int64, error) { return repo.DeleteByType(ctx, models.AnomalyTypeZeroValue) }},
				{"by invoice", func() (int64, error) { return repo.DeleteByInvoice(ctx, first.ID) }},
				{"all", func() (int64, error) { return repo.DeleteAll(ctx) }},
			}
			for _, step := range steps {
				deleted, err := step.run()
				require.NoError(t, err, step.name)
				assert.Equal(t, int64(1), deleted, step.name)
			}

			exists, err := repo.Exists(ctx, models.AnomalyFilter{})
			require.NoError(t, err)
			assert.False(t, exists)
		})

		return nil
	})
}
