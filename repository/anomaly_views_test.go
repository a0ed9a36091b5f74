package repository

import (
	"testing"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	testingutil "github.com/amirphl/invoice-sentinel/testing"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnomalyRepositoryViews(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		repo := NewAnomalyRepository(testDB.DB, NewInvoiceRepository(testDB.DB), newTestLogger(), 0)

		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		now := utils.UTCNow()
		create := func(anomalyType, source, organization string, age time.Duration) *models.Anomaly {
			createdAt := now.Add(-age)
			anomaly := &models.Anomaly{
				InvoiceID:   invoice.ID,
				Type:        anomalyType,
				Description: anomalyType,
				Data:        map[string]any{"organization": organization},
				DataSource:  source,
				Status:      models.AnomalyStatusOpen,
				CreatedAt:   createdAt,
				UpdatedAt:   createdAt,
			}
			require.NoError(t, testDB.DB.Create(anomaly).Error)
			return anomaly
		}

		recent := create(models.AnomalyTypeDuplicateData, models.DataSourceJournal, "ORAN", time.Hour)
		create(models.AnomalyTypeInvalidDot, models.DataSourceEtat, "ALGER", 3*24*time.Hour)
		old := create(models.AnomalyTypeZeroValue, models.DataSourceJournal, "ALGER", 40*24*time.Hour)
		require.NoError(t, testDB.DB.Model(old).UpdateColumns(map[string]any{
			"status":     models.AnomalyStatusResolved,
			"updated_at": old.CreatedAt.Add(2 * time.Hour),
		}).Error)

		t.Run("ListNewestFirst", func(t *testing.T) {
			page, err := repo.List(ctx, AnomalyListQuery{PageSize: 2})
			require.NoError(t, err)
			assert.Equal(t, int64(3), page.Total)
			assert.Equal(t, 2, page.TotalPages)
			require.Len(t, page.Items, 2)
			assert.Equal(t, recent.ID, page.Items[0].ID)

			last, err := repo.List(ctx, AnomalyListQuery{Page: 2, PageSize: 2})
			require.NoError(t, err)
			require.Len(t, last.Items, 1)
			assert.Equal(t, old.ID, last.Items[0].ID)
		})

		t.Run("ListFilters", func(t *testing.T) {
			critical := models.SeverityCritical
			page, err := repo.List(ctx, AnomalyListQuery{Filter: models.AnomalyFilter{Severity: &critical}})
			require.NoError(t, err)
			assert.Equal(t, int64(2), page.Total)

			org := "ora"
			page, err = repo.List(ctx, AnomalyListQuery{Filter: models.AnomalyFilter{Organization: &org}})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, recent.ID, page.Items[0].ID)

			after := now.Add(-48 * time.Hour)
			page, err = repo.List(ctx, AnomalyListQuery{Filter: models.AnomalyFilter{CreatedAfter: &after}})
			require.NoError(t, err)
			assert.Equal(t, int64(1), page.Total)

			_, err = repo.List(ctx, AnomalyListQuery{Sort: "description"})
			assert.ErrorIs(t, err, ErrInvalidSortKey)
		})

		t.Run("AvailableFilters", func(t *testing.T) {
			values, err := repo.AvailableFilters(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{models.AnomalyTypeDuplicateData, models.AnomalyTypeInvalidDot, models.AnomalyTypeZeroValue}, values.Types)
			assert.Equal(t, []string{models.DataSourceEtat, models.DataSourceJournal}, values.Sources)
			assert.Equal(t, []string{models.AnomalyStatusOpen, models.AnomalyStatusResolved}, values.Statuses)
			assert.Equal(t, []string{"ALGER", "ORAN"}, values.Organizations)
			assert.Equal(t, models.Severities, values.Severities)
		})

		t.Run("Statistics", func(t *testing.T) {
			stats, err := repo.Statistics(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Total)
			assert.Equal(t, int64(2), stats.BySource[models.DataSourceJournal])
			assert.Equal(t, int64(1), stats.ByStatus[models.AnomalyStatusResolved])
			assert.Equal(t, int64(2), stats.BySeverity[models.SeverityCritical])
			assert.Equal(t, int64(1), stats.BySeverity[models.SeverityMedium])
			assert.Equal(t, AgeBuckets{Last24Hours: 1, LastWeek: 1, LastMonth: 0, Older: 1}, stats.ByAge)
		})

		t.Run("KPIs", func(t *testing.T) {
			kpis, err := repo.KPIs(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), kpis.TotalAnomalies)
			assert.Equal(t, int64(2), kpis.OpenAnomalies)
			assert.Equal(t, int64(1), kpis.ResolvedAnomalies)
			assert.InDelta(t, 100.0/3, kpis.ResolutionRate, 1e-9)
			require.NotNil(t, kpis.AverageResolutionHours)
			assert.InDelta(t, 2.0, *kpis.AverageResolutionHours, 1e-6)
			assert.Equal(t, int64(0), kpis.SourceRecords)
			assert.Equal(t, 100.0, kpis.DataQualityScore)
		})

		return nil
	})
}
