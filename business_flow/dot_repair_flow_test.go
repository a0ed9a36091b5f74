package businessflow

import (
	"testing"

	"github.com/amirphl/invoice-sentinel/models"
	testingutil "github.com/amirphl/invoice-sentinel/testing"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairDotCodes(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)
		territory, err := fixtures.CreateTestTerritory("DOT16", "Alger Centre", true)
		require.NoError(t, err)

		stale := testingutil.JournalLine(invoice.ID, "ALGER", "F1", "10.00")
		stale.DotID = &territory.ID
		stale.DotCode = testingutil.Text("16")
		current := testingutil.JournalLine(invoice.ID, "ALGER", "F2", "10.00")
		current.DotID = &territory.ID
		current.DotCode = testingutil.Text("DOT16")
		unlinked := testingutil.JournalLine(invoice.ID, "ALGER", "F3", "10.00")
		unlinked.DotCode = testingutil.Text("legacy")
		cased := testingutil.JournalLine(invoice.ID, "ALGER", "F4", "10.00")
		cased.DotID = &territory.ID
		cased.DotCode = testingutil.Text(" dot16 ")
		require.NoError(t, testingutil.Insert(fixtures, stale, current, unlinked, cased))

		etat := testingutil.CollectionLine(invoice.ID, "ALGER", "F1", "10.00")
		etat.DotID = &territory.ID
		require.NoError(t, testingutil.Insert(fixtures, etat))

		logger, _ := test.NewNullLogger()
		updated, err := NewDotRepairFlow(testDB.DB, logger).RepairDotCodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated[models.SalesJournal{}.TableName()])
		assert.Equal(t, int64(1), updated[models.CollectionStatement{}.TableName()])
		_, hasRoster := updated[models.SubscriberRoster{}.TableName()]
		assert.False(t, hasRoster)

		var rows []models.SalesJournal
		require.NoError(t, testDB.DB.Order("invoice_number").Find(&rows).Error)
		require.Len(t, rows, 4)
		assert.Equal(t, "DOT16", *rows[0].DotCode)
		assert.Equal(t, "DOT16", *rows[1].DotCode)
		assert.Equal(t, "legacy", *rows[2].DotCode)
		assert.Equal(t, " dot16 ", *rows[3].DotCode, "codes the scan accepts are left as written")

		again, err := NewDotRepairFlow(testDB.DB, logger).RepairDotCodes(ctx)
		require.NoError(t, err)
		for table, n := range again {
			assert.Zero(t, n, table)
		}
		return nil
	})
}
