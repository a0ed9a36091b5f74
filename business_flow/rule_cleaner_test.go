package businessflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	testingutil "github.com/amirphl/invoice-sentinel/testing"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCleaner(testDB *testingutil.TestDB) BusinessRuleCleaner {
	logger, _ := test.NewNullLogger()
	return NewBusinessRuleCleaner(testDB.DB, repository.NewSourceStores(testDB.DB), logger, func() time.Time { return classifyNow })
}

func TestCleanSubscriberRoster(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		promo := testingutil.RosterLine(invoice.ID, "C4", "9")
		promo.OfferName = testingutil.Text("MOOHTARIF 2000")
		predeactivated := testingutil.RosterLine(invoice.ID, "C5", "9")
		predeactivated.SubscriberStatus = testingutil.Text(" Predeactivated ")
		require.NoError(t, testingutil.Insert(fixtures,
			testingutil.RosterLine(invoice.ID, "C1", "5"),
			testingutil.RosterLine(invoice.ID, "C2", "57"),
			testingutil.RosterLine(invoice.ID, "C3", "9"),
			promo,
			predeactivated,
		))

		result, err := newTestCleaner(testDB).CleanSubscriberRoster(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.BeforeCount)
		assert.Equal(t, int64(4), result.DeletedCount)
		assert.Equal(t, int64(1), result.AfterCount)
		assert.Empty(t, result.Error)

		var kept models.SubscriberRoster
		require.NoError(t, testDB.DB.First(&kept).Error)
		assert.Equal(t, "C3", *kept.CustomerCode)
		return nil
	})
}

func TestCleanSalesJournal(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		previousYear := testingutil.JournalLine(invoice.ID, "ORAN", "F4", "100.00")
		previousYear.AccountCode = testingutil.Text("706100A")
		require.NoError(t, testingutil.Insert(fixtures,
			testingutil.JournalLine(invoice.ID, "DOT_ALGER", "F1", "100.00"),
			testingutil.JournalLine(invoice.ID, "AT Siège", "F2", "100.00"),
			testingutil.JournalLine(invoice.ID, "AT Siège DCC", "F3", "100.00"),
			previousYear,
		))

		result, err := newTestCleaner(testDB).CleanSalesJournal(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.BeforeCount)
		assert.Equal(t, int64(1), result.NormalizedCount)
		assert.Equal(t, int64(1), result.DeletedCount)
		assert.Equal(t, int64(3), result.AfterCount)
		assert.Equal(t, int64(1), result.TaggedCount)

		var rows []models.SalesJournal
		require.NoError(t, testDB.DB.Order("invoice_number").Find(&rows).Error)
		require.Len(t, rows, 3)
		assert.Equal(t, "ALGER", *rows[0].Organization)
		assert.Equal(t, "AT Siège DCC", *rows[1].Organization)

		tagged := rows[2]
		assert.True(t, tagged.IsPreviousYearInvoice)
		assert.Equal(t, []string{models.JournalTagPreviousYear}, []string(tagged.AnomalyTags))
		var notes []JournalNote
		require.NoError(t, json.Unmarshal(tagged.AnomalyNotes, &notes))
		require.Len(t, notes, 1)

		again, err := newTestCleaner(testDB).CleanSalesJournal(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Zero(t, again.TaggedCount)
		assert.Zero(t, again.DeletedCount)
		return nil
	})
}

func TestCleanCollectionStatement(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		require.NoError(t, testingutil.Insert(fixtures,
			testingutil.CollectionLine(invoice.ID, "ORAN", "F1", "100.00"),
			testingutil.CollectionLine(invoice.ID, "ORAN", "F1", "100.00"),
			testingutil.CollectionLine(invoice.ID, "ORAN", "F1", "250.00"),
			testingutil.CollectionLine(invoice.ID, "ORAN", "F2", "100.00"),
		))

		cleaner := newTestCleaner(testDB)
		result, err := cleaner.CleanCollectionStatement(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TaggedCount)
		assert.Equal(t, int64(4), result.AfterCount)
		assert.Zero(t, result.DeletedCount)

		var rows []models.CollectionStatement
		require.NoError(t, testDB.DB.Order("id").Find(&rows).Error)
		require.Len(t, rows, 4)
		assert.True(t, rows[0].CollectedAmount.Valid)
		assert.False(t, rows[1].CollectedAmount.Valid)
		assert.False(t, rows[2].InvoiceAmount.Valid)
		assert.True(t, rows[3].CollectedAmount.Valid)

		again, err := cleaner.CleanCollectionStatement(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Zero(t, again.TaggedCount)
		return nil
	})
}

func TestCleanTableUnknownSource(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cleaner := NewBusinessRuleCleaner(nil, nil, logger, nil)
	_, err := cleaner.CleanTable(testingutil.CreateTestContext(), "ledger", nil)
	assert.True(t, IsUnknownTable(err))
}

func receivableLine(invoiceID uint, product, level1, level2, level3 string) *models.Receivable {
	row := &models.Receivable{
		Organization:   testingutil.Text("ORAN"),
		Product:        testingutil.Text(product),
		CustomerLevel1: testingutil.Text(level1),
		CustomerLevel3: testingutil.Text(level3),
		InvoicedAmount: testingutil.Amount("100.00"),
		OpenAmount:     testingutil.Amount("50.00"),
	}
	if level2 != "" {
		row.CustomerLevel2 = testingutil.Text(level2)
	}
	row.InvoiceID = invoiceID
	return row
}

func TestCleanReceivables(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)

		require.NoError(t, testingutil.Insert(fixtures,
			receivableLine(invoice.ID, "LTE", "Corporate", "Large Account", "Operating Line AP"),
			receivableLine(invoice.ID, "Specialized Line", "Corporate Group", "", "Operating Line ATS"),
			receivableLine(invoice.ID, "Voice", "Corporate", "Large Account", "Operating Line AP"),
			receivableLine(invoice.ID, "LTE", "Residential", "Large Account", "Operating Line AP"),
			receivableLine(invoice.ID, "LTE", "Corporate", "Contracted Professional Client", "Operating Line AP"),
			receivableLine(invoice.ID, "LTE", "Corporate", "Large Account", "Operating Line XYZ"),
		))

		result, err := newTestCleaner(testDB).CleanReceivables(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), result.BeforeCount)
		assert.Equal(t, int64(4), result.DeletedCount)
		assert.Equal(t, int64(2), result.AfterCount)

		var kept []models.Receivable
		require.NoError(t, testDB.DB.Order("id").Find(&kept).Error)
		require.Len(t, kept, 2)
		assert.Equal(t, "LTE", *kept[0].Product)
		assert.Equal(t, "Specialized Line", *kept[1].Product)
		return nil
	})
}

// headquartersTerritories creates the Siège territory and a regional one
func headquartersTerritories(t *testing.T, fixtures *testingutil.TestFixtures) (siege, oran *models.Territory) {
	siege, err := fixtures.CreateTestTerritory("SIEGE", "Siège", true)
	require.NoError(t, err)
	oran, err = fixtures.CreateTestTerritory("DOT31", "Oran", true)
	require.NoError(t, err)
	return siege, oran
}

func TestCleanPeriodicRevenue(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)
		siege, oran := headquartersTerritories(t, fixtures)

		line := func(dotID *uint, dotCode, product string) *models.PeriodicRevenue {
			row := &models.PeriodicRevenue{
				Organization:  testingutil.Text("ORG"),
				Product:       testingutil.Text(product),
				RevenueAmount: testingutil.Amount("100.00"),
				TotalAmount:   testingutil.Amount("119.00"),
			}
			if dotCode != "" {
				row.DotCode = testingutil.Text(dotCode)
			}
			row.InvoiceID = invoice.ID
			row.DotID = dotID
			return row
		}
		require.NoError(t, testingutil.Insert(fixtures,
			line(&siege.ID, "", "Voice"),
			line(&oran.ID, "DOT31", "LTE"),
			line(nil, "siege", "Voice"),
			line(&oran.ID, "DOT31", "Voice"),
			line(nil, "", "Voice"),
		))

		result, err := newTestCleaner(testDB).CleanPeriodicRevenue(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.BeforeCount)
		assert.Equal(t, int64(2), result.DeletedCount)
		assert.Equal(t, int64(3), result.AfterCount)
		return nil
	})
}

func TestCleanNonPeriodicRevenue(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)
		siege, oran := headquartersTerritories(t, fixtures)

		line := func(dotID *uint, product string) *models.NonPeriodicRevenue {
			row := &models.NonPeriodicRevenue{
				Organization:  testingutil.Text("ORG"),
				Product:       testingutil.Text(product),
				RevenueAmount: testingutil.Amount("100.00"),
				TotalAmount:   testingutil.Amount("119.00"),
			}
			row.InvoiceID = invoice.ID
			row.DotID = dotID
			return row
		}
		require.NoError(t, testingutil.Insert(fixtures,
			line(&siege.ID, "Voice"),
			line(&oran.ID, "LTE"),
			line(nil, "LTE"),
		))

		result, err := newTestCleaner(testDB).CleanNonPeriodicRevenue(ctx, &invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.DeletedCount)
		assert.Equal(t, int64(1), result.AfterCount)

		var kept models.NonPeriodicRevenue
		require.NoError(t, testDB.DB.First(&kept).Error)
		require.NotNil(t, kept.DotID)
		assert.Equal(t, siege.ID, *kept.DotID)
		return nil
	})
}

func TestCleanRevenueLines(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()
		invoice, err := fixtures.CreateTestInvoice()
		require.NoError(t, err)
		siege, oran := headquartersTerritories(t, fixtures)

		// kept, wrong department, outside headquarters, no department
		cases := []struct {
			dotID      *uint
			department string
		}{
			{&siege.ID, " direction commerciale CORPORATE "},
			{&siege.ID, "Direction Grand Public"},
			{&oran.ID, "Direction Commerciale Corporate"},
			{&siege.ID, ""},
		}
		columns := func(department string) models.RevenueLineColumns {
			cols := models.RevenueLineColumns{
				Organization:  testingutil.Text("ORG"),
				CustomerCode:  testingutil.Text("C1"),
				RevenueAmount: testingutil.Amount("100.00"),
				TaxAmount:     testingutil.Amount("19.00"),
				TotalAmount:   testingutil.Amount("119.00"),
			}
			if department != "" {
				cols.Department = testingutil.Text(department)
			}
			return cols
		}
		for _, c := range cases {
			adjustment := &models.AdjustmentRevenue{RevenueLineColumns: columns(c.department)}
			refund := &models.RefundRevenue{RevenueLineColumns: columns(c.department)}
			cancellation := &models.CancellationRevenue{RevenueLineColumns: columns(c.department)}
			adjustment.InvoiceID, adjustment.DotID = invoice.ID, c.dotID
			refund.InvoiceID, refund.DotID = invoice.ID, c.dotID
			cancellation.InvoiceID, cancellation.DotID = invoice.ID, c.dotID
			require.NoError(t, testingutil.Insert(fixtures, adjustment))
			require.NoError(t, testingutil.Insert(fixtures, refund))
			require.NoError(t, testingutil.Insert(fixtures, cancellation))
		}

		cleaner := newTestCleaner(testDB)
		for name, clean := range map[string]func() (*CleaningResult, error){
			"adjustment":   func() (*CleaningResult, error) { return cleaner.CleanAdjustmentRevenue(ctx, &invoice.ID) },
			"refund":       func() (*CleaningResult, error) { return cleaner.CleanRefundRevenue(ctx, &invoice.ID) },
			"cancellation": func() (*CleaningResult, error) { return cleaner.CleanCancellationRevenue(ctx, &invoice.ID) },
		} {
			t.Run(name, func(t *testing.T) {
				result, err := clean()
				require.NoError(t, err)
				assert.Equal(t, int64(4), result.BeforeCount)
				assert.Equal(t, int64(3), result.DeletedCount)
				assert.Equal(t, int64(1), result.AfterCount)
				assert.Empty(t, result.Error)
			})
		}
		return nil
	})
}
