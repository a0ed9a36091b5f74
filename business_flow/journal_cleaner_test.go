package businessflow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var classifyNow = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

func journalRow() *models.SalesJournal {
	invoiceDate := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	return &models.SalesJournal{
		AccountCode:   utils.ToPtr("706100"),
		InvoiceDate:   &invoiceDate,
		GLDate:        &invoiceDate,
		InvoiceObject: utils.ToPtr("Monthly subscription"),
		BillingPeriod: utils.ToPtr("T1-2024"),
	}
}

func TestClassifyJournalRow(t *testing.T) {
	t.Run("CurrentYearRowGainsNothing", func(t *testing.T) {
		tagging := ClassifyJournalRow(journalRow(), classifyNow)
		assert.False(t, tagging.Any())
		assert.Empty(t, tagging.Notes)
	})

	t.Run("EveryRuleMatches", func(t *testing.T) {
		row := journalRow()
		row.AccountCode = utils.ToPtr(" 706100A ")
		row.InvoiceDate = utils.ToPtr(time.Date(2023, time.December, 20, 0, 0, 0, 0, time.UTC))
		row.InvoiceObject = utils.ToPtr("@Regularisation")
		row.BillingPeriod = utils.ToPtr("T4-2022")

		tagging := ClassifyJournalRow(row, classifyNow)
		assert.True(t, tagging.PreviousYear)
		assert.True(t, tagging.Advance)
		assert.True(t, tagging.AtObject)
		assert.True(t, tagging.PreviousPeriod)
		require.Len(t, tagging.Notes, 4)
		assert.Equal(t, models.JournalTagPreviousYear, tagging.Notes[0].Tag)
		assert.Equal(t, "2024-06-15T10:00:00Z", tagging.Notes[0].TaggedAt)
	})

	t.Run("GLDateBeforeCurrentYear", func(t *testing.T) {
		row := journalRow()
		row.GLDate = utils.ToPtr(time.Date(2023, time.January, 5, 0, 0, 0, 0, time.UTC))
		tagging := ClassifyJournalRow(row, classifyNow)
		assert.True(t, tagging.PreviousYear)
		require.Len(t, tagging.Notes, 1)
		assert.Contains(t, tagging.Notes[0].Reason, "2023")
	})

	t.Run("ExistingTagsAreNotRepeated", func(t *testing.T) {
		row := journalRow()
		row.AccountCode = utils.ToPtr("706100A")
		row.IsPreviousYearInvoice = true
		assert.False(t, ClassifyJournalRow(row, classifyNow).Any())
	})

	t.Run("LowercaseAccountSuffixIsNotPreviousYear", func(t *testing.T) {
		row := journalRow()
		row.AccountCode = utils.ToPtr("706100a")
		assert.False(t, ClassifyJournalRow(row, classifyNow).PreviousYear)
	})

	t.Run("BillingPeriodOutsideWindow", func(t *testing.T) {
		row := journalRow()
		row.BillingPeriod = utils.ToPtr("T1-2015")
		assert.False(t, ClassifyJournalRow(row, classifyNow).PreviousPeriod)
	})
}

func TestApplyTaggingAppendsToExistingNotes(t *testing.T) {
	existing, err := json.Marshal([]JournalNote{{Tag: models.JournalTagAdvance, Reason: "earlier", TaggedAt: "2024-01-01T00:00:00Z"}})
	require.NoError(t, err)

	row := journalRow()
	row.ID = 11
	row.IsAdvanceInvoice = true
	row.AnomalyTags = pq.StringArray{models.JournalTagAdvance}
	row.AnomalyNotes = datatypes.JSON(existing)
	row.InvoiceObject = utils.ToPtr("@object")

	values, err := applyTagging(row, ClassifyJournalRow(row, classifyNow))
	require.NoError(t, err)

	assert.Equal(t, true, values["is_advance_invoice"])
	assert.Equal(t, true, values["is_at_object_invoice"])
	assert.Equal(t, false, values["is_previous_year_invoice"])
	assert.Equal(t, pq.StringArray{models.JournalTagAdvance, models.JournalTagAtObject}, values["anomaly_tags"])

	var notes []JournalNote
	require.NoError(t, json.Unmarshal(values["anomaly_notes"].(datatypes.JSON), &notes))
	require.Len(t, notes, 2)
	assert.Equal(t, "earlier", notes[0].Reason)
	assert.Equal(t, models.JournalTagAtObject, notes[1].Tag)
}

func TestApplyTaggingRejectsCorruptNotes(t *testing.T) {
	row := journalRow()
	row.AnomalyNotes = datatypes.JSON(`{"not":"a list"}`)
	_, err := applyTagging(row, JournalTagging{AtObject: true})
	assert.Error(t, err)
}
