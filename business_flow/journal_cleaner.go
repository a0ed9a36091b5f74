package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JournalNote is one entry of SalesJournal.AnomalyNotes
type JournalNote struct {
	Tag      string `json:"tag"`
	Reason   string `json:"reason"`
	TaggedAt string `json:"tagged_at"`
}

// JournalTagging is the set of tags a sales journal row gains
type JournalTagging struct {
	PreviousYear   bool
	Advance        bool
	AtObject       bool
	PreviousPeriod bool
	Notes          []JournalNote
}

// Any reports whether at least one tag applies
func (t JournalTagging) Any() bool {
	return t.PreviousYear || t.Advance || t.AtObject || t.PreviousPeriod
}

// ClassifyJournalRow decides the tags a row gains relative to now. Tags the
// row already carries are not repeated.
func ClassifyJournalRow(row *models.SalesJournal, now time.Time) JournalTagging {
	year := now.Year()
	stamp := now.UTC().Format(time.RFC3339)
	var t JournalTagging

	if !row.IsPreviousYearInvoice {
		account := strings.TrimSpace(utils.Deref(row.AccountCode))
		switch {
		case strings.HasSuffix(account, "A"):
			t.PreviousYear = true
			t.Notes = append(t.Notes, JournalNote{Tag: models.JournalTagPreviousYear, Reason: fmt.Sprintf("account code %s ends with A", account), TaggedAt: stamp})
		case row.GLDate != nil && row.GLDate.Year() < year:
			t.PreviousYear = true
			t.Notes = append(t.Notes, JournalNote{Tag: models.JournalTagPreviousYear, Reason: fmt.Sprintf("GL date year %d is before %d", row.GLDate.Year(), year), TaggedAt: stamp})
		}
	}

	if !row.IsAdvanceInvoice && row.InvoiceDate != nil && row.InvoiceDate.Year() != year {
		t.Advance = true
		t.Notes = append(t.Notes, JournalNote{Tag: models.JournalTagAdvance, Reason: fmt.Sprintf("invoice date year %d is not %d", row.InvoiceDate.Year(), year), TaggedAt: stamp})
	}

	if !row.IsAtObjectInvoice && strings.HasPrefix(strings.TrimSpace(utils.Deref(row.InvoiceObject)), "@") {
		t.AtObject = true
		t.Notes = append(t.Notes, JournalNote{Tag: models.JournalTagAtObject, Reason: "invoice object starts with @", TaggedAt: stamp})
	}

	if !row.IsPreviousPeriodBilling {
		period := strings.TrimSpace(utils.Deref(row.BillingPeriod))
		for y := year - 1; y >= year-utils.PreviousYearsWindow; y-- {
			if strings.HasSuffix(period, strconv.Itoa(y)) {
				t.PreviousPeriod = true
				t.Notes = append(t.Notes, JournalNote{Tag: models.JournalTagPreviousPeriod, Reason: fmt.Sprintf("billing period %s ends with %d", period, y), TaggedAt: stamp})
				break
			}
		}
	}
	return t
}

// applyTagging merges t into the row's flag, tag and note columns
func applyTagging(row *models.SalesJournal, t JournalTagging) (map[string]any, error) {
	var notes []JournalNote
	if len(row.AnomalyNotes) > 0 {
		if err := json.Unmarshal(row.AnomalyNotes, &notes); err != nil {
			return nil, fmt.Errorf("failed to decode anomaly notes of row %d: %w", row.ID, err)
		}
	}
	notes = append(notes, t.Notes...)
	encoded, err := json.Marshal(notes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode anomaly notes of row %d: %w", row.ID, err)
	}

	tags := append(pq.StringArray{}, row.AnomalyTags...)
	for _, n := range t.Notes {
		tags = append(tags, n.Tag)
	}

	return map[string]any{
		"is_previous_year_invoice":   row.IsPreviousYearInvoice || t.PreviousYear,
		"is_advance_invoice":         row.IsAdvanceInvoice || t.Advance,
		"is_at_object_invoice":       row.IsAtObjectInvoice || t.AtObject,
		"is_previous_period_billing": row.IsPreviousPeriodBilling || t.PreviousPeriod,
		"anomaly_tags":               tags,
		"anomaly_notes":              datatypes.JSON(encoded),
	}, nil
}

// CleanSalesJournal normalizes organization names, deletes headquarters rows
// outside the allowed sub-brands and tags previous-year, advance, @-object
// and previous-period rows. TaggedCount is the number of rows tagged.
func (c *BusinessRuleCleanerImpl) CleanSalesJournal(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	store := c.stores.Journal
	result := &CleaningResult{Table: store.Table()}
	scope := repository.InvoiceScope(invoiceID)
	now := c.now()

	err := repository.WithTransaction(ctx, c.db, func(txCtx context.Context) error {
		var err error
		if result.BeforeCount, err = store.Count(txCtx, scope); err != nil {
			return err
		}

		normalized := gorm.Expr("organization")
		for _, noise := range organizationNoise {
			normalized = gorm.Expr("REPLACE(?, ?, '')", normalized, noise)
		}
		result.NormalizedCount, err = store.UpdateColumns(txCtx,
			map[string]any{"organization": normalized},
			scope,
			repository.Where("(organization LIKE ? OR organization LIKE ?)", "%\\_%", "%-%"),
		)
		if err != nil {
			return err
		}

		offHeadquarters := []string{"organization ILIKE ?"}
		args := []any{"%" + headquartersOrgMarker + "%"}
		for _, brand := range headquartersSubBrands {
			offHeadquarters = append(offHeadquarters, "organization NOT ILIKE ?")
			args = append(args, "%"+brand+"%")
		}
		if result.DeletedCount, err = store.BulkDelete(txCtx, scope, repository.Where(strings.Join(offHeadquarters, " AND "), args...)); err != nil {
			return err
		}

		for chunk, err := range store.IterateChunks(txCtx, utils.AnomalyBatchSize, scope) {
			if err != nil {
				return err
			}
			for _, row := range chunk {
				tagging := ClassifyJournalRow(row, now)
				if !tagging.Any() {
					continue
				}
				values, err := applyTagging(row, tagging)
				if err != nil {
					return err
				}
				if _, err := store.UpdateColumns(txCtx, values, repository.Where("id = ?", row.ID)); err != nil {
					return err
				}
				result.TaggedCount++
			}
		}

		result.AfterCount, err = store.Count(txCtx, scope)
		return err
	})
	return c.finish(result, err)
}

// CleanCollectionStatement nulls the amounts of every duplicate
// (organization, invoice_number, invoice_type) row after the first by id.
// Rows are kept. TaggedCount is the number of rows nulled.
func (c *BusinessRuleCleanerImpl) CleanCollectionStatement(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	store := c.stores.Etat
	result := &CleaningResult{Table: store.Table()}
	scope := repository.InvoiceScope(invoiceID)

	keys := strings.Join(collectionDuplicateKeys, ", ")
	inner := fmt.Sprintf(
		"SELECT id, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY id) AS rn FROM %s WHERE invoice_number IS NOT NULL",
		keys, result.Table,
	)
	var innerArgs []any
	if invoiceID != nil {
		inner += " AND invoice_id = ?"
		innerArgs = append(innerArgs, *invoiceID)
	}
	duplicates := repository.Where(
		fmt.Sprintf("id IN (SELECT id FROM (%s) ranked WHERE rn > 1)", inner), innerArgs...,
	)
	notYetNulled := repository.Where("(invoice_amount IS NOT NULL OR collected_amount IS NOT NULL OR tax_amount IS NOT NULL)")

	err := repository.WithTransaction(ctx, c.db, func(txCtx context.Context) error {
		var err error
		if result.BeforeCount, err = store.Count(txCtx, scope); err != nil {
			return err
		}
		result.TaggedCount, err = store.UpdateColumns(txCtx, map[string]any{
			"invoice_amount":   nil,
			"collected_amount": nil,
			"tax_amount":       nil,
		}, scope, duplicates, notYetNulled)
		if err != nil {
			return err
		}
		result.AfterCount, err = store.Count(txCtx, scope)
		return err
	})
	return c.finish(result, err)
}
