package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type monthlyRevenueRow struct {
	Organization string
	Month        time.Time
	Total        decimal.NullDecimal
}

// temporalPatterns flags month-over-month revenue drops per organization.
// The anomalies carry no row, so their invoice comes from the buffer default.
func (s *AnomalyScannerImpl) temporalPatterns(ctx context.Context, sink *taskSink) error {
	var rows []monthlyRevenueRow
	err := s.stores.Journal.Aggregate(ctx, repository.AggregateQuery{
		GroupBy: []repository.Column{
			{Expr: "organization", Alias: "organization"},
			{Expr: "date_trunc('month', invoice_date)", Alias: "month"},
		},
		Aggregations: []repository.Aggregation{{Func: "SUM", Column: "revenue_amount", Alias: "total"}},
		OrderBy:      "organization, month",
	}, &rows,
		repository.InvoiceScope(sink.scope),
		repository.Where("organization IS NOT NULL AND invoice_date IS NOT NULL AND revenue_amount IS NOT NULL"),
	)
	if err != nil {
		return fmt.Errorf("failed to aggregate monthly revenue: %w", err)
	}

	series := make([]MonthlyTotal, 0, len(rows))
	for _, r := range rows {
		series = append(series, MonthlyTotal{
			Organization: r.Organization,
			Month:        r.Month,
			Total:        r.Total.Decimal.InexactFloat64(),
		})
	}

	for _, drop := range DetectTemporalDrops(series, utils.TemporalMinMonths, utils.TemporalDropRatio) {
		sink.emit(ctx, models.AnomalyCandidate{
			Type: models.AnomalyTypeTemporalPattern,
			Description: fmt.Sprintf("Revenue of %s dropped %.1f%% from %s to %s",
				drop.Organization, drop.DropPercent,
				drop.PreviousMonth.Format("2006-01"), drop.Month.Format("2006-01")),
			Data: map[string]any{
				"organization":   drop.Organization,
				"previous_month": drop.PreviousMonth.Format("2006-01"),
				"month":          drop.Month.Format("2006-01"),
				"previous_total": drop.PreviousTotal,
				"current_total":  drop.Total,
				"drop_percent":   drop.DropPercent,
			},
			DataSource: models.DataSourceJournal,
		})
	}
	return nil
}

// reconcileJournalEtat flags invoice numbers present in only one of the
// sales journal and the collection statement
func (s *AnomalyScannerImpl) reconcileJournalEtat(ctx context.Context, sink *taskSink) error {
	scope := repository.InvoiceScope(sink.scope)
	journalNumbers, err := s.stores.Journal.DistinctValues(ctx, "invoice_number", scope)
	if err != nil {
		return err
	}
	etatNumbers, err := s.stores.Etat.DistinctValues(ctx, "invoice_number", scope)
	if err != nil {
		return err
	}

	journal, _ := models.CapabilityFor(models.DataSourceJournal)
	for _, number := range MissingFrom(journalNumbers, etatNumbers) {
		row, err := s.stores.Journal.First(ctx, "id ASC", scope, repository.Where("invoice_number = ?", number))
		if err != nil {
			sink.fail(err, logrus.Fields{"source": journal.Source, "invoice_number": number})
			continue
		}
		if row == nil {
			continue
		}
		sink.emit(ctx, rowCandidate(row, models.AnomalyTypeMissingRecord, journal.Source,
			fmt.Sprintf("Invoice %s is in the sales journal but not in the collection statement", number),
			map[string]any{"invoice_number": number, "missing_from": models.CollectionStatement{}.TableName()},
		))
	}

	etat, _ := models.CapabilityFor(models.DataSourceEtat)
	for _, number := range MissingFrom(etatNumbers, journalNumbers) {
		row, err := s.stores.Etat.First(ctx, "id ASC", scope, repository.Where("invoice_number = ?", number))
		if err != nil {
			sink.fail(err, logrus.Fields{"source": etat.Source, "invoice_number": number})
			continue
		}
		if row == nil {
			continue
		}
		sink.emit(ctx, rowCandidate(row, models.AnomalyTypeMissingRecord, etat.Source,
			fmt.Sprintf("Invoice %s is in the collection statement but not in the sales journal", number),
			map[string]any{"invoice_number": number, "missing_from": models.SalesJournal{}.TableName()},
		))
	}
	return nil
}

var rosterAmountColumns = []string{"pre_tax_amount", "total_amount", "monthly_fee"}

// subscriberRoster validates the corporate roster: DOT references, amounts,
// missing dot and the discount cross-check
func (s *AnomalyScannerImpl) subscriberRoster(ctx context.Context, sink *taskSink) error {
	parc := s.tableFor(models.DataSourceParc)
	capability := parc.capability

	if err := s.dotReferencesTask([]sourceTable{parc})(ctx, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": capability.Source})
	}
	if err := scanInvalidAmounts(ctx, s.stores.Parc, capability, rosterAmountColumns, true, s.cfg.BatchSize, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": capability.Source})
	}

	tolerance := utils.AmountMismatchTolerance
	for chunk, err := range s.stores.Parc.IterateChunks(ctx, s.cfg.BatchSize, repository.InvoiceScope(sink.scope)) {
		if err != nil {
			return fmt.Errorf("failed to iterate %s: %w", capability.Table, err)
		}
		for _, row := range chunk {
			// dot_id is checked on the loaded row, not through an IS NULL filter on the foreign key
			if row.TerritoryID() == nil {
				sink.emit(ctx, rowCandidate(row, models.AnomalyTypeEmptyField, capability.Source,
					fmt.Sprintf("Empty dot in %s", capability.Table),
					map[string]any{"field": "dot", "table": capability.Table},
				))
			}

			if !row.PreTaxAmount.Valid || !row.DiscountPercent.Valid || !row.TotalAmount.Valid {
				continue
			}
			check := CheckDiscount(row.PreTaxAmount.Decimal, row.DiscountPercent.Decimal, row.TotalAmount.Decimal, tolerance)
			if !check.Mismatch {
				continue
			}
			sink.emit(ctx, rowCandidate(row, models.AnomalyTypeAmountMismatch, capability.Source,
				fmt.Sprintf("Discounted amount %s differs from total %s in %s",
					check.Expected.StringFixed(2), row.TotalAmount.Decimal.StringFixed(2), capability.Table),
				map[string]any{
					"pre_tax_amount":   row.PreTaxAmount.Decimal.StringFixed(2),
					"discount_percent": row.DiscountPercent.Decimal.StringFixed(2),
					"total_amount":     row.TotalAmount.Decimal.StringFixed(2),
					"expected_total":   check.Expected.StringFixed(2),
					"gap":              check.Gap.StringFixed(2),
				},
			))
		}
	}
	return nil
}
