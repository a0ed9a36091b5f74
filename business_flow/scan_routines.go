package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// sourceRow binds an entity type to its pointer, which implements SourceRecord
type sourceRow[T any] interface {
	*T
	models.SourceRecord
}

// rowCandidate builds an anomaly attached to the invoice of rec
func rowCandidate(rec models.SourceRecord, anomalyType, source, description string, data map[string]any) models.AnomalyCandidate {
	invoiceID := rec.ParentInvoiceID()
	payload := map[string]any{models.PayloadRecordIDKey: rec.RecordID()}
	if org := rec.OrganizationName(); org != "" {
		payload["organization"] = org
	}
	for k, v := range data {
		payload[k] = v
	}
	return models.AnomalyCandidate{
		InvoiceID:   &invoiceID,
		Type:        anomalyType,
		Description: description,
		Data:        payload,
		DataSource:  source,
	}
}

// scanEmptyFields emits one anomaly per row and per critical field that is
// NULL, or blank for text fields
func scanEmptyFields[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, anomalyType string, chunkSize int, sink *taskSink) error {
	for _, field := range capability.CriticalFields {
		preds := []repository.Predicate{
			repository.InvoiceScope(sink.scope),
			repository.NullOrEmpty(field.Column, field.Text),
		}
		for chunk, err := range store.IterateChunks(ctx, chunkSize, preds...) {
			if err != nil {
				sink.fail(err, logrus.Fields{"source": capability.Source, "field": field.Column})
				break
			}
			for _, row := range chunk {
				rec := P(row)
				sink.emit(ctx, rowCandidate(rec, anomalyType, capability.Source,
					fmt.Sprintf("Empty %s in %s", field.Column, capability.Table),
					map[string]any{"field": field.Column, "table": capability.Table},
				))
			}
		}
	}
	return nil
}

type duplicateGroup struct {
	InvoiceNumber string
	Organization  *string
	Members       int64
}

// scanDuplicates groups rows on (invoice_number, organization) and flags the
// groups whose members disagree on at least one compared field
func scanDuplicates[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, compared []string, values func(*T) []string, sink *taskSink) error {
	var groups []duplicateGroup
	err := store.Aggregate(ctx, repository.AggregateQuery{
		GroupBy: []repository.Column{
			{Expr: "invoice_number", Alias: "invoice_number"},
			{Expr: "organization", Alias: "organization"},
		},
		Aggregations: []repository.Aggregation{{Func: "COUNT", Alias: "members"}},
		Having:       "COUNT(*) > 1",
		OrderBy:      "invoice_number, organization",
	}, &groups, repository.InvoiceScope(sink.scope), repository.Where("invoice_number IS NOT NULL"))
	if err != nil {
		return fmt.Errorf("failed to group %s duplicates: %w", capability.Table, err)
	}

	for _, group := range groups {
		orgPred := repository.Where("organization IS NULL")
		if group.Organization != nil {
			orgPred = repository.Where("organization = ?", *group.Organization)
		}

		var (
			members [][]string
			ids     []uint
			first   models.SourceRecord
			failed  bool
		)
		rows := store.Iterate(ctx, "id ASC",
			repository.InvoiceScope(sink.scope),
			repository.Where("invoice_number = ?", group.InvoiceNumber),
			orgPred,
		)
		for row, err := range rows {
			if err != nil {
				sink.fail(err, logrus.Fields{"source": capability.Source, "invoice_number": group.InvoiceNumber})
				failed = true
				break
			}
			if first == nil {
				first = P(row)
			}
			ids = append(ids, P(row).RecordID())
			members = append(members, values(row))
		}
		if failed || first == nil || !HasConflict(members) {
			continue
		}

		sink.emit(ctx, rowCandidate(first, models.AnomalyTypeDuplicateData, capability.Source,
			fmt.Sprintf("Conflicting duplicates for invoice %s in %s", group.InvoiceNumber, capability.Table),
			map[string]any{
				"duplicate_key":   group.InvoiceNumber,
				"organization":    textKey(group.Organization),
				"record_ids":      ids,
				"member_count":    len(ids),
				"compared_fields": compared,
			},
		))
	}
	return nil
}

type organizationStats struct {
	Organization string
	Observations int64
	Total        decimal.NullDecimal
	Squares      decimal.NullDecimal
}

// scanOutliers flags rows whose value is an outlier within its organization
func scanOutliers[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, column string, value func(*T) decimal.NullDecimal, minObservations int64, sigma float64, chunkSize int, sink *taskSink) error {
	var rows []organizationStats
	err := store.Aggregate(ctx, repository.AggregateQuery{
		GroupBy: []repository.Column{{Expr: "organization", Alias: "organization"}},
		Aggregations: []repository.Aggregation{
			{Func: "COUNT", Column: column, Alias: "observations"},
			{Func: "SUM", Column: column, Alias: "total"},
			{Func: "SUM", Column: column + " * " + column, Alias: "squares"},
		},
		Having:     fmt.Sprintf("COUNT(%s) >= ?", column),
		HavingArgs: []any{minObservations},
	}, &rows, repository.InvoiceScope(sink.scope), repository.Where("organization IS NOT NULL"))
	if err != nil {
		return fmt.Errorf("failed to aggregate %s.%s by organization: %w", capability.Table, column, err)
	}
	if len(rows) == 0 {
		return nil
	}

	stats := make(map[string]GroupStats, len(rows))
	for _, r := range rows {
		stats[r.Organization] = GroupStats{
			Count:      r.Observations,
			Sum:        r.Total.Decimal.InexactFloat64(),
			SumSquares: r.Squares.Decimal.InexactFloat64(),
		}
	}

	preds := []repository.Predicate{
		repository.InvoiceScope(sink.scope),
		repository.Where("organization IS NOT NULL"),
		repository.Where(column + " IS NOT NULL"),
	}
	for chunk, err := range store.IterateChunks(ctx, chunkSize, preds...) {
		if err != nil {
			return fmt.Errorf("failed to iterate %s: %w", capability.Table, err)
		}
		for _, row := range chunk {
			rec := P(row)
			group, ok := stats[rec.OrganizationName()]
			if !ok {
				continue
			}
			v := value(row).Decimal.InexactFloat64()
			verdict := group.Evaluate(v, sigma)
			if !verdict.Flagged {
				continue
			}
			sink.emit(ctx, rowCandidate(rec, models.AnomalyTypeOutlier, capability.Source,
				fmt.Sprintf("%s %.2f is an outlier for %s", column, v, rec.OrganizationName()),
				map[string]any{
					"field":     column,
					"value":     v,
					"mean":      verdict.Mean,
					"stddev":    verdict.StdDev,
					"z_score":   verdict.ZScore,
					"threshold": verdict.Threshold,
				},
			))
		}
	}
	return nil
}

// scanZeroValues flags rows whose column is exactly zero. NULL is not zero.
func scanZeroValues[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, column string, chunkSize int, sink *taskSink) error {
	preds := []repository.Predicate{
		repository.InvoiceScope(sink.scope),
		repository.Where(column + " = 0"),
	}
	for chunk, err := range store.IterateChunks(ctx, chunkSize, preds...) {
		if err != nil {
			return fmt.Errorf("failed to iterate zero %s.%s: %w", capability.Table, column, err)
		}
		for _, row := range chunk {
			rec := P(row)
			sink.emit(ctx, rowCandidate(rec, models.AnomalyTypeZeroValue, capability.Source,
				fmt.Sprintf("%s is zero in %s", column, capability.Table),
				map[string]any{"field": column, "value": 0},
			))
		}
	}
	return nil
}

// dotReference is the territory snapshot used to validate DOT references
type dotReference struct {
	active map[uint]struct{}
	codes  map[uint]string
}

// evaluateDotReference returns the invalid_dot and dot_mismatch findings of one row
func evaluateDotReference(rec models.SourceRecord, capability models.Capability, ref *dotReference) []models.AnomalyCandidate {
	var out []models.AnomalyCandidate
	legacy := rec.LegacyTerritoryCode()
	dotID := rec.TerritoryID()

	data := map[string]any{"model": capability.Table}
	if dotID != nil {
		data["dot_id"] = *dotID
	}
	if !utils.IsBlank(legacy) {
		data["dot_code"] = strings.TrimSpace(*legacy)
	}

	if dotID == nil {
		out = append(out, rowCandidate(rec, models.AnomalyTypeInvalidDot, capability.Source,
			fmt.Sprintf("Missing DOT reference in %s", capability.Table), data))
		return out
	}
	if _, ok := ref.active[*dotID]; !ok {
		out = append(out, rowCandidate(rec, models.AnomalyTypeInvalidDot, capability.Source,
			fmt.Sprintf("DOT %d is unknown or inactive in %s", *dotID, capability.Table), data))
	}

	if !capability.HasLegacyDotCode || utils.IsBlank(legacy) {
		return out
	}
	code, ok := ref.codes[*dotID]
	if !ok || strings.EqualFold(strings.TrimSpace(*legacy), code) {
		return out
	}
	mismatch := make(map[string]any, len(data)+1)
	for k, v := range data {
		mismatch[k] = v
	}
	mismatch["territory_code"] = code
	out = append(out, rowCandidate(rec, models.AnomalyTypeDotMismatch, capability.Source,
		fmt.Sprintf("DOT code %q does not match territory %q in %s", strings.TrimSpace(*legacy), code, capability.Table),
		mismatch,
	))
	return out
}

// checkDotReferences validates every row of one table against the territory snapshot
func checkDotReferences[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, ref *dotReference, chunkSize int, sink *taskSink) error {
	for chunk, err := range store.IterateChunks(ctx, chunkSize, repository.InvoiceScope(sink.scope)) {
		if err != nil {
			return fmt.Errorf("failed to iterate %s: %w", capability.Table, err)
		}
		for _, row := range chunk {
			for _, c := range evaluateDotReference(P(row), capability, ref) {
				sink.emit(ctx, c)
			}
		}
	}
	return nil
}

// scanRevenueLineAmounts is shared by the adjustment, refund and cancellation
// tables: it flags rows where revenue + tax differs from total
func scanRevenueLineAmounts[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, columns func(*T) *models.RevenueLineColumns, tolerance decimal.Decimal, chunkSize int, sink *taskSink) error {
	preds := []repository.Predicate{
		repository.InvoiceScope(sink.scope),
		repository.Where("revenue_amount IS NOT NULL AND tax_amount IS NOT NULL AND total_amount IS NOT NULL"),
	}
	for chunk, err := range store.IterateChunks(ctx, chunkSize, preds...) {
		if err != nil {
			return fmt.Errorf("failed to iterate %s: %w", capability.Table, err)
		}
		for _, row := range chunk {
			line := columns(row)
			gap := LineAmountGap(line.RevenueAmount.Decimal, line.TaxAmount.Decimal, line.TotalAmount.Decimal)
			if !gap.GreaterThan(tolerance) {
				continue
			}
			sink.emit(ctx, rowCandidate(P(row), models.AnomalyTypeAmountMismatch, capability.Source,
				fmt.Sprintf("Revenue plus tax differs from total by %s in %s", gap.StringFixed(2), capability.Table),
				map[string]any{
					"revenue_amount": line.RevenueAmount.Decimal.StringFixed(2),
					"tax_amount":     line.TaxAmount.Decimal.StringFixed(2),
					"total_amount":   line.TotalAmount.Decimal.StringFixed(2),
					"gap":            gap.StringFixed(2),
				},
			))
		}
	}
	return nil
}

// scanInvalidAmounts flags rows where a listed column is negative, or with
// strict set, NULL or not strictly positive
func scanInvalidAmounts[T any, P sourceRow[T]](ctx context.Context, store *repository.RecordStore[T], capability models.Capability, columns []string, strict bool, chunkSize int, sink *taskSink) error {
	for _, column := range columns {
		cond := column + " < 0"
		if strict {
			cond = "(" + column + " IS NULL OR " + column + " <= 0)"
		}
		preds := []repository.Predicate{repository.InvoiceScope(sink.scope), repository.Where(cond)}
		for chunk, err := range store.IterateChunks(ctx, chunkSize, preds...) {
			if err != nil {
				sink.fail(err, logrus.Fields{"source": capability.Source, "field": column})
				break
			}
			for _, row := range chunk {
				sink.emit(ctx, rowCandidate(P(row), models.AnomalyTypeInvalidAmount, capability.Source,
					fmt.Sprintf("Invalid %s in %s", column, capability.Table),
					map[string]any{"field": column},
				))
			}
		}
	}
	return nil
}
