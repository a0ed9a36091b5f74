package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/invoice-sentinel/app/metrics"
	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Business validity rules
var (
	excludedRosterTierCodes = []string{"5", "57"}
	promotionalOfferMarkers = []string{"moohtarif", "solutions hebergement"}
	excludedRosterStatus    = "predeactivated"

	keptProducts            = []string{"Specialized Line", "LTE"}
	keptCustomerLevel1      = []string{"Corporate", "Corporate Group"}
	keptCustomerLevel3      = []string{"Operating Line AP", "Operating Line ATM Mobilis", "Operating Line ATS"}
	excludedCustomerLevel2  = []string{"Contracted Professional Client"}
	revenueLineDepartment   = "Direction Commerciale Corporate"
	headquartersTerritory   = models.HeadquartersTerritory
	organizationNoise       = []string{"DOT_", "_", "-"}
	headquartersOrgMarker   = "AT Siège"
	headquartersSubBrands   = []string{"DCC", "DCGC"}
	collectionDuplicateKeys = []string{"organization", "invoice_number", "invoice_type"}
)

// CleaningResult summarizes one cleaning pass over a table. TaggedCount is
// the rule-specific count: invalid rows found, rows tagged, or rows whose
// amounts were nulled.
type CleaningResult struct {
	Table           string `json:"table"`
	BeforeCount     int64  `json:"before_count"`
	DeletedCount    int64  `json:"deleted_count"`
	AfterCount      int64  `json:"after_count"`
	TaggedCount     int64  `json:"tagged_count"`
	NormalizedCount int64  `json:"normalized_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// BusinessRuleCleaner deletes or tags the rows that break the per-table business rules
type BusinessRuleCleaner interface {
	CleanSalesJournal(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanCollectionStatement(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanSubscriberRoster(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanReceivables(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanPeriodicRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanNonPeriodicRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanAdjustmentRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanRefundRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error)
	CleanCancellationRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error)

	CleanTable(ctx context.Context, source string, invoiceID *uint) (*CleaningResult, error)
	CleanAll(ctx context.Context, invoiceID *uint) ([]*CleaningResult, error)
}

// BusinessRuleCleanerImpl implements BusinessRuleCleaner
type BusinessRuleCleanerImpl struct {
	db     *gorm.DB
	stores *repository.SourceStores
	logger *logrus.Logger
	now    func() time.Time
}

// NewBusinessRuleCleaner creates the cleaner. now decides the current year
// for the sales journal tags; nil means UTC wall clock.
func NewBusinessRuleCleaner(db *gorm.DB, stores *repository.SourceStores, logger *logrus.Logger, now func() time.Time) BusinessRuleCleaner {
	if now == nil {
		now = utils.UTCNow
	}
	return &BusinessRuleCleanerImpl{db: db, stores: stores, logger: logger, now: now}
}

func inList(column string, values []string) (string, []any) {
	return fmt.Sprintf("COALESCE(TRIM(%s) IN ?, FALSE)", column), []any{values}
}

// invalidRosterRow selects subscribers with an excluded tier, a promotional offer or a predeactivated status
func invalidRosterRow() repository.Predicate {
	clauses := []string{"COALESCE(TRIM(customer_tier_code) IN ?, FALSE)"}
	args := []any{excludedRosterTierCodes}
	for _, marker := range promotionalOfferMarkers {
		clauses = append(clauses, "COALESCE(LOWER(offer_name) LIKE ?, FALSE)")
		args = append(args, "%"+marker+"%")
	}
	clauses = append(clauses, "COALESCE(LOWER(TRIM(subscriber_status)) = ?, FALSE)")
	args = append(args, excludedRosterStatus)
	return repository.Where("("+strings.Join(clauses, " OR ")+")", args...)
}

// invalidReceivable selects receivables outside the kept product and customer segments
func invalidReceivable() repository.Predicate {
	product, productArgs := inList("product", keptProducts)
	level1, level1Args := inList("customer_level1", keptCustomerLevel1)
	level3, level3Args := inList("customer_level3", keptCustomerLevel3)
	kept := fmt.Sprintf("%s AND %s AND %s AND COALESCE(TRIM(customer_level2) NOT IN ?, TRUE)", product, level1, level3)
	args := append(append(append(productArgs, level1Args...), level3Args...), excludedCustomerLevel2)
	return repository.Where("NOT ("+kept+")", args...)
}

// invalidPeriodicRevenue selects rows outside headquarters that are not a kept product
func invalidPeriodicRevenue(table string) repository.Predicate {
	territory, args := repository.TerritoryMatchExpr(table, true, headquartersTerritory)
	product, productArgs := inList("product", keptProducts)
	return repository.Where(fmt.Sprintf("NOT (%s OR %s)", territory, product), append(args, productArgs...)...)
}

// invalidRevenueLine selects adjustment, refund and cancellation rows outside
// headquarters or outside the corporate sales department
func invalidRevenueLine(table string) repository.Predicate {
	territory, args := repository.TerritoryMatchExpr(table, true, headquartersTerritory)
	expr := fmt.Sprintf("NOT (%s AND COALESCE(LOWER(TRIM(department)) = LOWER(?), FALSE))", territory)
	return repository.Where(expr, append(args, revenueLineDepartment)...)
}

// cleanByRule counts the invalid rows and deletes them in one statement,
// inside one transaction
func cleanByRule[T any](ctx context.Context, c *BusinessRuleCleanerImpl, store *repository.RecordStore[T], invoiceID *uint, invalid repository.Predicate) (*CleaningResult, error) {
	result := &CleaningResult{Table: store.Table()}
	scope := repository.InvoiceScope(invoiceID)

	err := repository.WithTransaction(ctx, c.db, func(txCtx context.Context) error {
		var err error
		if result.BeforeCount, err = store.Count(txCtx, scope); err != nil {
			return err
		}
		if result.TaggedCount, err = store.Count(txCtx, scope, invalid); err != nil {
			return err
		}
		if result.TaggedCount > 0 {
			if result.DeletedCount, err = store.BulkDelete(txCtx, scope, invalid); err != nil {
				return err
			}
		}
		result.AfterCount, err = store.Count(txCtx, scope)
		return err
	})
	return c.finish(result, err)
}

// finish logs the outcome and records metrics. A failed pass reports zero
// deletions since its transaction was rolled back.
func (c *BusinessRuleCleanerImpl) finish(result *CleaningResult, err error) (*CleaningResult, error) {
	log := c.logger.WithField("table", result.Table)
	if err != nil {
		result.Error = err.Error()
		result.DeletedCount = 0
		result.AfterCount = result.BeforeCount
		log.WithError(err).Error("Cleaning failed")
		return result, fmt.Errorf("failed to clean %s: %w", result.Table, err)
	}
	metrics.RecordCleaning(result.Table, result.DeletedCount, result.TaggedCount)
	log.WithFields(logrus.Fields{
		"before":     result.BeforeCount,
		"deleted":    result.DeletedCount,
		"after":      result.AfterCount,
		"tagged":     result.TaggedCount,
		"normalized": result.NormalizedCount,
	}).Info("Cleaning finished")
	return result, nil
}

// CleanSubscriberRoster deletes excluded tiers, promotional offers and predeactivated lines
func (c *BusinessRuleCleanerImpl) CleanSubscriberRoster(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Parc, invoiceID, invalidRosterRow())
}

// CleanReceivables keeps only the corporate specialized line and LTE receivables
func (c *BusinessRuleCleanerImpl) CleanReceivables(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Creance, invoiceID, invalidReceivable())
}

// CleanNonPeriodicRevenue keeps only headquarters rows
func (c *BusinessRuleCleanerImpl) CleanNonPeriodicRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	table := models.NonPeriodicRevenue{}.TableName()
	return cleanByRule(ctx, c, c.stores.NonPeriodic, invoiceID, repository.NotMatchesTerritory(table, true, headquartersTerritory))
}

// CleanPeriodicRevenue keeps headquarters rows and kept products
func (c *BusinessRuleCleanerImpl) CleanPeriodicRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Periodic, invoiceID, invalidPeriodicRevenue(models.PeriodicRevenue{}.TableName()))
}

// CleanAdjustmentRevenue keeps headquarters rows of the corporate sales department
func (c *BusinessRuleCleanerImpl) CleanAdjustmentRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Adjustment, invoiceID, invalidRevenueLine(models.AdjustmentRevenue{}.TableName()))
}

// CleanRefundRevenue keeps headquarters rows of the corporate sales department
func (c *BusinessRuleCleanerImpl) CleanRefundRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Refund, invoiceID, invalidRevenueLine(models.RefundRevenue{}.TableName()))
}

// CleanCancellationRevenue keeps headquarters rows of the corporate sales department
func (c *BusinessRuleCleanerImpl) CleanCancellationRevenue(ctx context.Context, invoiceID *uint) (*CleaningResult, error) {
	return cleanByRule(ctx, c, c.stores.Cancellation, invoiceID, invalidRevenueLine(models.CancellationRevenue{}.TableName()))
}

// CleanTable dispatches on a data source tag
func (c *BusinessRuleCleanerImpl) CleanTable(ctx context.Context, source string, invoiceID *uint) (*CleaningResult, error) {
	switch source {
	case models.DataSourceJournal:
		return c.CleanSalesJournal(ctx, invoiceID)
	case models.DataSourceEtat:
		return c.CleanCollectionStatement(ctx, invoiceID)
	case models.DataSourceParc:
		return c.CleanSubscriberRoster(ctx, invoiceID)
	case models.DataSourceCreance:
		return c.CleanReceivables(ctx, invoiceID)
	case models.DataSourcePeriodicRevenue:
		return c.CleanPeriodicRevenue(ctx, invoiceID)
	case models.DataSourceNonPeriodic:
		return c.CleanNonPeriodicRevenue(ctx, invoiceID)
	case models.DataSourceAdjustmentRev:
		return c.CleanAdjustmentRevenue(ctx, invoiceID)
	case models.DataSourceRefundRevenue:
		return c.CleanRefundRevenue(ctx, invoiceID)
	case models.DataSourceCancellationRev:
		return c.CleanCancellationRevenue(ctx, invoiceID)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, source)
}

// CleanAll cleans every table in capability order. It stops at the first
// failure and returns the results gathered so far with the error.
func (c *BusinessRuleCleanerImpl) CleanAll(ctx context.Context, invoiceID *uint) ([]*CleaningResult, error) {
	results := make([]*CleaningResult, 0, len(models.Capabilities))
	for _, capability := range models.Capabilities {
		result, err := c.CleanTable(ctx, capability.Source, invoiceID)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
