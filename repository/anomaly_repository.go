package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvalidSortKey is returned by List for sort keys outside the allow-list
var ErrInvalidSortKey = errors.New("invalid sort key")

// DeleteProgressFunc receives the cumulative deleted count after each batch
type DeleteProgressFunc func(deleted, total int64)

var candidateValidator = validator.New()

// AnomalyRepositoryImpl implements AnomalyRepository interface
type AnomalyRepositoryImpl struct {
	*BaseRepository[models.Anomaly, models.AnomalyFilter]

	invoices        InvoiceRepository
	logger          *logrus.Logger
	deleteBatchSize int
	now             func() time.Time
}

// NewAnomalyRepository creates a new anomaly repository
func NewAnomalyRepository(db *gorm.DB, invoices InvoiceRepository, logger *logrus.Logger, deleteBatchSize int) AnomalyRepository {
	if deleteBatchSize <= 0 {
		deleteBatchSize = utils.DeleteBatchSize
	}
	return &AnomalyRepositoryImpl{
		BaseRepository:  NewBaseRepository[models.Anomaly, models.AnomalyFilter](db),
		invoices:        invoices,
		logger:          logger,
		deleteBatchSize: deleteBatchSize,
		now:             utils.UTCNow,
	}
}

// SanitizePayload returns a copy of data where empty strings under *_id keys
// become null and null values are dropped, except record_id which is kept.
func SanitizePayload(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok && s == "" && strings.HasSuffix(k, "_id") {
			v = nil
		}
		if v == nil && k != models.PayloadRecordIDKey {
			continue
		}
		out[k] = v
	}
	return out
}

// BatchCreate persists the valid candidates in one transaction. Candidates
// without an invoice get defaultInvoiceID, or the latest invoice when that is
// nil. Invalid candidates are dropped with a warning; a failed insert yields
// an empty result.
func (r *AnomalyRepositoryImpl) BatchCreate(ctx context.Context, candidates []models.AnomalyCandidate, defaultInvoiceID *uint) []*models.Anomaly {
	if len(candidates) == 0 {
		return []*models.Anomaly{}
	}

	var (
		fallback         uint
		fallbackResolved bool
		fallbackErr      error
	)
	resolveFallback := func() (uint, error) {
		if !fallbackResolved {
			fallback, fallbackErr = DefaultInvoiceID(ctx, r.invoices, defaultInvoiceID)
			fallbackResolved = true
		}
		return fallback, fallbackErr
	}

	entities := make([]*models.Anomaly, 0, len(candidates))
	for _, c := range candidates {
		if err := candidateValidator.Struct(c); err != nil {
			r.logger.WithFields(logrus.Fields{
				"type":        c.Type,
				"data_source": c.DataSource,
				"error":       err.Error(),
			}).Warn("Dropping anomaly candidate missing type or description")
			continue
		}

		var invoiceID uint
		if c.InvoiceID != nil {
			invoiceID = *c.InvoiceID
		} else {
			id, err := resolveFallback()
			if err != nil {
				r.logger.WithFields(logrus.Fields{
					"type":        c.Type,
					"data_source": c.DataSource,
					"error":       err.Error(),
				}).Warn("Dropping anomaly candidate without invoice")
				continue
			}
			invoiceID = id
		}

		status := c.Status
		if status == "" {
			status = models.AnomalyStatusOpen
		}

		entities = append(entities, &models.Anomaly{
			InvoiceID:   invoiceID,
			Type:        c.Type,
			Description: c.Description,
			Data:        datatypes.JSONMap(SanitizePayload(c.Data)),
			DataSource:  c.DataSource,
			Status:      status,
		})
	}

	if len(entities) == 0 {
		return []*models.Anomaly{}
	}

	if err := r.SaveBatch(ctx, entities); err != nil {
		r.logger.WithFields(logrus.Fields{
			"count": len(entities),
			"error": err.Error(),
		}).Error("Failed to create anomaly batch")
		return []*models.Anomaly{}
	}
	return entities
}

// NewBuffer returns a thread-safe buffer that flushes through BatchCreate
func (r *AnomalyRepositoryImpl) NewBuffer(defaultInvoiceID *uint, batchSize int, onFlush func([]*models.Anomaly)) *AnomalyBuffer {
	return newAnomalyBuffer(r, defaultInvoiceID, batchSize, onFlush)
}

// applyFilter applies filter criteria to a GORM query
func (r *AnomalyRepositoryImpl) applyFilter(query *gorm.DB, filter models.AnomalyFilter) *gorm.DB {
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Sources) > 0 {
		query = query.Where("data_source IN ?", filter.Sources)
	}
	if filter.Severity != nil {
		query = query.Scopes(severityScope(*filter.Severity))
	}
	if filter.Organization != nil && *filter.Organization != "" {
		query = query.Where("data->>'organization' ILIKE ?", "%"+*filter.Organization+"%")
	}
	if filter.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *filter.InvoiceID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// severityScope selects the types of one severity bucket. Medium also holds
// every type without an explicit mapping.
func severityScope(severity string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch severity {
		case models.SeverityMedium:
			return db.Where("type NOT IN ?", models.ExplicitlyMappedTypes())
		case models.SeverityCritical, models.SeverityHigh, models.SeverityLow:
			return db.Where("type IN ?", models.TypesWithSeverity(severity))
		default:
			return db.Where("1 = 0")
		}
	}
}

// ByFilter retrieves anomalies based on filter criteria
func (r *AnomalyRepositoryImpl) ByFilter(ctx context.Context, filter models.AnomalyFilter, orderBy string, limit, offset int) ([]*models.Anomaly, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Anomaly{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "created_at DESC, id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Anomaly
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of anomalies matching filter
func (r *AnomalyRepositoryImpl) Count(ctx context.Context, filter models.AnomalyFilter) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Anomaly{})
	query = r.applyFilter(query, filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any anomaly matches the filter
func (r *AnomalyRepositoryImpl) Exists(ctx context.Context, filter models.AnomalyFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *AnomalyRepositoryImpl) applyDeleteFilter(query *gorm.DB, filter models.AnomalyDeleteFilter) *gorm.DB {
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if len(filter.Sources) > 0 {
		query = query.Where("data_source IN ?", filter.Sources)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *filter.InvoiceID)
	}
	if filter.OlderThanDays != nil {
		cutoff := r.now().AddDate(0, 0, -*filter.OlderThanDays)
		query = query.Where("created_at < ?", cutoff)
	}
	return query
}

// DeleteByFilter deletes the matching anomalies batchSize rows at a time and
// returns the number deleted. Each batch deletes exactly one page of primary
// keys, so a run interrupted midway can be resumed with the same filter.
func (r *AnomalyRepositoryImpl) DeleteByFilter(ctx context.Context, filter models.AnomalyDeleteFilter, batchSize int, progress DeleteProgressFunc) (int64, error) {
	if batchSize <= 0 {
		batchSize = r.deleteBatchSize
	}
	db := r.getDB(ctx)

	var total int64
	if err := r.applyDeleteFilter(db.Model(&models.Anomaly{}), filter).Count(&total).Error; err != nil {
		r.logger.WithError(err).Error("Failed to count anomalies for deletion")
		return 0, fmt.Errorf("failed to count anomalies for deletion: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	var deleted int64
	for {
		var ids []uint
		err := r.applyDeleteFilter(db.Model(&models.Anomaly{}), filter).
			Order("id ASC").
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			r.logger.WithError(err).WithField("deleted", deleted).Error("Failed to fetch anomaly ids for deletion")
			return deleted, fmt.Errorf("failed to fetch anomaly ids: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		res := db.Where("id IN ?", ids).Delete(&models.Anomaly{})
		if res.Error != nil {
			r.logger.WithError(res.Error).WithField("deleted", deleted).Error("Failed to delete anomaly batch")
			return deleted, fmt.Errorf("failed to delete anomaly batch: %w", res.Error)
		}
		deleted += res.RowsAffected

		r.logger.WithFields(logrus.Fields{
			"deleted": deleted,
			"total":   total,
		}).Info("Anomaly deletion progress")
		if progress != nil {
			progress(deleted, total)
		}

		if len(ids) < batchSize {
			break
		}
	}
	return deleted, nil
}

// DeleteByType deletes every anomaly of one type
func (r *AnomalyRepositoryImpl) DeleteByType(ctx context.Context, anomalyType string) (int64, error) {
	return r.DeleteByTypes(ctx, []string{anomalyType})
}

// DeleteByTypes deletes every anomaly whose type is listed
func (r *AnomalyRepositoryImpl) DeleteByTypes(ctx context.Context, anomalyTypes []string) (int64, error) {
	if len(anomalyTypes) == 0 {
		return 0, nil
	}
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{Types: anomalyTypes}, 0, nil)
}

// DeleteBySource deletes every anomaly produced by one source table
func (r *AnomalyRepositoryImpl) DeleteBySource(ctx context.Context, source string) (int64, error) {
	return r.DeleteBySources(ctx, []string{source})
}

// DeleteBySources deletes every anomaly produced by the listed source tables
func (r *AnomalyRepositoryImpl) DeleteBySources(ctx context.Context, sources []string) (int64, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{Sources: sources}, 0, nil)
}

// DeleteByInvoice deletes every anomaly attached to an invoice
func (r *AnomalyRepositoryImpl) DeleteByInvoice(ctx context.Context, invoiceID uint) (int64, error) {
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{InvoiceID: &invoiceID}, 0, nil)
}

// DeleteOlderThan deletes anomalies created more than days ago
func (r *AnomalyRepositoryImpl) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{OlderThanDays: &days}, 0, nil)
}

// DeleteResolved deletes every resolved anomaly
func (r *AnomalyRepositoryImpl) DeleteResolved(ctx context.Context) (int64, error) {
	return r.DeleteByStatuses(ctx, []string{models.AnomalyStatusResolved})
}

// DeleteByStatuses deletes every anomaly whose status is listed
func (r *AnomalyRepositoryImpl) DeleteByStatuses(ctx context.Context, statuses []string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{Statuses: statuses}, 0, nil)
}

// DeleteAll wipes the anomaly table
func (r *AnomalyRepositoryImpl) DeleteAll(ctx context.Context) (int64, error) {
	return r.DeleteByFilter(ctx, models.AnomalyDeleteFilter{}, 0, nil)
}
