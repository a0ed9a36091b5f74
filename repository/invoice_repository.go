package repository

import (
	"context"
	"errors"

	"github.com/amirphl/invoice-sentinel/models"
	"gorm.io/gorm"
)

// ErrNoInvoiceAvailable is returned when no invoice exists to parent an anomaly
var ErrNoInvoiceAvailable = errors.New("no invoice available")

// InvoiceRepositoryImpl implements InvoiceRepository interface
type InvoiceRepositoryImpl struct {
	*BaseRepository[models.Invoice, models.InvoiceFilter]
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &InvoiceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Invoice, models.InvoiceFilter](db),
	}
}

// Latest returns the most recently uploaded invoice, or nil when there is none
func (r *InvoiceRepositoryImpl) Latest(ctx context.Context) (*models.Invoice, error) {
	rows, err := r.ByFilter(ctx, models.InvoiceFilter{}, "uploaded_at DESC, id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// applyFilter applies filter criteria to a GORM query
func (r *InvoiceRepositoryImpl) applyFilter(query *gorm.DB, filter models.InvoiceFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.InvoiceNumber != nil {
		query = query.Where("invoice_number = ?", *filter.InvoiceNumber)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.UploadedAfter != nil {
		query = query.Where("uploaded_at > ?", *filter.UploadedAfter)
	}
	return query
}

// ByFilter retrieves invoices based on filter criteria
func (r *InvoiceRepositoryImpl) ByFilter(ctx context.Context, filter models.InvoiceFilter, orderBy string, limit, offset int) ([]*models.Invoice, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Invoice{})

	query = r.applyFilter(query, filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Invoice
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of invoices matching filter
func (r *InvoiceRepositoryImpl) Count(ctx context.Context, filter models.InvoiceFilter) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Invoice{})
	query = r.applyFilter(query, filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any invoice matches the filter
func (r *InvoiceRepositoryImpl) Exists(ctx context.Context, filter models.InvoiceFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// DefaultInvoiceID resolves the anomaly parent used when a candidate has none:
// the configured id when set, otherwise the latest uploaded invoice.
func DefaultInvoiceID(ctx context.Context, repo InvoiceRepository, configured *uint) (uint, error) {
	if configured != nil {
		return *configured, nil
	}
	latest, err := repo.Latest(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, ErrNoInvoiceAvailable
	}
	return latest.ID, nil
}
