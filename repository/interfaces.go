// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/invoice-sentinel/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// InvoiceRepository defines read operations on uploaded extract batches
type InvoiceRepository interface {
	Repository[models.Invoice, models.InvoiceFilter]
	Latest(ctx context.Context) (*models.Invoice, error)
}

// TerritoryRepository defines operations for DOT territories
type TerritoryRepository interface {
	Repository[models.Territory, models.TerritoryFilter]
	ByCode(ctx context.Context, code string) (*models.Territory, error)
	ActiveIDs(ctx context.Context) (map[uint]struct{}, error)
	CodesByID(ctx context.Context) (map[uint]string, error)
}

// AnomalyRepository is the only component that creates or destroys anomalies
type AnomalyRepository interface {
	Repository[models.Anomaly, models.AnomalyFilter]

	// BatchCreate is best effort: it never fails, it returns what was created
	BatchCreate(ctx context.Context, candidates []models.AnomalyCandidate, defaultInvoiceID *uint) []*models.Anomaly
	NewBuffer(defaultInvoiceID *uint, batchSize int, onFlush func([]*models.Anomaly)) *AnomalyBuffer

	List(ctx context.Context, query AnomalyListQuery) (*AnomalyPage, error)
	AvailableFilters(ctx context.Context) (*AnomalyFilterValues, error)

	DeleteByFilter(ctx context.Context, filter models.AnomalyDeleteFilter, batchSize int, progress DeleteProgressFunc) (int64, error)
	DeleteByType(ctx context.Context, anomalyType string) (int64, error)
	DeleteByTypes(ctx context.Context, anomalyTypes []string) (int64, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
	DeleteBySources(ctx context.Context, sources []string) (int64, error)
	DeleteByInvoice(ctx context.Context, invoiceID uint) (int64, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	DeleteResolved(ctx context.Context) (int64, error)
	DeleteByStatuses(ctx context.Context, statuses []string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)

	Statistics(ctx context.Context) (*AnomalyStatistics, error)
	KPIs(ctx context.Context) (*AnomalyKPIs, error)
}
