package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/invoice-sentinel/models"
	"gorm.io/gorm"
)

// TerritoryRepositoryImpl implements TerritoryRepository interface
type TerritoryRepositoryImpl struct {
	*BaseRepository[models.Territory, models.TerritoryFilter]
}

// NewTerritoryRepository creates a new territory repository
func NewTerritoryRepository(db *gorm.DB) TerritoryRepository {
	return &TerritoryRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Territory, models.TerritoryFilter](db),
	}
}

// ByCode retrieves a territory by its unique code
func (r *TerritoryRepositoryImpl) ByCode(ctx context.Context, code string) (*models.Territory, error) {
	rows, err := r.ByFilter(ctx, models.TerritoryFilter{Code: &code}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ActiveIDs returns the primary keys of every active territory
func (r *TerritoryRepositoryImpl) ActiveIDs(ctx context.Context) (map[uint]struct{}, error) {
	var ids []uint
	err := r.getDB(ctx).Model(&models.Territory{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active territories: %w", err)
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CodesByID maps every territory id, active or not, to its code
func (r *TerritoryRepositoryImpl) CodesByID(ctx context.Context) (map[uint]string, error) {
	rows, err := r.ByFilter(ctx, models.TerritoryFilter{}, "id ASC", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list territories: %w", err)
	}
	codes := make(map[uint]string, len(rows))
	for _, t := range rows {
		codes[t.ID] = t.Code
	}
	return codes, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *TerritoryRepositoryImpl) applyFilter(query *gorm.DB, filter models.TerritoryFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.Code != nil {
		query = query.Where("code = ?", *filter.Code)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	return query
}

// ByFilter retrieves territories based on filter criteria
func (r *TerritoryRepositoryImpl) ByFilter(ctx context.Context, filter models.TerritoryFilter, orderBy string, limit, offset int) ([]*models.Territory, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Territory{})

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

	var rows []*models.Territory
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns number of territories matching filter
func (r *TerritoryRepositoryImpl) Count(ctx context.Context, filter models.TerritoryFilter) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.Territory{})
	query = r.applyFilter(query, filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any territory matches the filter
func (r *TerritoryRepositoryImpl) Exists(ctx context.Context, filter models.TerritoryFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
