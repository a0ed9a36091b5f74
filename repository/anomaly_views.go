package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	defaultSort     = "-created_at"
)

var sortableAnomalyColumns = map[string]bool{
	"id":          true,
	"created_at":  true,
	"updated_at":  true,
	"type":        true,
	"status":      true,
	"data_source": true,
	"invoice_id":  true,
}

// AnomalyListQuery is a page request over anomalies. Sort is a column name,
// prefixed with "-" for descending order.
type AnomalyListQuery struct {
	Filter   models.AnomalyFilter
	Page     int
	PageSize int
	Sort     string
}

// AnomalyPage is one page of anomalies
type AnomalyPage struct {
	Items      []*models.Anomaly `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// AnomalyFilterValues lists the values a listing can currently be filtered on
type AnomalyFilterValues struct {
	Types         []string `json:"types"`
	Statuses      []string `json:"statuses"`
	Sources       []string `json:"sources"`
	Severities    []string `json:"severities"`
	Organizations []string `json:"organizations"`
}

// AgeBuckets counts anomalies by age. The buckets do not overlap.
type AgeBuckets struct {
	Last24Hours int64 `gorm:"column:last24_hours" json:"last_24_hours"`
	LastWeek    int64 `gorm:"column:last_week" json:"last_week"`
	LastMonth   int64 `gorm:"column:last_month" json:"last_month"`
	Older       int64 `gorm:"column:older" json:"older"`
}

// AnomalyStatistics is the aggregate breakdown of the anomaly table
type AnomalyStatistics struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	BySource   map[string]int64 `json:"by_source"`
	ByStatus   map[string]int64 `json:"by_status"`
	BySeverity map[string]int64 `json:"by_severity"`
	ByAge      AgeBuckets       `json:"by_age"`
}

// AnomalyKPIs are the headline indicators of data quality
type AnomalyKPIs struct {
	TotalAnomalies         int64            `json:"total_anomalies"`
	OpenAnomalies          int64            `json:"open_anomalies"`
	ResolvedAnomalies      int64            `json:"resolved_anomalies"`
	ResolutionRate         float64          `json:"resolution_rate"`
	AverageResolutionHours *float64         `json:"average_resolution_hours"`
	SourceRecords          int64            `json:"source_records"`
	DataQualityScore       float64          `json:"data_quality_score"`
	BySeverity             map[string]int64 `json:"by_severity"`
	GeneratedAt            time.Time        `json:"generated_at"`
}

// DataQualityScore is 100 minus the anomaly share of source records, clamped
// to [0, 100]. With no source records the score is 100.
func DataQualityScore(anomalies, sourceRecords int64) float64 {
	if sourceRecords <= 0 {
		return 100
	}
	score := 100 - float64(anomalies)/float64(sourceRecords)*100
	return math.Max(0, math.Min(100, score))
}

// SeverityCounts folds per-type counts into severity buckets. Every bucket is present.
func SeverityCounts(byType map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(models.Severities))
	for _, s := range models.Severities {
		out[s] = 0
	}
	for t, c := range byType {
		out[models.SeverityOf(t)] += c
	}
	return out
}

func parseSort(sort string) (string, error) {
	if sort == "" {
		sort = defaultSort
	}
	direction := "ASC"
	column := sort
	if strings.HasPrefix(sort, "-") {
		direction = "DESC"
		column = sort[1:]
	}
	if !sortableAnomalyColumns[column] {
		return "", fmt.Errorf("%w: %s", ErrInvalidSortKey, sort)
	}
	return fmt.Sprintf("%s %s, id %s", column, direction, direction), nil
}

// List returns one page of anomalies, newest first unless Sort says otherwise
func (r *AnomalyRepositoryImpl) List(ctx context.Context, q AnomalyListQuery) (*AnomalyPage, error) {
	orderBy, err := parseSort(q.Sort)
	if err != nil {
		return nil, err
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	total, err := r.Count(ctx, q.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}
	items, err := r.ByFilter(ctx, q.Filter, orderBy, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}

	return &AnomalyPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// AvailableFilters reports the distinct filter values present in the table
func (r *AnomalyRepositoryImpl) AvailableFilters(ctx context.Context) (*AnomalyFilterValues, error) {
	db := r.getDB(ctx)
	out := &AnomalyFilterValues{Severities: append([]string(nil), models.Severities...)}

	distinct := func(column string, dest *[]string) error {
		return db.Model(&models.Anomaly{}).
			Where(column + " IS NOT NULL AND " + column + " <> ''").
			Distinct(column).
			Order(column).
			Pluck(column, dest).Error
	}
	if err := distinct("type", &out.Types); err != nil {
		return nil, fmt.Errorf("failed to list anomaly types: %w", err)
	}
	if err := distinct("status", &out.Statuses); err != nil {
		return nil, fmt.Errorf("failed to list anomaly statuses: %w", err)
	}
	if err := distinct("data_source", &out.Sources); err != nil {
		return nil, fmt.Errorf("failed to list anomaly sources: %w", err)
	}
	err := db.Model(&models.Anomaly{}).
		Where("data->>'organization' IS NOT NULL AND data->>'organization' <> ''").
		Distinct("data->>'organization'").
		Order("data->>'organization'").
		Pluck("data->>'organization'", &out.Organizations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list anomaly organizations: %w", err)
	}
	return out, nil
}

type groupCount struct {
	Key   string
	Count int64
}

func (r *AnomalyRepositoryImpl) countBy(db *gorm.DB, column string) (map[string]int64, error) {
	var rows []groupCount
	err := db.Model(&models.Anomaly{}).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

// Statistics aggregates the anomaly table by type, source, status, severity and age
func (r *AnomalyRepositoryImpl) Statistics(ctx context.Context) (*AnomalyStatistics, error) {
	db := r.getDB(ctx)
	stats := &AnomalyStatistics{}

	var err error
	if stats.ByType, err = r.countBy(db, "type"); err != nil {
		return nil, err
	}
	if stats.BySource, err = r.countBy(db, "COALESCE(data_source, '')"); err != nil {
		return nil, err
	}
	if stats.ByStatus, err = r.countBy(db, "status"); err != nil {
		return nil, err
	}
	for _, c := range stats.ByType {
		stats.Total += c
	}
	stats.BySeverity = SeverityCounts(stats.ByType)

	now := r.now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)
	err = db.Model(&models.Anomaly{}).
		Select(`COUNT(*) FILTER (WHERE created_at >= ?) AS last24_hours,
			COUNT(*) FILTER (WHERE created_at < ? AND created_at >= ?) AS last_week,
			COUNT(*) FILTER (WHERE created_at < ? AND created_at >= ?) AS last_month,
			COUNT(*) FILTER (WHERE created_at < ?) AS older`,
			dayAgo, dayAgo, weekAgo, weekAgo, monthAgo, monthAgo).
		Scan(&stats.ByAge).Error
	if err != nil {
		return nil, fmt.Errorf("failed to bucket anomalies by age: %w", err)
	}
	return stats, nil
}

// KPIs computes the headline indicators including the data quality score
func (r *AnomalyRepositoryImpl) KPIs(ctx context.Context) (*AnomalyKPIs, error) {
	db := r.getDB(ctx)

	byType, err := r.countBy(db, "type")
	if err != nil {
		return nil, err
	}
	byStatus, err := r.countBy(db, "status")
	if err != nil {
		return nil, err
	}

	kpis := &AnomalyKPIs{
		OpenAnomalies:     byStatus[models.AnomalyStatusOpen],
		ResolvedAnomalies: byStatus[models.AnomalyStatusResolved],
		BySeverity:        SeverityCounts(byType),
		GeneratedAt:       r.now(),
	}
	for _, c := range byType {
		kpis.TotalAnomalies += c
	}
	if kpis.TotalAnomalies > 0 {
		kpis.ResolutionRate = float64(kpis.ResolvedAnomalies) / float64(kpis.TotalAnomalies) * 100
	}

	var avgSeconds *float64
	err = db.Model(&models.Anomaly{}).
		Where("status = ?", models.AnomalyStatusResolved).
		Select("AVG(EXTRACT(EPOCH FROM (updated_at - created_at)))").
		Scan(&avgSeconds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute resolution latency: %w", err)
	}
	if avgSeconds != nil {
		hours := *avgSeconds / 3600
		kpis.AverageResolutionHours = &hours
	}

	for _, table := range models.HeadlineTables() {
		var n int64
		if err := db.Table(table).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		kpis.SourceRecords += n
	}
	kpis.DataQualityScore = DataQualityScore(kpis.TotalAnomalies, kpis.SourceRecords)
	return kpis, nil
}
