package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"sync"

	"github.com/amirphl/invoice-sentinel/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Predicate narrows a query. Predicates compose as gorm scopes (AND).
type Predicate func(*gorm.DB) *gorm.DB

// Where wraps a plain condition into a Predicate
func Where(query string, args ...any) Predicate {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

// InvoiceScope restricts rows to one invoice. A nil id does not restrict.
func InvoiceScope(invoiceID *uint) Predicate {
	return func(db *gorm.DB) *gorm.DB {
		if invoiceID == nil {
			return db
		}
		return db.Where("invoice_id = ?", *invoiceID)
	}
}

// NullOrEmpty matches rows whose column is NULL or, for text columns, the empty string
func NullOrEmpty(column string, text bool) Predicate {
	if text {
		return Where(fmt.Sprintf("(%s IS NULL OR TRIM(%s) = '')", column, column))
	}
	return Where(fmt.Sprintf("%s IS NULL", column))
}

// Column is a grouped expression with its result alias
type Column struct {
	Expr  string
	Alias string
}

// Aggregation is one aggregate function over a column
type Aggregation struct {
	Func   string // COUNT, SUM, AVG, MIN, MAX
	Column string
	Alias  string
}

// AggregateQuery describes a GROUP BY query
type AggregateQuery struct {
	GroupBy      []Column
	Aggregations []Aggregation
	Having       string
	HavingArgs   []any
	OrderBy      string
}

var allowedAggregates = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}

// ErrInvalidAggregate is returned for aggregate functions outside the allow-list
var ErrInvalidAggregate = errors.New("invalid aggregate function")

// RecordStore is the relational record adapter over one entity table. It
// offers counting, lazy iteration, bounded-memory chunked iteration,
// aggregation and bulk insert/delete/update.
type RecordStore[T any] struct {
	*BaseRepository[T, Predicate]

	once    sync.Once
	schema  *schema.Schema
	initErr error
}

// NewRecordStore creates a record store for entity type T
func NewRecordStore[T any](db *gorm.DB) *RecordStore[T] {
	return &RecordStore[T]{BaseRepository: NewBaseRepository[T, Predicate](db)}
}

func (s *RecordStore[T]) parse() (*schema.Schema, error) {
	s.once.Do(func() {
		stmt := &gorm.Statement{DB: s.DB}
		if err := stmt.Parse(new(T)); err != nil {
			s.initErr = fmt.Errorf("failed to parse model schema: %w", err)
			return
		}
		if stmt.Schema.PrioritizedPrimaryField == nil {
			s.initErr = fmt.Errorf("model %s has no primary key", stmt.Schema.Name)
			return
		}
		s.schema = stmt.Schema
	})
	return s.schema, s.initErr
}

// Table returns the table name of T
func (s *RecordStore[T]) Table() string {
	sch, err := s.parse()
	if err != nil {
		return ""
	}
	return sch.Table
}

func (s *RecordStore[T]) query(ctx context.Context, preds []Predicate) *gorm.DB {
	q := s.getDB(ctx).Model(new(T))
	for _, p := range preds {
		if p != nil {
			q = q.Scopes(p)
		}
	}
	return q
}

// Count returns the number of rows matching every predicate
func (s *RecordStore[T]) Count(ctx context.Context, preds ...Predicate) (int64, error) {
	var count int64
	if err := s.query(ctx, preds).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.Table(), err)
	}
	return count, nil
}

// Exists checks if any row matches the predicates
func (s *RecordStore[T]) Exists(ctx context.Context, preds ...Predicate) (bool, error) {
	c, err := s.Count(ctx, preds...)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// First returns the first matching row in orderBy order, or nil when none match
func (s *RecordStore[T]) First(ctx context.Context, orderBy string, preds ...Predicate) (*T, error) {
	if orderBy == "" {
		orderBy = "id ASC"
	}
	var row T
	err := s.query(ctx, preds).Order(orderBy).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch first %s: %w", s.Table(), err)
	}
	return &row, nil
}

// Iterate streams matching rows one at a time through a server-side cursor.
// Each range over the returned sequence runs a fresh query.
func (s *RecordStore[T]) Iterate(ctx context.Context, orderBy string, preds ...Predicate) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		q := s.query(ctx, preds)
		if orderBy != "" {
			q = q.Order(orderBy)
		}
		rows, err := q.Rows()
		if err != nil {
			yield(nil, fmt.Errorf("failed to iterate %s: %w", s.Table(), err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row T
			if err := q.ScanRows(rows, &row); err != nil {
				yield(nil, fmt.Errorf("failed to scan %s row: %w", s.Table(), err))
				return
			}
			if !yield(&row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate %s: %w", s.Table(), err))
		}
	}
}

// IterateChunks streams matching rows in primary-key order, chunkSize rows
// at a time. Every fetch excludes the keys already handed out, so callers may
// mutate or delete rows of a chunk before asking for the next one without
// rows being skipped or repeated.
func (s *RecordStore[T]) IterateChunks(ctx context.Context, chunkSize int, preds ...Predicate) iter.Seq2[[]*T, error] {
	return func(yield func([]*T, error) bool) {
		sch, err := s.parse()
		if err != nil {
			yield(nil, err)
			return
		}
		if chunkSize <= 0 {
			chunkSize = utils.AnomalyBatchSize
		}
		pk := sch.PrioritizedPrimaryField
		idColumn := fmt.Sprintf("%s.%s", sch.Table, pk.DBName)

		seen := make(map[uint]struct{})
		var lastID uint
		for {
			var chunk []*T
			err := s.query(ctx, preds).
				Where(idColumn+" > ?", lastID).
				Order(idColumn + " ASC").
				Limit(chunkSize).
				Find(&chunk).Error
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch %s chunk after id %d: %w", sch.Table, lastID, err))
				return
			}
			if len(chunk) == 0 {
				return
			}

			fresh := make([]*T, 0, len(chunk))
			for _, row := range chunk {
				id := primaryKeyOf(ctx, pk, row)
				if id > lastID {
					lastID = id
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				fresh = append(fresh, row)
			}

			if len(fresh) > 0 && !yield(fresh, nil) {
				return
			}
			if len(chunk) < chunkSize {
				return
			}
		}
	}
}

func primaryKeyOf[T any](ctx context.Context, pk *schema.Field, row *T) uint {
	v, _ := pk.ValueOf(ctx, reflect.ValueOf(row).Elem())
	switch id := v.(type) {
	case uint:
		return id
	case uint64:
		return uint(id)
	case int64:
		return uint(id)
	case int:
		return uint(id)
	}
	return 0
}

// Aggregate runs a GROUP BY query and scans the result into dest, a pointer
// to a slice of structs whose fields match the aliases.
func (s *RecordStore[T]) Aggregate(ctx context.Context, aq AggregateQuery, dest any, preds ...Predicate) error {
	selects := make([]string, 0, len(aq.GroupBy)+len(aq.Aggregations))
	groups := make([]string, 0, len(aq.GroupBy))
	for _, g := range aq.GroupBy {
		alias := g.Alias
		if alias == "" {
			alias = g.Expr
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", g.Expr, alias))
		groups = append(groups, g.Expr)
	}
	for _, a := range aq.Aggregations {
		fn := strings.ToUpper(a.Func)
		if !allowedAggregates[fn] {
			return fmt.Errorf("%w: %s", ErrInvalidAggregate, a.Func)
		}
		col := a.Column
		if col == "" {
			col = "*"
		}
		selects = append(selects, fmt.Sprintf("%s(%s) AS %s", fn, col, a.Alias))
	}

	q := s.query(ctx, preds).Select(strings.Join(selects, ", "))
	if len(groups) > 0 {
		q = q.Group(strings.Join(groups, ", "))
	}
	if aq.Having != "" {
		q = q.Having(aq.Having, aq.HavingArgs...)
	}
	if aq.OrderBy != "" {
		q = q.Order(aq.OrderBy)
	}
	if err := q.Scan(dest).Error; err != nil {
		return fmt.Errorf("failed to aggregate %s: %w", s.Table(), err)
	}
	return nil
}

// DistinctValues returns the distinct non-null values of a column
func (s *RecordStore[T]) DistinctValues(ctx context.Context, column string, preds ...Predicate) ([]string, error) {
	var values []string
	err := s.query(ctx, preds).
		Where(column+" IS NOT NULL").
		Distinct(column).
		Pluck(column, &values).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s.%s: %w", s.Table(), column, err)
	}
	return values, nil
}

// BulkInsert creates all entities inside one transaction and returns them
// in input order with their keys populated
func (s *RecordStore[T]) BulkInsert(ctx context.Context, entities []*T) ([]*T, error) {
	if err := s.SaveBatch(ctx, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// BulkDelete deletes every matching row and returns the number removed.
// Without predicates the whole table is emptied.
func (s *RecordStore[T]) BulkDelete(ctx context.Context, preds ...Predicate) (int64, error) {
	q := s.query(ctx, preds)
	if len(preds) == 0 {
		q = q.Where("1 = 1")
	}
	res := q.Delete(new(T))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", s.Table(), res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateColumns sets values on every matching row without touching hooks or
// timestamps and returns the number of rows updated
func (s *RecordStore[T]) UpdateColumns(ctx context.Context, values map[string]any, preds ...Predicate) (int64, error) {
	q := s.query(ctx, preds)
	if len(preds) == 0 {
		q = q.Where("1 = 1")
	}
	res := q.UpdateColumns(values)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update %s: %w", s.Table(), res.Error)
	}
	return res.RowsAffected, nil
}
