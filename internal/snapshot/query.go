package snapshot

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opList = "snapshot.list"
const opDistinct = "snapshot.distinct_values"

// Query describes one filtered, sorted, paginated read.
type Query struct {
	// Search applies a case-insensitive substring match over the
	// collection's searchable columns.
	Search string
	// Model, Type and ContactID are exact-match filters (machine kinds only).
	Model     string
	Type      string
	ContactID string
	// SortBy names an indexed document field; a leading '-' requests
	// descending order. Unrecognized keys fall back to the default column.
	SortBy string
	// Page is 1-based; Page and PageSize values below 1 are clamped to 1.
	Page     int
	PageSize int
}

// PageResult carries one page of full documents plus the filtered total.
type PageResult struct {
	Items []json.RawMessage
	Total int64
}

// machine sort keys map document field names onto indexed columns.
var machineSortColumns = map[string]string{
	"serialNumber": "serial",
	"model":        "model",
	"type":         "type",
	"salesman":     "salesman",
	"lastModDate":  "last_mod",
}

var contactSortColumns = map[string]string{
	"name":        "name",
	"company":     "company",
	"lastModDate": "last_mod",
}

// distinctColumns limits DistinctValues to the filterable machine columns.
var distinctColumns = map[string]string{
	"model":    "model",
	"type":     "type",
	"salesman": "salesman",
}

// List serves a page of full documents from the indexed columns of one
// collection. The total reflects the filtered row count before pagination;
// a page past the end of the result set is empty, not an error. Ties on the
// sort column are broken by the identity column ascending, so ordering is
// stable for a given query.
func (s *Store) List(ctx context.Context, kind Kind, query Query) (PageResult, error) {
	if err := kind.validate(); err != nil {
		return PageResult{}, err
	}

	var total int64
	if err := s.filtered(ctx, kind, query).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("collection", kind.String()))
		return PageResult{}, newStoreError(opList, "count_failed", err)
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	var docs []string
	err := s.filtered(ctx, kind, query).
		Order(orderClause(kind, query.SortBy)).
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Pluck("doc", &docs).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("collection", kind.String()))
		return PageResult{}, newStoreError(opList, "query_failed", err)
	}

	items := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		items = append(items, json.RawMessage(doc))
	}
	return PageResult{Items: items, Total: total}, nil
}

// DistinctValues returns the distinct non-blank values of one indexed machine
// column, sorted ascending. Only filterable columns are addressable.
func (s *Store) DistinctValues(ctx context.Context, kind Kind, field string) ([]string, error) {
	if err := kind.validate(); err != nil {
		return nil, err
	}
	if !kind.isMachine() {
		return nil, ErrUnknownKind
	}

	column, ok := distinctColumns[field]
	if !ok {
		return nil, newStoreError(opDistinct, "unknown_field", nil)
	}

	var values []string
	err := s.db.WithContext(ctx).
		Table(kind.table()).
		Distinct(column).
		Where(column+" IS NOT NULL AND TRIM("+column+") <> ''").
		Order(column + " ASC").
		Pluck(column, &values).Error
	if err != nil {
		s.logError(opDistinct, "query_failed", err, zap.String("collection", kind.String()), zap.String("field", field))
		return nil, newStoreError(opDistinct, "query_failed", err)
	}

	for i, value := range values {
		values[i] = strings.TrimSpace(value)
	}
	return values, nil
}

func (s *Store) filtered(ctx context.Context, kind Kind, query Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Table(kind.table())

	if search := strings.TrimSpace(query.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		if kind.isMachine() {
			tx = tx.Where("(LOWER(serial) LIKE ? OR LOWER(model) LIKE ? OR LOWER(type) LIKE ?)", pattern, pattern, pattern)
		} else {
			tx = tx.Where("(LOWER(name) LIKE ? OR LOWER(company) LIKE ?)", pattern, pattern)
		}
	}

	if kind.isMachine() {
		if query.Model != "" {
			tx = tx.Where("model = ?", query.Model)
		}
		if query.Type != "" {
			tx = tx.Where("type = ?", query.Type)
		}
		if query.ContactID != "" {
			tx = tx.Where("contact_id = ?", query.ContactID)
		}
	}

	return tx
}

func orderClause(kind Kind, sortBy string) string {
	direction := "ASC"
	key := strings.TrimSpace(sortBy)
	if strings.HasPrefix(key, "-") {
		direction = "DESC"
		key = strings.TrimPrefix(key, "-")
	}

	columns := machineSortColumns
	fallback := "model"
	if kind == KindContacts {
		columns = contactSortColumns
		fallback = "name"
	}

	column, ok := columns[key]
	if !ok {
		column = fallback
	}
	return column + " " + direction + ", " + kind.identityKey() + " ASC"
}
