package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// SortColumns whitelists the columns a list query may be ordered by.
// Caller-supplied names never reach SQL unless they are in the list.
type SortColumns struct {
	allowed  map[string]struct{}
	fallback string
}

// NewSortColumns whitelists columns; fallback is used for empty or unknown names
func NewSortColumns(fallback string, columns ...string) SortColumns {
	allowed := make(map[string]struct{}, len(columns)+1)
	allowed[fallback] = struct{}{}
	for _, c := range columns {
		allowed[c] = struct{}{}
	}
	return SortColumns{allowed: allowed, fallback: fallback}
}

// Resolve returns the column to order by and whether the order is descending.
// Only an explicit "asc" gives ascending order.
func (s SortColumns) Resolve(field, dir string) (string, bool) {
	column := s.fallback
	if _, ok := s.allowed[strings.TrimSpace(field)]; ok {
		column = strings.TrimSpace(field)
	}
	return column, !strings.EqualFold(strings.TrimSpace(dir), "asc")
}

// OrderBy builds the ORDER BY clause with id as tie breaker, which keeps
// offset pages stable when many rows share the sort value
func (s SortColumns) OrderBy(field, dir string) clause.OrderBy {
	column, desc := s.Resolve(field, dir)
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: column}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}
}
