package shared

// Filter is the paging and ordering part of every list query. OrderBy is
// checked against a whitelist by the repository, never interpolated as given.
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// Normalize clamps Page to at least 1 and PageSize into [1, maxSize],
// substituting defaultSize when none was asked for
func (f Filter) Normalize(defaultSize, maxSize int) Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize < 1:
		f.PageSize = defaultSize
	case maxSize > 0 && f.PageSize > maxSize:
		f.PageSize = maxSize
	}
	return f
}

// Offset is the number of rows before the filter's page
func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Paginated is one page of a list query together with the size of the whole result
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginated derives TotalPages from total and pageSize
func NewPaginated[T any](items []T, total int64, page, pageSize int) Paginated[T] {
	p := Paginated[T]{Items: items, Total: total, Page: page, PageSize: pageSize}
	if pageSize > 0 {
		p.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return p
}
