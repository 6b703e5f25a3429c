// Package pagination normalizes page/pageSize query parameters for listing
// endpoints. Out-of-range values are clamped rather than rejected.
package pagination

import (
	"net/url"
	"strconv"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page     int // Current page number (1-based)
	PageSize int // Number of items per page
	Offset   int // Calculated offset for database queries
}

const (
	// MinPageSize is the smallest page a caller can ask for
	MinPageSize = 5
	// MaxPageSize is the maximum number of items allowed per page
	MaxPageSize = 50
	// DefaultPage is the default page number when not specified
	DefaultPage = 1
	// DefaultPageSize is the default number of items per page when not specified
	DefaultPageSize = 10
)

// calculateOffset computes the database offset for a given page and size.
func calculateOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}

// Normalize floors page at 1 and clamps size to [MinPageSize, MaxPageSize].
func Normalize(page, size int) Params {
	if page < 1 {
		page = DefaultPage
	}
	if size < MinPageSize {
		size = MinPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Params{Page: page, PageSize: size, Offset: calculateOffset(page, size)}
}

// FromQuery reads "page" and "pageSize". Missing or unparseable values
// fall back to the defaults before clamping.
func FromQuery(q url.Values) Params {
	page := DefaultPage
	size := DefaultPageSize
	if raw := q.Get("page"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil {
			page = val
		}
	}
	if raw := q.Get("pageSize"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil {
			size = val
		}
	}
	return Normalize(page, size)
}

// HasNext reports whether items remain after the current page.
func HasNext(p Params, total int64) bool {
	return int64(p.Offset+p.PageSize) < total
}
