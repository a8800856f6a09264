package projection

import (
	"os"
	"strconv"
)

// PaginationMeta is the envelope returned alongside any paged query result.
type PaginationMeta struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// Page pairs a slice of results with its pagination envelope.
type Page[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// DefaultLimit returns PAGINATION_DEFAULT_LIMIT, or 10 if unset/invalid.
func DefaultLimit() int {
	return envInt("PAGINATION_DEFAULT_LIMIT", 10)
}

// MaxLimit returns PAGINATION_MAX_LIMIT, or 100 if unset/invalid.
func MaxLimit() int {
	return envInt("PAGINATION_MAX_LIMIT", 100)
}

// NormalizePage clamps page/limit to sane bounds: page >= 1, and
// 1 <= limit <= MaxLimit(), defaulting limit to DefaultLimit() when <= 0.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit()
	}
	if max := MaxLimit(); limit > max {
		limit = max
	}
	return page, limit
}

// BuildMeta computes the pagination envelope for a result set.
func BuildMeta(total, page, limit int) PaginationMeta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PaginationMeta{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
