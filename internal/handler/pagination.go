package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(r *http.Request) PaginationParams {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return PaginationParams{
		Limit:  parseLimit(r, DefaultLimit, MaxLimit),
		Offset: max(offset, 0),
	}
}

// parseLimit falls back to def for missing, invalid or out of range values.
func parseLimit(r *http.Request, def, maxLimit int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > maxLimit {
		return def
	}
	return limit
}
