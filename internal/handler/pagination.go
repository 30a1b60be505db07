package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit int
	// Reverse returns oldest first instead of newest first.
	Reverse bool
}

func ParsePagination(r *http.Request) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	order := r.URL.Query().Get("order")
	reverse, _ := strconv.ParseBool(r.URL.Query().Get("reverse"))

	return PaginationParams{
		Limit:   limit,
		Reverse: reverse || order == "asc",
	}
}
