package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=1000", DefaultLimit, 0},
		{"?limit=-1&offset=-5", DefaultLimit, 0},
		{"?limit=abc", DefaultLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := ParsePagination(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{1, 2}, Page(items, PaginationParams{Limit: 2}))
	assert.Equal(t, []int{4, 5}, Page(items, PaginationParams{Limit: 10, Offset: 3}))
	assert.Empty(t, Page(items, PaginationParams{Limit: 2, Offset: 5}))
}
