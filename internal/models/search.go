package models

import "fmt"

// SearchQuery is a retrieval request against the search index.
type SearchQuery struct {
	Query string `json:"query"`
	Top   int    `json:"top,omitempty"`
}

// Validate ensures the query is non-empty and clamps Top to [1, 100], defaulting to 10.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Top <= 0 {
		q.Top = 10
	}
	if q.Top > 100 {
		q.Top = 100
	}
	return nil
}

// SearchResponse is the response for a retrieval request.
type SearchResponse struct {
	Query     string       `json:"query"`
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
}
