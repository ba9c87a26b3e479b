package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned for a query with no text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchRequest is a nearest-neighbour query.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate rejects blank queries and normalizes K into [1, maxK], using defaultK when unset.
func (q *SearchRequest) Validate(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
