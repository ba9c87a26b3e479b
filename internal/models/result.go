package models

// HitKind distinguishes resolved matches from slots the registry could not resolve.
type HitKind string

const (
	HitMatch HitKind = "match"
	HitGap   HitKind = "resolution_gap"
)

// SearchHit is one entry of a nearest-neighbour search, in ascending distance order.
// For a resolution gap DocumentID is zero and the document fields are empty.
type SearchHit struct {
	Kind       HitKind    `json:"kind"`
	Rank       int        `json:"rank"`
	Slot       Slot       `json:"slot"`
	Distance   float32    `json:"distance"`
	DocumentID DocumentID `json:"document_id,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	SourcePath string     `json:"source_path,omitempty"`
	Keywords   string     `json:"keywords,omitempty"`
}

// Resolved reports whether the hit maps to a document.
func (h *SearchHit) Resolved() bool {
	return h.Kind == HitMatch
}

// SearchResponse wraps the hits of one query.
type SearchResponse struct {
	Query     string       `json:"query"`
	K         int          `json:"k"`
	Hits      []*SearchHit `json:"hits"`
	Resolved  int          `json:"resolved"`
	Gaps      int          `json:"gaps"`
	QueryTime int64        `json:"query_time_ms"`
}

// TextHit is a full-text match from the keyword mirror.
type TextHit struct {
	DocumentID DocumentID `json:"document_id"`
	Score      float64    `json:"score"`
	Filename   string     `json:"filename,omitempty"`
}
