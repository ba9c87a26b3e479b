package models

// FindingKind names a class of reconciliation finding.
type FindingKind string

const (
	FindingCountMismatch       FindingKind = "count_mismatch"
	FindingOutOfRangeSlot      FindingKind = "out_of_range_slot"
	FindingEmbeddingDrift      FindingKind = "embedding_drift"
	FindingFingerprintMismatch FindingKind = "fingerprint_mismatch"
	FindingUnreadableSlot      FindingKind = "unreadable_slot"
)

// Finding describes one fault in the state of the data. Only the fields relevant to Kind are set.
type Finding struct {
	Kind       FindingKind `json:"kind"`
	DocumentID DocumentID  `json:"document_id,omitempty"`
	Slot       Slot        `json:"slot,omitempty"`
	Expected   int         `json:"expected,omitempty"`
	Actual     int         `json:"actual,omitempty"`
	Distance   float32     `json:"distance,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// AuditReport aggregates the findings of one reconciliation run.
// It carries no timestamps so that two runs over unmodified stores compare equal.
type AuditReport struct {
	TotalChecked          int        `json:"total_checked"`
	VectorCount           int        `json:"vector_count"`
	MappedCount           int        `json:"mapped_count"`
	Pending               int        `json:"pending"`
	Deep                  bool       `json:"deep"`
	Sampled               int        `json:"sampled"`
	CountMismatches       []*Finding `json:"count_mismatches"`
	OutOfRange            []*Finding `json:"out_of_range"`
	Drifted               []*Finding `json:"drifted"`
	FingerprintMismatches []*Finding `json:"fingerprint_mismatches"`
	Unreadable            []*Finding `json:"unreadable"`
	Clean                 bool       `json:"clean"`
}

// Findings returns every finding in report order.
func (r *AuditReport) Findings() []*Finding {
	var all []*Finding
	all = append(all, r.CountMismatches...)
	all = append(all, r.OutOfRange...)
	all = append(all, r.FingerprintMismatches...)
	all = append(all, r.Unreadable...)
	all = append(all, r.Drifted...)
	return all
}
