package models

import "time"

// CursorOutcome records why a source path left the ingestion queue.
type CursorOutcome string

const (
	CursorCommitted CursorOutcome = "committed"
	CursorSkipped   CursorOutcome = "skipped"
)

// CursorEntry is one source path in the corpus-level ingestion cursor.
type CursorEntry struct {
	SourcePath string        `json:"source_path"`
	Outcome    CursorOutcome `json:"outcome"`
	DocumentID *DocumentID   `json:"document_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
