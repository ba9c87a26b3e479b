package ingest

import (
	"time"

	"github.com/hyperjump/docslot/internal/models"
)

// State is the per-document ingestion step.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateEmbedding
	StateAppending
	StateMappingCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateEmbedding:
		return "embedding"
	case StateAppending:
		return "appending"
	case StateMappingCommitted:
		return "mapping_committed"
	}
	return "unknown"
}

// Transition is reported when a document enters a new state, before that state's work runs.
type Transition struct {
	RunID      string
	SourcePath string
	DocumentID models.DocumentID
	From       State
	To         State
	// Slot is set once the vector has been appended.
	Slot models.Slot
}

// Progress is handed to the pause callback after each committed document.
type Progress struct {
	RunID      string
	SourcePath string
	DocumentID models.DocumentID
	Slot       models.Slot
	Committed  int
	Remaining  int
}

// RunSummary reports what a single Run did.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Root        string        `json:"root"`
	Scanned     int           `json:"scanned"`
	AlreadyDone int           `json:"already_done"`
	Retried     int           `json:"retried"` // skipped earlier, changed since
	Committed   int           `json:"committed"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Paused      bool          `json:"paused"`
	Duration    time.Duration `json:"duration"`
}

// Processed is the number of documents this run settled, either committed or skipped.
func (s *RunSummary) Processed() int {
	return s.Committed + s.Skipped
}
