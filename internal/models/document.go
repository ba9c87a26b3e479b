// Package models defines the core data structures shared by the registry, the vector index,
// ingestion, auditing and search.
package models

import (
	"strconv"
	"time"
)

// DocumentID is the durable identity of a document in the metadata store.
// It is assigned once at first ingestion and never reused.
type DocumentID int64

func (id DocumentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Slot is a position in the append-only vector index, starting at 0.
type Slot int64

// NoMatch is the slot value a search oracle returns when it has fewer than k neighbours.
const NoMatch Slot = -1

// Valid reports whether s can address a vector at all.
func (s Slot) Valid() bool {
	return s >= 0
}

func (s Slot) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Document represents a stored document row.
// Slot is nil while ingestion of the document is still in progress.
type Document struct {
	ID          DocumentID `json:"id" db:"id"`
	SourcePath  string     `json:"source_path" db:"source_path"`
	Filename    string     `json:"filename" db:"filename"`
	Content     string     `json:"content,omitempty" db:"content"`
	Keywords    string     `json:"keywords" db:"keywords"`
	Slot        *Slot      `json:"slot" db:"mapped_slot"`
	Fingerprint string     `json:"fingerprint,omitempty" db:"fingerprint"`
	Stale       bool       `json:"stale" db:"stale"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Pending reports whether the document was extracted but has no committed slot yet.
func (d *Document) Pending() bool {
	return d.Slot == nil
}

// MappingEntry binds one document identity to one slot.
type MappingEntry struct {
	DocumentID  DocumentID `json:"document_id"`
	Slot        Slot       `json:"slot"`
	Fingerprint string     `json:"fingerprint"`
	Stale       bool       `json:"stale,omitempty"`
}
