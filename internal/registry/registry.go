// Package registry is the durable record binding document identities to vector index slots.
package registry

import (
	"context"
	"errors"

	"github.com/hyperjump/docslot/internal/models"
)

var (
	// ErrDuplicateAssignment means the document already owns a live slot.
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	// ErrSlotTaken means another document already owns the slot.
	ErrSlotTaken = errors.New("slot already assigned")
	// ErrUnknownSlot means no mapping entry owns the slot.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrUnknownDocument means the document is absent or has no committed slot.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrInvalidSlot is returned for negative slots.
	ErrInvalidSlot = errors.New("invalid slot")
)

// PendingDocument is the extracted form of a document before it owns a slot.
type PendingDocument struct {
	SourcePath string
	Filename   string
	Content    string
	Keywords   string
}

// Registry defines the identifier mapping operations used by ingestion, auditing and search.
type Registry interface {
	// Ingestion
	UpsertPending(ctx context.Context, doc PendingDocument) (models.DocumentID, error)
	Assign(ctx context.Context, id models.DocumentID, slot models.Slot) (*models.MappingEntry, error)
	Commit(ctx context.Context, id models.DocumentID, slot models.Slot, sourcePath string) (*models.MappingEntry, error)
	MarkSkipped(ctx context.Context, sourcePath, reason string) error
	Cursor(ctx context.Context) (map[string]*models.CursorEntry, error)
	UpdateDerived(ctx context.Context, id models.DocumentID, content, keywords string) error

	// Resolution
	Resolve(ctx context.Context, slot models.Slot) (models.DocumentID, error)
	ResolveDocument(ctx context.Context, id models.DocumentID) (models.Slot, error)
	GetDocument(ctx context.Context, id models.DocumentID) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, sourcePath string) (*models.Document, error)

	// Inspection
	Count(ctx context.Context) (int, error)
	PendingCount(ctx context.Context) (int, error)
	Entries(ctx context.Context) ([]*models.MappingEntry, error)
	Sample(ctx context.Context, n int) ([]*models.Document, error)
	MarkStale(ctx context.Context, id models.DocumentID, stale bool) error

	Close() error
}
