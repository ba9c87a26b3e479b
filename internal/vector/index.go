// Package vector provides append-only vector indexes addressed by slot.
package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/docslot/internal/models"
)

var (
	// ErrSlotOutOfRange is returned when a slot does not address a stored vector.
	ErrSlotOutOfRange = errors.New("slot out of range")
	// ErrDimensionMismatch is returned when a vector or a persisted index has the wrong dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Index is an append-only array of fixed-length vectors. Slots are assigned in insertion order
// starting at 0 and are never reused, reordered, updated or deleted.
type Index interface {
	// Append stores vector and returns its slot, which equals Count() before the call.
	Append(ctx context.Context, vector []float32) (models.Slot, error)
	// Search returns up to k hits by ascending L2 distance. Hits may carry models.NoMatch.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Vector returns a copy of the vector stored at slot.
	Vector(ctx context.Context, slot models.Slot) ([]float32, error)
	Count() int
	Dimensions() int
	Save(path string) error
	Load(path string) error
	Type() string
	Close() error
}

// Hit is a single nearest-neighbour result.
type Hit struct {
	Slot     models.Slot
	Distance float32 // Euclidean (L2) distance
}
