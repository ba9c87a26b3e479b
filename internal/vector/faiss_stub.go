//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/docslot/internal/models"
)

var errNoFAISS = errors.New("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a placeholder when the binary is built without FAISS.
type FAISSIndex struct{}

// NewFAISSIndex always fails without FAISS.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, errNoFAISS
}

func (f *FAISSIndex) Append(ctx context.Context, vector []float32) (models.Slot, error) {
	return models.NoMatch, errNoFAISS
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return nil, errNoFAISS
}

func (f *FAISSIndex) Vector(ctx context.Context, slot models.Slot) ([]float32, error) {
	return nil, errNoFAISS
}

func (f *FAISSIndex) Count() int        { return 0 }
func (f *FAISSIndex) Dimensions() int   { return 0 }
func (f *FAISSIndex) Save(string) error { return errNoFAISS }
func (f *FAISSIndex) Load(string) error { return errNoFAISS }
func (f *FAISSIndex) Close() error      { return nil }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
