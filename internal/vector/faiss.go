//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/hyperjump/docslot/internal/models"
)

// FAISSIndex wraps a FAISS IndexFlatL2. FAISS labels are insertion positions, so a label is a slot.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty flat L2 index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var index *C.FaissIndexFlatL2
	if ret := C.faiss_IndexFlatL2_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: (*C.FaissIndex)(index), dimensions: dimensions}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Append adds one vector; its slot is ntotal before the add.
func (f *FAISSIndex) Append(ctx context.Context, vector []float32) (models.Slot, error) {
	if err := checkDims(vector, f.dimensions); err != nil {
		return models.NoMatch, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	slot := models.Slot(C.faiss_Index_ntotal(f.index))
	if ret := C.faiss_Index_add(f.index, 1, (*C.float)(unsafe.Pointer(&vector[0]))); ret != 0 {
		return models.NoMatch, fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}
	return slot, nil
}

// Search returns k hits as FAISS reports them. When k exceeds the vector count FAISS pads
// with label -1, which is passed through as models.NoMatch.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := checkDims(query, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || C.faiss_Index_ntotal(f.index) == 0 {
		return nil, nil
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, k)
	for i := range hits {
		// IndexFlatL2 reports squared distances
		hits[i] = Hit{Slot: models.Slot(labels[i]), Distance: float32(math.Sqrt(float64(distances[i])))}
	}
	return hits, nil
}

// Vector reconstructs the vector stored at slot.
func (f *FAISSIndex) Vector(ctx context.Context, slot models.Slot) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := int64(C.faiss_Index_ntotal(f.index))
	if !slot.Valid() || int64(slot) >= n {
		return nil, fmt.Errorf("%w: %d (count %d)", ErrSlotOutOfRange, slot, n)
	}
	out := make([]float32, f.dimensions)
	if ret := C.faiss_Index_reconstruct(f.index, C.idx_t(slot), (*C.float)(unsafe.Pointer(&out[0]))); ret != 0 {
		return nil, fmt.Errorf("FAISS reconstruct failed: %s", faissLastError())
	}
	return out, nil
}

// Count returns ntotal.
func (f *FAISSIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the vector length.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Save writes the index with faiss_write_index through a temp file and rename.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

// Load replaces the index with the file at path. A missing file leaves the index unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, d, f.dimensions)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	return nil
}

// Close frees the FAISS index.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

var _ Index = (*FAISSIndex)(nil)
