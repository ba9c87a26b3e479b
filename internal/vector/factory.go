package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory keeps vectors in memory and persists them as one file on Save.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeBolt persists each append in a bbolt transaction.
	IndexTypeBolt IndexType = "bolt"
	// IndexTypeFAISS uses a FAISS IndexFlatL2. Requires -tags=faiss and the FAISS C library.
	IndexTypeFAISS IndexType = "faiss"
)

// NewIndex creates an empty index of the specified type. Callers Load the persisted state next.
func NewIndex(indexType string, dimensions int) (Index, error) {
	var (
		idx Index
		err error
	)
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		idx, err = NewMemoryIndex(dimensions)
	case IndexTypeBolt:
		idx, err = NewBoltIndex(dimensions)
	case IndexTypeFAISS:
		idx, err = NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, bolt, faiss)", indexType)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}

// CheckDimensions fails when an embedder's output length differs from the index dimensionality.
func CheckDimensions(idx Index, embeddingDims int) error {
	if idx.Dimensions() != embeddingDims {
		return fmt.Errorf("%w: embedder produces %d, index stores %d", ErrDimensionMismatch, embeddingDims, idx.Dimensions())
	}
	return nil
}
