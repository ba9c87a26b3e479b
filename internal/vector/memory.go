package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/docslot/internal/models"
)

// memoryMagic prefixes every persisted MemoryIndex file.
const memoryMagic = "DSLV"

// MemoryIndex is an in-memory vector array with brute-force L2 search.
// Suitable for tests and corpora of a few hundred thousand vectors.
type MemoryIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Append copies vector into the next slot.
func (m *MemoryIndex) Append(ctx context.Context, vector []float32) (models.Slot, error) {
	if err := checkDims(vector, m.dimensions); err != nil {
		return models.NoMatch, err
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	slot := models.Slot(len(m.vectors))
	m.vectors = append(m.vectors, vec)
	return slot, nil
}

// Search returns the k nearest slots by L2 distance; ties keep slot order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := checkDims(query, m.dimensions); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(m.vectors))
	for i, vec := range m.vectors {
		hits[i] = Hit{Slot: models.Slot(i), Distance: L2Distance(query, vec)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Vector returns a copy of the vector at slot.
func (m *MemoryIndex) Vector(ctx context.Context, slot models.Slot) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !slot.Valid() || int(slot) >= len(m.vectors) {
		return nil, fmt.Errorf("%w: %d (count %d)", ErrSlotOutOfRange, slot, len(m.vectors))
	}
	out := make([]float32, m.dimensions)
	copy(out, m.vectors[slot])
	return out, nil
}

// Count returns the number of stored vectors.
func (m *MemoryIndex) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Dimensions returns the vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Save writes the index to path through a temp file and rename, so a crash leaves either
// the previous file or the new one. Format: magic (4), dimension (4), n (4), then n vectors.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := m.writeTo(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

func (m *MemoryIndex) writeTo(w io.Writer) error {
	if _, err := io.WriteString(w, memoryMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, vec := range m.vectors {
		if _, err := w.Write(encodeVector(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the in-memory contents with the file at path. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(memoryMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != memoryMagic {
		return fmt.Errorf("%s is not a vector index file", path)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, decodeVector(buf))
	}

	m.mu.Lock()
	m.vectors = vectors
	m.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

var _ Index = (*MemoryIndex)(nil)
