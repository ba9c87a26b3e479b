package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hyperjump/docslot/internal/models"
)

var (
	bucketVectors = []byte("vectors")
	bucketMeta    = []byte("meta")
	keyDimensions = []byte("dimensions")
)

// BoltIndex persists every appended vector in its own bbolt transaction, keyed by big-endian slot.
// A crash can lose at most the append in flight, never leave half a vector. Reads are served from
// an in-memory mirror loaded at open.
type BoltIndex struct {
	dimensions int
	path       string
	db         *bbolt.DB
	mirror     *MemoryIndex
	mu         sync.Mutex
}

// NewBoltIndex creates an unopened bolt-backed index; Load opens its file.
func NewBoltIndex(dimensions int) (*BoltIndex, error) {
	mirror, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	return &BoltIndex{dimensions: dimensions, mirror: mirror}, nil
}

// OpenBoltIndex creates a bolt-backed index and opens path.
func OpenBoltIndex(path string, dimensions int) (*BoltIndex, error) {
	idx, err := NewBoltIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

// Type returns the index type identifier.
func (b *BoltIndex) Type() string {
	return string(IndexTypeBolt)
}

// Load opens the bbolt file at path, creating it if needed, and fills the mirror.
// Loading the path that is already open is a no-op.
func (b *BoltIndex) Load(path string) error {
	if path == "" {
		return fmt.Errorf("bolt index requires a path")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil && b.path == path {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open bolt index: %w", err)
	}

	var vectors [][]float32
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketVectors); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if raw := meta.Get(keyDimensions); raw != nil {
			if stored := int(binary.BigEndian.Uint32(raw)); stored != b.dimensions {
				return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, stored, b.dimensions)
			}
		} else {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(b.dimensions))
			if err := meta.Put(keyDimensions, buf); err != nil {
				return err
			}
		}

		var next uint64
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			if slot := binary.BigEndian.Uint64(k); slot != next {
				return fmt.Errorf("bolt index has a hole at slot %d (found %d)", next, slot)
			}
			next++
			vectors = append(vectors, decodeVector(v))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	if b.db != nil {
		_ = b.db.Close()
	}
	b.db = db
	b.path = path
	b.mirror.mu.Lock()
	b.mirror.vectors = vectors
	b.mirror.mu.Unlock()
	return nil
}

// Append writes vector at the next slot in one bbolt transaction.
func (b *BoltIndex) Append(ctx context.Context, vector []float32) (models.Slot, error) {
	if err := checkDims(vector, b.dimensions); err != nil {
		return models.NoMatch, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return models.NoMatch, errors.New("bolt index is not open")
	}

	var slot models.Slot
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVectors)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		slot = models.Slot(seq - 1)
		return bucket.Put(slotKey(slot), encodeVector(vector))
	})
	if err != nil {
		return models.NoMatch, fmt.Errorf("append vector: %w", err)
	}
	mirrored, err := b.mirror.Append(ctx, vector)
	if err != nil {
		return models.NoMatch, err
	}
	if mirrored != slot {
		return models.NoMatch, fmt.Errorf("bolt index mirror out of step: stored slot %d, mirror slot %d", slot, mirrored)
	}
	return slot, nil
}

func slotKey(slot models.Slot) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(slot))
	return key
}

// Search returns the k nearest slots by L2 distance.
func (b *BoltIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return b.mirror.Search(ctx, query, k)
}

// Vector returns a copy of the vector at slot.
func (b *BoltIndex) Vector(ctx context.Context, slot models.Slot) ([]float32, error) {
	return b.mirror.Vector(ctx, slot)
}

// Count returns the number of stored vectors.
func (b *BoltIndex) Count() int {
	return b.mirror.Count()
}

// Dimensions returns the vector length.
func (b *BoltIndex) Dimensions() int {
	return b.dimensions
}

// Save syncs the open file. A different path receives a consistent copy of the database.
func (b *BoltIndex) Save(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return errors.New("bolt index is not open")
	}
	if path == "" || path == b.path {
		return b.db.Sync()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}

// Close closes the bbolt file.
func (b *BoltIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

var _ Index = (*BoltIndex)(nil)
