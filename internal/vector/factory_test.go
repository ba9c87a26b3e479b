package vector

import (
	"errors"
	"testing"
)

func TestNewIndex(t *testing.T) {
	tests := []struct {
		indexType string
		wantType  string
		wantErr   bool
	}{
		{"memory", "memory", false},
		{"", "memory", false},
		{"bolt", "bolt", false},
		{"unknown", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.indexType, func(t *testing.T) {
			idx, err := NewIndex(tt.indexType, 3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIndex(%q) error = %v", tt.indexType, err)
			}
			if err != nil {
				return
			}
			defer idx.Close()
			if idx.Type() != tt.wantType || idx.Dimensions() != 3 || idx.Count() != 0 {
				t.Errorf("got type=%s dims=%d count=%d", idx.Type(), idx.Dimensions(), idx.Count())
			}
		})
	}
}

func TestNewIndex_FAISS(t *testing.T) {
	idx, err := NewIndex("faiss", 3)
	if IsFAISSAvailable() {
		if err != nil {
			t.Fatal(err)
		}
		_ = idx.Close()
		return
	}
	if err == nil {
		t.Error("expected error without FAISS support")
	}
}

func TestCheckDimensions(t *testing.T) {
	idx, _ := NewMemoryIndex(384)
	if err := CheckDimensions(idx, 384); err != nil {
		t.Errorf("matching dims: %v", err)
	}
	if err := CheckDimensions(idx, 768); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("mismatch error = %v", err)
	}
}
