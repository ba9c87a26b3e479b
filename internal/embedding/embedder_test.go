package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/docslot/internal/config"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "same text")
	b, _ := e.Embed(ctx, "same text")
	c, _ := e.Embed(ctx, "other text")
	if len(a) != 16 {
		t.Fatalf("len = %d", len(a))
	}
	same, differ := true, false
	for i := range a {
		if a[i] != b[i] {
			same = false
		}
		if a[i] != c[i] {
			differ = true
		}
	}
	if !same || !differ {
		t.Errorf("same=%v differ=%v", same, differ)
	}
}

func ollamaServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			v := make([]float32, dims)
			v[i%dims] = 1
			resp.Embeddings = append(resp.Embeddings, v)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := ollamaServer(t, 4)
	defer srv.Close()
	ctx := context.Background()

	e := NewOllamaEmbedder(4, WithOllamaURL(srv.URL), WithOllamaRateLimit(100))
	defer e.Close()
	v, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 4 || v[0] != 1 {
		t.Errorf("Embed = %v", v)
	}
	batch, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 || batch[2][2] != 1 {
		t.Errorf("EmbedBatch = %v", batch)
	}
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := ollamaServer(t, 3)
	defer srv.Close()
	e := NewOllamaEmbedder(4, WithOllamaURL(srv.URL))
	if _, err := e.Embed(context.Background(), "hello"); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v", err)
	}
}

func TestOllamaEmbedder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()
	e := NewOllamaEmbedder(4, WithOllamaURL(srv.URL))
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error")
	}
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder("", 384); err == nil {
		t.Error("expected error without key")
	}
	e, err := NewOpenAIEmbedder("sk-test", 384, WithOpenAIModel("text-embedding-3-large"))
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 384 || e.model != "text-embedding-3-large" {
		t.Errorf("dims=%d model=%s", e.Dimensions(), e.model)
	}
	if _, err := e.EmbedBatch(context.Background(), []string{""}); err == nil {
		t.Error("empty text must be rejected before any request")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmbeddingConfig
		wantErr bool
	}{
		{"mock", config.EmbeddingConfig{Provider: "mock", Dimensions: 8, CacheSize: 10}, false},
		{"ollama", config.EmbeddingConfig{Provider: "ollama", Dimensions: 8}, false},
		{"openai without key", config.EmbeddingConfig{Provider: "openai", Dimensions: 8, APIKeyEnv: "DOCSLOT_TEST_UNSET_KEY"}, true},
		{"unknown", config.EmbeddingConfig{Provider: "word2vec", Dimensions: 8}, true},
		{"zero dims", config.EmbeddingConfig{Provider: "mock"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if e.Dimensions() != 8 {
					t.Errorf("Dimensions = %d", e.Dimensions())
				}
				_ = e.Close()
			}
		})
	}
}
