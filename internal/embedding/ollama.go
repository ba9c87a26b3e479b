package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel produces 384-dimensional MiniLM embeddings.
	DefaultOllamaModel = "all-minilm:l6-v2"
	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 30 * time.Second

	ollamaEmbedPath = "/api/embed"
)

// OllamaEmbedder generates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaURL sets the Ollama API base URL.
func WithOllamaURL(url string) OllamaOption {
	return func(o *OllamaEmbedder) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithOllamaModel sets the embedding model.
func WithOllamaModel(model string) OllamaOption {
	return func(o *OllamaEmbedder) {
		if model != "" {
			o.model = model
		}
	}
}

// WithOllamaTimeout sets the HTTP client timeout.
func WithOllamaTimeout(timeout time.Duration) OllamaOption {
	return func(o *OllamaEmbedder) {
		if timeout > 0 {
			o.client.Timeout = timeout
		}
	}
}

// WithOllamaRateLimit caps requests per second; <= 0 means unlimited.
func WithOllamaRateLimit(rps float64) OllamaOption {
	return func(o *OllamaEmbedder) {
		o.limiter = newLimiter(rps)
	}
}

// NewOllamaEmbedder creates an Ollama embedder that expects vectors of the given dimension.
func NewOllamaEmbedder(dimensions int, opts ...OllamaOption) *OllamaEmbedder {
	o := &OllamaEmbedder{
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		dimensions: dimensions,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    newLimiter(0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in one /api/embed request.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+ollamaEmbedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, msg)
	}
	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	for _, v := range result.Embeddings {
		if len(v) != o.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), o.dimensions)
		}
	}
	return result.Embeddings, nil
}

// Dimensions returns the expected vector dimensions.
func (o *OllamaEmbedder) Dimensions() int {
	return o.dimensions
}

// Close releases idle connections.
func (o *OllamaEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// newLimiter returns a limiter allowing rps requests per second, or an unlimited one.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
