package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperjump/docslot/pkg/utils"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIEmbedder requests embeddings from the OpenAI API (or a compatible server).
// The requested dimension is sent with every call, so 384 works with the text-embedding-3 models.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	baseURL string
	model   string
	rps     float64
}

// WithOpenAIBaseURL points the client at a compatible server.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) { s.baseURL = url }
}

// WithOpenAIModel sets the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithOpenAIRateLimit caps requests per second; <= 0 means unlimited.
func WithOpenAIRateLimit(rps float64) OpenAIOption {
	return func(s *openAISettings) { s.rps = rps }
}

// NewOpenAIEmbedder creates an OpenAI embedder with apiKey.
func NewOpenAIEmbedder(apiKey string, dimensions int, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai embedder requires an API key")
	}
	s := &openAISettings{model: DefaultOpenAIModel}
	for _, opt := range opts {
		opt(s)
	}
	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      s.model,
		dimensions: dimensions,
		limiter:    newLimiter(s.rps),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, errors.New("cannot embed empty text")
		}
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      texts,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), e.dimensions)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		utils.NormalizeL2(v)
		out[d.Index] = v
	}
	return out, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
