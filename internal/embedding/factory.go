package embedding

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/config"
)

// Provider names accepted in embedding.provider.
const (
	ProviderONNX   = "onnx"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// New builds the configured provider wrapped in an LRU cache.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}

	var inner Embedder
	switch cfg.Provider {
	case ProviderONNX, "":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		inner = e
	case ProviderOllama:
		inner = NewOllamaEmbedder(cfg.Dimensions,
			WithOllamaURL(cfg.BaseURL),
			WithOllamaModel(cfg.Model),
			WithOllamaTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second),
			WithOllamaRateLimit(cfg.RequestsPerSecond),
		)
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(os.Getenv(cfg.APIKeyEnv), cfg.Dimensions,
			WithOpenAIBaseURL(cfg.BaseURL),
			WithOpenAIModel(cfg.Model),
			WithOpenAIRateLimit(cfg.RequestsPerSecond),
		)
		if err != nil {
			return nil, fmt.Errorf("openai embedder (key from $%s): %w", cfg.APIKeyEnv, err)
		}
		inner = e
	case ProviderMock:
		inner = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, ollama, openai, mock)", cfg.Provider)
	}

	logger.Debug("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", inner.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
