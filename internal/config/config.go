// Package config provides configuration loading and structs for docslot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Audit     AuditConfig     `yaml:"audit"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// CorpusConfig describes the source documents.
type CorpusConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
	Recursive  *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to descend into subdirectories; defaults to true when unset.
func (c *CorpusConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// StorageConfig holds paths for the registry database and the indexes.
type StorageConfig struct {
	Driver          string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	TextIndexPath   string `yaml:"text_index_path"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	IndexType string `yaml:"index_type"` // memory, bolt or faiss
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // onnx, ollama, openai or mock
	ModelPath         string  `yaml:"model_path"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// IngestConfig tunes the ingestion controller.
type IngestConfig struct {
	KeywordCount int  `yaml:"keyword_count"`
	BatchSize    int  `yaml:"batch_size"`
	StrictStart  bool `yaml:"strict_start"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// AuditConfig tunes reconciliation.
type AuditConfig struct {
	SampleSize     int     `yaml:"sample_size"`
	DriftTolerance float64 `yaml:"drift_tolerance"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds corpus watch settings for serve --watch.
type WatchConfig struct {
	Enabled        bool `yaml:"enabled"`
	DebounceMillis int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, applies defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.ExpandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.ExpandPaths("")
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandPaths makes every configured path absolute. See expandPath.
func (c *Config) ExpandPaths(configDir string) {
	c.Corpus.Directory = expandPath(c.Corpus.Directory, configDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.VectorIndexPath = expandPath(c.Storage.VectorIndexPath, configDir)
	c.Storage.TextIndexPath = expandPath(c.Storage.TextIndexPath, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
}

// DefaultConfigPath returns ~/.docslot/config.yaml.
func DefaultConfigPath() string {
	return expandPath(filepath.Join(DefaultDataDir, "config.yaml"), "")
}

// expandPath converts a path to absolute. "~/" is the home directory; paths starting with "./"
// are relative to configDir (the working directory when configDir is empty); other relative
// paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, homeErr := os.UserHomeDir()
	if strings.HasPrefix(path, "~/") && homeErr == nil {
		return filepath.Join(home, path[2:])
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if configDir == "" {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
		return filepath.Join(configDir, path)
	}
	if homeErr == nil {
		return filepath.Join(home, path)
	}
	return path
}
