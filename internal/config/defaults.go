package config

// DefaultDataDir is the home-relative directory holding config and stores.
const DefaultDataDir = ".docslot"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Corpus.Directory == "" {
		cfg.Corpus.Directory = "./archive/testCollection"
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".pdf"}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDataDir + "/data/pdf_index.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = DefaultDataDir + "/data/vector_index.bin"
	}
	if cfg.Storage.TextIndexPath == "" {
		cfg.Storage.TextIndexPath = DefaultDataDir + "/data/text.bleve"
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = DefaultDataDir + "/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Ingest.KeywordCount == 0 {
		cfg.Ingest.KeywordCount = 20
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 8
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Audit.SampleSize == 0 {
		cfg.Audit.SampleSize = 5
	}
	if cfg.Audit.DriftTolerance == 0 {
		cfg.Audit.DriftTolerance = 0.01
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 500
	}
}
