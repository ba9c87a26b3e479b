// Package main is the docslot CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/audit"
	"github.com/hyperjump/docslot/internal/cli"
	"github.com/hyperjump/docslot/internal/config"
	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/extract"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/keyword"
	"github.com/hyperjump/docslot/internal/query"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/storelock"
	"github.com/hyperjump/docslot/internal/vector"
	"github.com/hyperjump/docslot/pkg/utils"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitFaults = 2
)

var (
	configPath string
	debugFlag  bool
	jsonOutput bool
)

// exitError carries a non-default exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

// reportError prints err unless it is a silent exit and returns the process exit code.
func reportError(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	return ExitError
}

var rootCmd = &cobra.Command{
	Use:   "docslot",
	Short: "Keep a document registry and a vector index in one slot namespace",
	Long: `docslot ingests a document corpus into a SQLite registry and an append-only vector index.
Every document owns exactly one slot; the registry maps slots back to documents so that
nearest-neighbour hits resolve to the source files that produced them.

Ingestion is resumable: interrupt it at any point and run it again. Use audit to check that
both stores still agree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(".env")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ./config.yaml, then ~/.docslot/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "write results as JSON")
	rootCmd.Version = Version
}

// loadDotEnv loads environment files that exist; variables already set win.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// loadConfig resolves and loads the config file. With no explicit path, ./config.yaml is
// preferred (for development) over the per-user file; when neither exists defaults are used.
// Returns the path actually loaded, empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	candidates := []string{config.DefaultConfigPath()}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append([]string{filepath.Join(cwd, "config.yaml")}, candidates...)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		cfg, err := config.Load(c)
		if err != nil {
			return nil, "", err
		}
		return cfg, c, nil
	}
	return config.Default(), "", nil
}

func outputFormat() cli.OutputFormat {
	return cli.FormatFor(jsonOutput)
}

// signalContext is cancelled on SIGINT or SIGTERM. Both stores stay valid when a run is
// cancelled between steps.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// components holds the opened stores and services.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *registry.SQLiteRegistry
	index     vector.Index
	embedder  embedding.Embedder
	text      *keyword.TextIndex
	extractor *extract.Extractor
	lock      *storelock.Lock
}

// openOptions selects what a command needs beyond the two stores.
type openOptions struct {
	// write takes the store lock exclusively; otherwise it is shared.
	write bool
	// reset removes the stores once the exclusive lock is held.
	reset    bool
	embedder bool
	text     bool
	// existingText opens the text index only when it is already on disk.
	existingText bool
	// quiet drops info logs so they do not interleave with interactive output.
	quiet bool
}

// setup loads config and the logger, then opens the components a command needs.
func setup(opts openOptions) (*components, error) {
	cfg, loaded, err := loadConfig(configPath)
	if err != nil {
		return nil, &exitError{code: ExitError, err: fmt.Errorf("load config: %w", err)}
	}
	if loaded != "" {
		if err := loadDotEnv(filepath.Join(filepath.Dir(loaded), ".env")); err != nil {
			return nil, err
		}
	}
	debug := cfg.Debug || debugFlag
	var logger *zap.Logger
	if opts.quiet && !debug {
		logger, err = utils.NewQuietLogger()
	} else {
		logger, err = utils.NewLogger(debug)
	}
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", loaded))
	c, err := openComponents(cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return c, nil
}

func openComponents(cfg *config.Config, logger *zap.Logger, opts openOptions) (*components, error) {
	c := &components{cfg: cfg, logger: logger, extractor: extract.NewExtractor()}

	mode := storelock.Shared
	if opts.write || opts.reset {
		mode = storelock.Exclusive
	}
	lock, err := storelock.Acquire(storelock.Path(cfg.Storage.DatabasePath), mode, 0)
	if errors.Is(err, storelock.ErrLocked) {
		return nil, &exitError{code: ExitError, err: fmt.Errorf("%w; retry once it exits, or use the HTTP API of a running serve", err)}
	}
	if err != nil {
		return nil, err
	}
	c.lock = lock
	logger.Debug("store lock held", zap.String("path", lock.Path()), zap.Stringer("mode", lock.Mode()))
	if opts.reset {
		if err := removeStores(cfg.Storage); err != nil {
			c.Close()
			return nil, err
		}
	}

	reg, err := registry.Open(cfg.Storage.DatabasePath, registry.WithDriver(cfg.Storage.Driver))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}
	c.registry = reg

	idx, err := vector.NewIndex(cfg.Vector.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	c.index = idx
	if err := idx.Load(cfg.Storage.VectorIndexPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("load vector index %s: %w", cfg.Storage.VectorIndexPath, err)
	}
	logger.Debug("vector index loaded",
		zap.String("type", idx.Type()),
		zap.Int("vectors", idx.Count()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	if opts.embedder {
		emb, err := embedding.New(cfg.Embedding, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		c.embedder = emb
		if err := vector.CheckDimensions(idx, emb.Dimensions()); err != nil {
			c.Close()
			return nil, err
		}
	}

	textPath := cfg.Storage.TextIndexPath
	if opts.existingText && textPath != "" {
		if _, err := os.Stat(textPath); err == nil {
			opts.text = true
		}
	}
	if opts.text && textPath != "" {
		text, err := keyword.NewTextIndex(textPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("open text index: %w", err)
		}
		c.text = text
	}
	return c, nil
}

// Close releases everything that was opened.
func (c *components) Close() {
	if c.text != nil {
		_ = c.text.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.index != nil {
		_ = c.index.Close()
	}
	if c.registry != nil {
		_ = c.registry.Close()
	}
	if c.lock != nil {
		_ = c.lock.Release()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *components) controller(extra ...ingest.Option) *ingest.Controller {
	cfg := c.cfg
	opts := []ingest.Option{
		ingest.WithLogger(c.logger),
		ingest.WithIndexPath(cfg.Storage.VectorIndexPath),
		ingest.WithExtensions(cfg.Corpus.Extensions, cfg.Corpus.RecursiveOrDefault()),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithKeywordCount(cfg.Ingest.KeywordCount),
		ingest.WithStrictStart(cfg.Ingest.StrictStart),
	}
	if c.text != nil {
		opts = append(opts, ingest.WithTextIndex(c.text))
	}
	return ingest.NewController(c.registry, c.index, c.embedder, c.extractor, append(opts, extra...)...)
}

func (c *components) auditor(snap audit.Snapshotter) *audit.Auditor {
	opts := []audit.Option{
		audit.WithLogger(c.logger),
		audit.WithSampleSize(c.cfg.Audit.SampleSize),
		audit.WithTolerance(c.cfg.Audit.DriftTolerance),
	}
	if c.embedder != nil {
		opts = append(opts, audit.WithEmbedder(c.embedder))
	}
	if snap != nil {
		opts = append(opts, audit.WithSnapshotter(snap))
	}
	return audit.NewAuditor(c.registry, c.index, opts...)
}

func (c *components) resolver() *query.Resolver {
	opts := []query.Option{
		query.WithLogger(c.logger),
		query.WithLimits(c.cfg.Search.DefaultK, c.cfg.Search.MaxK),
	}
	if c.text != nil {
		opts = append(opts, query.WithTextIndex(c.text))
	}
	return query.NewResolver(c.registry, c.index, c.embedder, opts...)
}

// corpusRoot returns the first argument, or the configured corpus directory.
func corpusRoot(cfg *config.Config, args []string) string {
	if len(args) > 0 && args[0] != "" {
		if abs, err := filepath.Abs(args[0]); err == nil {
			return abs
		}
		return args[0]
	}
	return cfg.Corpus.Directory
}
