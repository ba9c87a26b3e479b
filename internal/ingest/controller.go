// Package ingest drives documents from the corpus into the vector index and the registry,
// one document at a time, so that every committed slot is owned by exactly one document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/keyword"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

var (
	// ErrRunInProgress is returned by TryRun while another run holds the controller.
	ErrRunInProgress = errors.New("ingestion run already in progress")
	// ErrSlotSkew means the index handed out a slot other than its pre-append count.
	ErrSlotSkew = errors.New("vector index returned an unexpected slot")
	// ErrStoresDiverged is returned at start when strict mode is on and the stores disagree.
	ErrStoresDiverged = errors.New("vector count and mapping count differ")
	// ErrNotCommitted is returned by Reprocess for a path with no committed mapping.
	ErrNotCommitted = errors.New("document has no committed mapping")
)

// TextExtractor turns a corpus file into text.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Controller is the single writer of the vector index and the registry.
type Controller struct {
	registry  registry.Registry
	index     vector.Index
	embedder  embedding.Embedder
	extractor TextExtractor

	logger       *zap.Logger
	text         *keyword.TextIndex
	indexPath    string
	extensions   []string
	recursive    bool
	batchSize    int
	keywordCount int
	strictStart  bool
	pause        func(Progress) bool
	transition   func(Transition) error

	// mu orders appends and commits against readers that need both stores at rest.
	mu      sync.RWMutex
	runMu   sync.Mutex
	running atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTextIndex mirrors the text of each committed document into a full-text index.
func WithTextIndex(t *keyword.TextIndex) Option {
	return func(c *Controller) { c.text = t }
}

// WithIndexPath persists the vector index to path after every append.
func WithIndexPath(path string) Option {
	return func(c *Controller) { c.indexPath = path }
}

// WithExtensions limits the corpus scan to the given extensions.
func WithExtensions(exts []string, recursive bool) Option {
	return func(c *Controller) {
		c.extensions = exts
		c.recursive = recursive
	}
}

// WithBatchSize sets how many documents are embedded per request.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithKeywordCount sets how many leading words form the keyword summary.
func WithKeywordCount(n int) Option {
	return func(c *Controller) { c.keywordCount = n }
}

// WithStrictStart refuses to run when the stores already disagree.
func WithStrictStart(strict bool) Option {
	return func(c *Controller) { c.strictStart = strict }
}

// WithPause registers a callback consulted after every committed document.
// Returning true ends the run; the next run resumes from the cursor.
func WithPause(fn func(Progress) bool) Option {
	return func(c *Controller) { c.pause = fn }
}

// WithTransition registers an observer for state changes. An error aborts the run
// before the state being entered does any work.
func WithTransition(fn func(Transition) error) Option {
	return func(c *Controller) { c.transition = fn }
}

// NewController wires the stores and the embedding pipeline.
func NewController(reg registry.Registry, idx vector.Index, emb embedding.Embedder, ext TextExtractor, opts ...Option) *Controller {
	c := &Controller{
		registry:     reg,
		index:        idx,
		embedder:     emb,
		extractor:    ext,
		logger:       zap.NewNop(),
		recursive:    true,
		batchSize:    1,
		keywordCount: keyword.DefaultCount,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// TryRun is Run without waiting: it returns ErrRunInProgress if another run is active.
func (c *Controller) TryRun(ctx context.Context, root string) (*RunSummary, error) {
	if !c.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	c.running.Store(true)
	defer c.release()
	return c.run(ctx, root)
}

// Run ingests every file under root that the cursor has not settled yet. The summary is
// returned even when the run stops early.
func (c *Controller) Run(ctx context.Context, root string) (*RunSummary, error) {
	c.runMu.Lock()
	c.running.Store(true)
	defer c.release()
	return c.run(ctx, root)
}

// Start claims the controller and runs in the background, calling done when the run ends.
// It returns ErrRunInProgress without starting anything if another run is active.
func (c *Controller) Start(ctx context.Context, root string, done func(*RunSummary, error)) error {
	if !c.runMu.TryLock() {
		return ErrRunInProgress
	}
	c.running.Store(true)
	go func() {
		sum, err := c.run(ctx, root)
		c.release()
		if done != nil {
			done(sum, err)
		}
	}()
	return nil
}

// Wait blocks until the current run, if any, has returned.
func (c *Controller) Wait() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
}

func (c *Controller) release() {
	c.running.Store(false)
	c.runMu.Unlock()
}

// Snapshot runs fn while no append or commit is in flight.
func (c *Controller) Snapshot(ctx context.Context, fn func(context.Context) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(ctx)
}

type prepared struct {
	path     string
	id       models.DocumentID
	text     string
	keywords string
}

func (c *Controller) run(ctx context.Context, root string) (*RunSummary, error) {
	start := time.Now()
	sum := &RunSummary{RunID: uuid.NewString(), Root: root}
	defer func() { sum.Duration = time.Since(start) }()
	log := c.logger.With(zap.String("run_id", sum.RunID))

	if err := c.preflight(ctx, log); err != nil {
		return sum, err
	}

	paths, err := Scan(root, c.extensions, c.recursive)
	if err != nil {
		return sum, err
	}
	sum.Scanned = len(paths)
	cursor, err := c.registry.Cursor(ctx)
	if err != nil {
		return sum, fmt.Errorf("load cursor: %w", err)
	}
	todo := make([]string, 0, len(paths))
	for _, p := range paths {
		if e, done := cursor[p]; done {
			if !changedSinceSkip(p, e) {
				continue
			}
			sum.Retried++
		}
		todo = append(todo, p)
	}
	sum.AlreadyDone = len(paths) - len(todo)
	log.Info("ingestion started",
		zap.String("root", root),
		zap.Int("scanned", sum.Scanned),
		zap.Int("already_done", sum.AlreadyDone),
		zap.Int("retried", sum.Retried),
		zap.Int("todo", len(todo)))

	for lo := 0; lo < len(todo); lo += c.batchSize {
		hi := min(lo+c.batchSize, len(todo))
		stop, err := c.runBatch(ctx, log, sum, todo[lo:hi], len(todo)-hi)
		if err != nil {
			log.Error("ingestion aborted", zap.Error(err), zap.Int("committed", sum.Committed))
			return sum, err
		}
		if stop {
			sum.Paused = true
			log.Info("ingestion paused", zap.Int("committed", sum.Committed))
			return sum, nil
		}
	}
	log.Info("ingestion finished",
		zap.Int("committed", sum.Committed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("duration", time.Since(start)))
	return sum, nil
}

// changedSinceSkip reports whether a skipped source was written at or after its skip was recorded.
// Committed sources never qualify. The cursor keeps whole seconds, so a write in the same second
// as the skip counts as a change.
func changedSinceSkip(path string, e *models.CursorEntry) bool {
	if e.Outcome != models.CursorSkipped {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.ModTime().Truncate(time.Second).Before(e.UpdatedAt)
}

func (c *Controller) preflight(ctx context.Context, log *zap.Logger) error {
	mapped, err := c.registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("count mappings: %w", err)
	}
	vectors := c.index.Count()
	if mapped == vectors {
		return nil
	}
	if c.strictStart {
		return fmt.Errorf("%w: %d vectors, %d mappings", ErrStoresDiverged, vectors, mapped)
	}
	log.Warn("vector index and registry disagree before ingestion; run audit",
		zap.Int("vectors", vectors), zap.Int("mappings", mapped))
	return nil
}

// runBatch extracts, embeds and commits one batch. stop is true when the pause callback asked
// to end the run. remaining counts documents after this batch.
func (c *Controller) runBatch(ctx context.Context, log *zap.Logger, sum *RunSummary, paths []string, remaining int) (stop bool, err error) {
	docs := make([]prepared, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		doc, ok, err := c.extract(ctx, log, sum, path)
		if err != nil {
			return false, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return false, nil
	}

	for _, d := range docs {
		if err := c.notify(Transition{RunID: sum.RunID, SourcePath: d.path, DocumentID: d.id, From: StateExtracting, To: StateEmbedding, Slot: models.NoMatch}); err != nil {
			return false, err
		}
	}
	vectors := c.embed(ctx, log, docs)

	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if vectors[i] == nil {
			sum.Failed++
			continue
		}
		slot, err := c.commit(ctx, sum.RunID, d, vectors[i])
		if err != nil {
			return false, err
		}
		sum.Committed++
		// only documents that own a slot are searchable by text
		c.mirrorText(context.WithoutCancel(ctx), log, d.id, filepath.Base(d.path), d.text, d.keywords)
		log.Debug("document committed",
			zap.String("path", d.path),
			zap.Stringer("document_id", d.id),
			zap.Stringer("slot", slot))

		if c.pause != nil {
			left := remaining + len(docs) - i - 1
			if c.pause(Progress{RunID: sum.RunID, SourcePath: d.path, DocumentID: d.id, Slot: slot, Committed: sum.Committed, Remaining: left}) {
				return true, nil
			}
		}
	}
	return false, nil
}

// extract runs the Extracting step. ok is false when the document was skipped.
func (c *Controller) extract(ctx context.Context, log *zap.Logger, sum *RunSummary, path string) (prepared, bool, error) {
	if err := c.notify(Transition{RunID: sum.RunID, SourcePath: path, From: StateIdle, To: StateExtracting, Slot: models.NoMatch}); err != nil {
		return prepared{}, false, err
	}
	text, err := c.extractor.Extract(path)
	if err != nil {
		log.Warn("skipping document", zap.String("path", path), zap.Error(err))
		if err := c.registry.MarkSkipped(ctx, path, err.Error()); err != nil {
			return prepared{}, false, fmt.Errorf("record skip: %w", err)
		}
		sum.Skipped++
		return prepared{}, false, nil
	}

	keywords := keyword.Summarize(text, c.keywordCount)
	id, err := c.registry.UpsertPending(ctx, registry.PendingDocument{
		SourcePath: path,
		Filename:   filepath.Base(path),
		Content:    text,
		Keywords:   keywords,
	})
	if err != nil {
		return prepared{}, false, fmt.Errorf("record %s: %w", path, err)
	}
	return prepared{path: path, id: id, text: text, keywords: keywords}, true, nil
}

func (c *Controller) mirrorText(ctx context.Context, log *zap.Logger, id models.DocumentID, filename, text, keywords string) {
	if c.text == nil {
		return
	}
	if err := c.text.Index(ctx, id, filename, text, keywords); err != nil {
		log.Warn("text index update failed", zap.Stringer("document_id", id), zap.Error(err))
	}
}

// embed returns one vector per document; a nil entry marks a document whose embedding failed.
// A failed batch request falls back to one request per document.
func (c *Controller) embed(ctx context.Context, log *zap.Logger, docs []prepared) [][]float32 {
	out := make([][]float32, len(docs))
	if len(docs) > 1 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.text
		}
		batch, err := c.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(batch) == len(docs) {
			return batch
		}
		log.Warn("batch embedding failed, retrying one by one", zap.Int("batch", len(docs)), zap.Error(err))
	}
	for i, d := range docs {
		vec, err := c.embedder.Embed(ctx, d.text)
		if err != nil {
			log.Warn("embedding failed; document stays pending", zap.String("path", d.path), zap.Error(err))
			continue
		}
		out[i] = vec
	}
	return out
}

// commit appends vec and records the mapping under the writer lock.
func (c *Controller) commit(ctx context.Context, runID string, d prepared, vec []float32) (models.Slot, error) {
	if err := c.notify(Transition{RunID: runID, SourcePath: d.path, DocumentID: d.id, From: StateEmbedding, To: StateAppending, Slot: models.NoMatch}); err != nil {
		return models.NoMatch, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// no cancellation from here on: the append and the commit belong together
	ctx = context.WithoutCancel(ctx)
	want := models.Slot(c.index.Count())
	slot, err := c.index.Append(ctx, vec)
	if err != nil {
		return models.NoMatch, fmt.Errorf("append %s: %w", d.path, err)
	}
	if slot != want {
		return models.NoMatch, fmt.Errorf("%w: got %d, expected %d", ErrSlotSkew, slot, want)
	}
	if c.indexPath != "" {
		if err := c.index.Save(c.indexPath); err != nil {
			return models.NoMatch, fmt.Errorf("persist vector index: %w", err)
		}
	}

	if err := c.notify(Transition{RunID: runID, SourcePath: d.path, DocumentID: d.id, From: StateAppending, To: StateMappingCommitted, Slot: slot}); err != nil {
		return models.NoMatch, err
	}
	if _, err := c.registry.Commit(ctx, d.id, slot, d.path); err != nil {
		return models.NoMatch, fmt.Errorf("commit mapping for %s: %w", d.path, err)
	}
	if err := c.notify(Transition{RunID: runID, SourcePath: d.path, DocumentID: d.id, From: StateMappingCommitted, To: StateIdle, Slot: slot}); err != nil {
		return slot, err
	}
	return slot, nil
}

func (c *Controller) notify(t Transition) error {
	if c.transition == nil {
		return nil
	}
	if err := c.transition(t); err != nil {
		return fmt.Errorf("%s -> %s for %s: %w", t.From, t.To, t.SourcePath, err)
	}
	return nil
}

// Reprocess re-extracts a committed document and refreshes its text and keywords.
// Its slot and vector are left alone.
func (c *Controller) Reprocess(ctx context.Context, path string) (*models.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	doc, err := c.registry.GetDocumentByPath(ctx, abs)
	if err != nil {
		return nil, err
	}
	if doc.Pending() {
		return nil, fmt.Errorf("%w: %s", ErrNotCommitted, abs)
	}
	text, err := c.extractor.Extract(abs)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", abs, err)
	}
	keywords := keyword.Summarize(text, c.keywordCount)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.UpdateDerived(ctx, doc.ID, text, keywords); err != nil {
		return nil, err
	}
	c.mirrorText(ctx, c.logger, doc.ID, doc.Filename, text, keywords)
	c.logger.Info("document reprocessed", zap.String("path", abs), zap.Stringer("document_id", doc.ID))
	doc.Content = text
	doc.Keywords = keywords
	return doc, nil
}
