package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/extract"
	"github.com/hyperjump/docslot/internal/keyword"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

const dims = 4

type fixture struct {
	corpus string
	reg    *registry.SQLiteRegistry
	index  *vector.MemoryIndex
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		writeFile(t, filepath.Join(corpus, name), body)
	}
	reg, err := registry.Open(filepath.Join(dir, "registry.db"), registry.WithDriver(registry.DriverPure))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	idx, err := vector.NewMemoryIndex(dims)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{corpus: corpus, reg: reg, index: idx}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

// touch sets the modification time of path to now+offset.
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	at := time.Now().Add(offset)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) controller(opts ...Option) *Controller {
	return f.controllerWith(embedding.NewMockEmbedder(dims), opts...)
}

func (f *fixture) controllerWith(emb embedding.Embedder, opts ...Option) *Controller {
	return NewController(f.reg, f.index, emb, extract.NewExtractor(), opts...)
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.corpus, name)
}

// slotOf returns the committed slot of a corpus file, or NoMatch.
func (f *fixture) slotOf(t *testing.T, name string) models.Slot {
	t.Helper()
	doc, err := f.reg.GetDocumentByPath(context.Background(), f.path(name))
	if err != nil || doc.Slot == nil {
		return models.NoMatch
	}
	return *doc.Slot
}

// poisonEmbedder fails on any text containing "poison"; its batch call fails whenever any input does.
type poisonEmbedder struct {
	*embedding.MockEmbedder
	batchCalls int
}

func (p *poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "poison") {
		return nil, errors.New("model rejected input")
	}
	return p.MockEmbedder.Embed(ctx, text)
}

func (p *poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.batchCalls++
	for _, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("model rejected batch")
		}
	}
	return p.MockEmbedder.EmbedBatch(ctx, texts)
}

var abc = map[string]string{
	"a.txt": "alpha document about cattle",
	"b.txt": "beta document about sheep",
	"c.txt": "gamma document about goats",
}

func TestRun_AssignsSlotsInCorpusOrder(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()

	sum, err := f.controller().Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Scanned != 3 || sum.Committed != 3 || sum.Skipped != 0 || sum.Paused {
		t.Errorf("summary = %+v", sum)
	}
	if sum.RunID == "" {
		t.Error("summary has no run id")
	}
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if got := f.slotOf(t, name); got != models.Slot(i) {
			t.Errorf("%s slot = %d, want %d", name, got, i)
		}
	}
	mapped, _ := f.reg.Count(ctx)
	if mapped != f.index.Count() {
		t.Errorf("mapped %d != vectors %d", mapped, f.index.Count())
	}
}

func TestRun_ResumeIsIdempotent(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	c := f.controller()
	if _, err := c.Run(ctx, f.corpus); err != nil {
		t.Fatal(err)
	}
	sum, err := c.Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 0 || sum.AlreadyDone != 3 {
		t.Errorf("second run = %+v", sum)
	}
	if f.index.Count() != 3 {
		t.Errorf("vector count = %d after rerun", f.index.Count())
	}

	writeFile(t, f.path("d.txt"), "delta document about pigs")
	sum, err = c.Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 1 || f.slotOf(t, "d.txt") != 3 {
		t.Errorf("new file run = %+v, slot %d", sum, f.slotOf(t, "d.txt"))
	}
}

func TestRun_SkipsUnextractableDocuments(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt":     "readable",
		"blank.txt": "   \n ",
		"c.txt":     "also readable",
	})
	touch(t, f.path("blank.txt"), -time.Hour)
	ctx := context.Background()
	sum, err := f.controller().Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 2 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if f.slotOf(t, "c.txt") != 1 {
		t.Errorf("skip must not consume a slot; c.txt slot = %d", f.slotOf(t, "c.txt"))
	}
	cursor, _ := f.reg.Cursor(ctx)
	entry := cursor[f.path("blank.txt")]
	if entry == nil || entry.Outcome != models.CursorSkipped {
		t.Errorf("blank file cursor entry = %+v", entry)
	}

	sum, _ = f.controller().Run(ctx, f.corpus)
	if sum.Skipped != 0 || sum.AlreadyDone != 3 {
		t.Errorf("skipped file retried: %+v", sum)
	}
}

func TestRun_RetriesSkippedSourceAfterItChanges(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt":     "readable",
		"blank.txt": "",
	})
	touch(t, f.path("blank.txt"), -time.Hour)
	ctx := context.Background()
	if sum, err := f.controller().Run(ctx, f.corpus); err != nil || sum.Skipped != 1 {
		t.Fatalf("first run = %+v, %v", sum, err)
	}

	// the copy finishes after the skip was recorded
	writeFile(t, f.path("blank.txt"), "late content about llamas")
	touch(t, f.path("blank.txt"), time.Hour)
	touch(t, f.path("a.txt"), time.Hour)
	sum, err := f.controller().Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Retried != 1 || sum.Committed != 1 || sum.AlreadyDone != 1 {
		t.Fatalf("retry run = %+v", sum)
	}
	if f.slotOf(t, "a.txt") != 0 || f.slotOf(t, "blank.txt") != 1 {
		t.Errorf("slots a=%d blank=%d", f.slotOf(t, "a.txt"), f.slotOf(t, "blank.txt"))
	}
	cursor, _ := f.reg.Cursor(ctx)
	if e := cursor[f.path("blank.txt")]; e == nil || e.Outcome != models.CursorCommitted {
		t.Errorf("cursor entry = %+v", e)
	}

	// committed sources stay done even when they are newer than their cursor entry
	sum, _ = f.controller().Run(ctx, f.corpus)
	if sum.Retried != 0 || sum.Committed != 0 || sum.AlreadyDone != 2 || f.index.Count() != 2 {
		t.Errorf("third run = %+v, vectors = %d", sum, f.index.Count())
	}
}

func TestRun_PauseAndResume(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	var seen []Progress
	pauseAfterFirst := WithPause(func(p Progress) bool {
		seen = append(seen, p)
		return true
	})

	sum, err := f.controller(pauseAfterFirst).Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Paused || sum.Committed != 1 {
		t.Fatalf("paused run = %+v", sum)
	}
	if len(seen) != 1 || seen[0].Slot != 0 || seen[0].Remaining != 2 {
		t.Errorf("progress = %+v", seen)
	}

	sum, err = f.controller().Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 2 || sum.AlreadyDone != 1 {
		t.Errorf("resumed run = %+v", sum)
	}
	if f.slotOf(t, "c.txt") != 2 {
		t.Errorf("c.txt slot = %d", f.slotOf(t, "c.txt"))
	}
}

func TestRun_CrashBeforeCommitLeavesOrphanVector(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	crash := errors.New("power cut")
	var states []State
	c := f.controller(WithTransition(func(tr Transition) error {
		if filepath.Base(tr.SourcePath) == "c.txt" {
			states = append(states, tr.To)
			if tr.To == StateMappingCommitted {
				return crash
			}
		}
		return nil
	}))

	_, err := c.Run(ctx, f.corpus)
	if !errors.Is(err, crash) {
		t.Fatalf("Run error = %v, want crash", err)
	}
	mapped, _ := f.reg.Count(ctx)
	if f.index.Count() != 3 || mapped != 2 {
		t.Errorf("vectors = %d mapped = %d, want 3 and 2", f.index.Count(), mapped)
	}
	want := []State{StateExtracting, StateEmbedding, StateAppending, StateMappingCommitted}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
	cursor, _ := f.reg.Cursor(ctx)
	if _, ok := cursor[f.path("c.txt")]; ok {
		t.Error("uncommitted document advanced the cursor")
	}
}

func TestRun_EmbeddingFailureLeavesDocumentPending(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt": "fine text",
		"b.txt": "poison text",
		"c.txt": "more fine text",
	})
	ctx := context.Background()
	emb := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}

	sum, err := f.controllerWith(emb, WithBatchSize(3)).Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if emb.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", emb.batchCalls)
	}
	if f.slotOf(t, "a.txt") != 0 || f.slotOf(t, "c.txt") != 1 || f.slotOf(t, "b.txt") != models.NoMatch {
		t.Errorf("slots a=%d b=%d c=%d", f.slotOf(t, "a.txt"), f.slotOf(t, "b.txt"), f.slotOf(t, "c.txt"))
	}
	pending, _ := f.reg.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}

	// the pending document is retried and keeps its identity
	before, _ := f.reg.GetDocumentByPath(ctx, f.path("b.txt"))
	sum, err = f.controller().Run(ctx, f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := f.reg.GetDocumentByPath(ctx, f.path("b.txt"))
	if sum.Committed != 1 || after.ID != before.ID || *after.Slot != 2 {
		t.Errorf("retry = %+v, doc %+v", sum, after)
	}
}

func TestRun_BatchedEmbedding(t *testing.T) {
	files := map[string]string{}
	for _, n := range []string{"1", "2", "3", "4", "5"} {
		files[n+".md"] = "document number " + n
	}
	f := newFixture(t, files)
	emb := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}
	sum, err := f.controllerWith(emb, WithBatchSize(2)).Run(context.Background(), f.corpus)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Committed != 5 || emb.batchCalls != 2 {
		t.Errorf("summary = %+v, batch calls = %d", sum, emb.batchCalls)
	}
	if f.slotOf(t, "5.md") != 4 {
		t.Errorf("5.md slot = %d", f.slotOf(t, "5.md"))
	}
}

func TestRun_StrictStartRefusesDivergedStores(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	if _, err := f.index.Append(ctx, []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.controller(WithStrictStart(true)).Run(ctx, f.corpus); !errors.Is(err, ErrStoresDiverged) {
		t.Errorf("strict run error = %v", err)
	}
	if f.index.Count() != 1 {
		t.Error("strict run touched the index")
	}
}

func TestRun_CommitRejectsOwnedSlot(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	// the registry claims slot 0 for a document the index never saw
	id, _ := f.reg.UpsertPending(ctx, registry.PendingDocument{SourcePath: "/elsewhere/x.txt", Filename: "x.txt"})
	if _, err := f.reg.Commit(ctx, id, 0, "/elsewhere/x.txt"); err != nil {
		t.Fatal(err)
	}
	_, err := f.controller().Run(ctx, f.corpus)
	if !errors.Is(err, registry.ErrSlotTaken) {
		t.Errorf("Run error = %v, want ErrSlotTaken", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, abc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.controller().Run(ctx, f.corpus); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v", err)
	}
	if f.index.Count() != 0 {
		t.Error("cancelled run appended vectors")
	}
}

func TestTryRun_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, abc)
	var c *Controller
	var nested error
	c = f.controller(WithTransition(func(tr Transition) error {
		if nested == nil {
			_, nested = c.TryRun(context.Background(), f.corpus)
			if !c.Running() {
				t.Error("Running() false during a run")
			}
		}
		return nil
	}))
	if _, err := c.TryRun(context.Background(), f.corpus); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nested, ErrRunInProgress) {
		t.Errorf("nested TryRun error = %v", nested)
	}
	if c.Running() {
		t.Error("Running() true after the run")
	}
}

func TestStart_WaitReturnsAfterBackgroundRun(t *testing.T) {
	f := newFixture(t, abc)
	c := f.controller()
	done := make(chan *RunSummary, 1)
	if err := c.Start(context.Background(), f.corpus, func(sum *RunSummary, err error) {
		if err != nil {
			t.Error(err)
		}
		done <- sum
	}); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if c.Running() || f.index.Count() != 3 {
		t.Errorf("after Wait: running=%v vectors=%d", c.Running(), f.index.Count())
	}
	if sum := <-done; sum == nil || sum.Committed != 3 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_PersistsIndexAndMirrorsText(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	indexPath := filepath.Join(t.TempDir(), "vectors.bin")
	text, err := keyword.NewMemoryTextIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer text.Close()

	if _, err := f.controller(WithIndexPath(indexPath), WithTextIndex(text)).Run(ctx, f.corpus); err != nil {
		t.Fatal(err)
	}
	reloaded, _ := vector.NewMemoryIndex(dims)
	if err := reloaded.Load(indexPath); err != nil {
		t.Fatal(err)
	}
	if reloaded.Count() != 3 {
		t.Errorf("persisted count = %d", reloaded.Count())
	}
	hits, err := text.Search(ctx, "sheep", 5, nil)
	if err != nil || len(hits) != 1 || hits[0].Filename != "b.txt" {
		t.Errorf("text hits = %+v, %v", hits, err)
	}
}

func TestRun_SkipClearsEarlierPendingRow(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "poison text"})
	ctx := context.Background()
	emb := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}
	if sum, err := f.controllerWith(emb).Run(ctx, f.corpus); err != nil || sum.Failed != 1 {
		t.Fatalf("first run = %+v, %v", sum, err)
	}
	if n, _ := f.reg.PendingCount(ctx); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	writeFile(t, f.path("a.txt"), " ")
	sum, err := f.controller().Run(ctx, f.corpus)
	if err != nil || sum.Skipped != 1 {
		t.Fatalf("second run = %+v, %v", sum, err)
	}
	if n, _ := f.reg.PendingCount(ctx); n != 0 {
		t.Errorf("pending after skip = %d, want 0", n)
	}
}

func TestRun_MirrorsTextOnlyForCommittedDocuments(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt": "fine text about cattle",
		"b.txt": "poison text about cattle",
	})
	ctx := context.Background()
	text, err := keyword.NewMemoryTextIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer text.Close()
	emb := &poisonEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}

	if _, err := f.controllerWith(emb, WithTextIndex(text)).Run(ctx, f.corpus); err != nil {
		t.Fatal(err)
	}
	hits, err := text.Search(ctx, "cattle", 5, nil)
	if err != nil || len(hits) != 1 || hits[0].Filename != "a.txt" {
		t.Fatalf("hits with b.txt pending = %+v, %v", hits, err)
	}

	if _, err := f.controller(WithTextIndex(text)).Run(ctx, f.corpus); err != nil {
		t.Fatal(err)
	}
	if n, _ := text.DocCount(); n != 2 {
		t.Errorf("text documents after retry = %d, want 2", n)
	}
}

func TestReprocess(t *testing.T) {
	f := newFixture(t, abc)
	ctx := context.Background()
	c := f.controller(WithKeywordCount(2))
	if _, err := c.Run(ctx, f.corpus); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.path("b.txt"), "rewritten beta text")
	doc, err := c.Reprocess(ctx, f.path("b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Keywords != "rewritten, beta" || *doc.Slot != 1 {
		t.Errorf("doc = %+v", doc)
	}
	stored, _ := f.reg.GetDocumentByPath(ctx, f.path("b.txt"))
	if stored.Content != "rewritten beta text" || *stored.Slot != 1 {
		t.Errorf("stored = %+v", stored)
	}
	if f.index.Count() != 3 {
		t.Error("reprocess appended a vector")
	}

	if _, err := c.Reprocess(ctx, f.path("missing.txt")); !errors.Is(err, registry.ErrUnknownDocument) {
		t.Errorf("reprocess unknown error = %v", err)
	}
}

func TestSnapshotRunsCallback(t *testing.T) {
	f := newFixture(t, nil)
	called := false
	err := f.controller().Snapshot(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("Snapshot err=%v called=%v", err, called)
	}
}
