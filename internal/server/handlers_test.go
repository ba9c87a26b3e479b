package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/audit"
	"github.com/hyperjump/docslot/internal/config"
	"github.com/hyperjump/docslot/internal/embedding"
	"github.com/hyperjump/docslot/internal/extract"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/query"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

type testEnv struct {
	srv        *Server
	handler    http.Handler
	controller *ingest.Controller
	corpus     string
}

func newTestEnv(t *testing.T, opts ...ingest.Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"a.txt": "alpha cattle", "b.txt": "beta sheep", "c.txt": "gamma goats"} {
		if err := os.WriteFile(filepath.Join(corpus, name), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Corpus.Directory = corpus
	cfg.Storage.Driver = registry.DriverPure
	cfg.Storage.DatabasePath = filepath.Join(dir, "registry.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.bin")
	cfg.Storage.TextIndexPath = ""

	reg, err := registry.Open(cfg.Storage.DatabasePath, registry.WithDriver(registry.DriverPure))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	idx, _ := vector.NewMemoryIndex(8)
	emb := embedding.NewMockEmbedder(8)
	ctrl := ingest.NewController(reg, idx, emb, extract.NewExtractor(), opts...)
	aud := audit.NewAuditor(reg, idx, audit.WithEmbedder(emb), audit.WithSnapshotter(ctrl))
	res := query.NewResolver(reg, idx, emb)
	srv := NewServer(res, ctrl, aud, reg, idx, cfg, zap.NewNop())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &testEnv{srv: srv, handler: srv.Handler(), controller: ctrl, corpus: corpus}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) ingest(t *testing.T) {
	t.Helper()
	if _, err := e.controller.Run(context.Background(), e.corpus); err != nil {
		t.Fatal(err)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "beta sheep", K: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	decode(t, w, &resp)
	if len(resp.Hits) != 2 || resp.Hits[0].Filename != "b.txt" || resp.Hits[0].Slot != 1 {
		t.Errorf("response = %+v", resp)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: " "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank query status: got %d", w.Code)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status: got %d", rec.Code)
	}
}

func TestHandleTextSearch_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/v1/search/text?q=alpha", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	w := env.do(t, http.MethodGet, "/api/v1/documents/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var doc models.Document
	decode(t, w, &doc)
	if doc.Filename != "a.txt" || doc.Slot == nil || *doc.Slot != 0 {
		t.Errorf("doc = %+v", doc)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/documents/99", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status: got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/documents/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status: got %d", w.Code)
	}
}

func TestHandleAuditAndSample(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	w := env.do(t, http.MethodGet, "/api/v1/audit?deep=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status: got %d", w.Code)
	}
	var report models.AuditReport
	decode(t, w, &report)
	if !report.Clean || !report.Deep || report.VectorCount != 3 {
		t.Errorf("report = %+v", report)
	}

	w = env.do(t, http.MethodGet, "/api/v1/sample?n=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sample status: got %d", w.Code)
	}
	var sample struct {
		Documents []*models.Document `json:"documents"`
	}
	decode(t, w, &sample)
	if len(sample.Documents) != 2 || sample.Documents[0].Filename != "a.txt" {
		t.Errorf("sample = %+v", sample.Documents)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/sample?n=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad n status: got %d", w.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	env := newTestEnv(t, ingest.WithTransition(func(ingest.Transition) error {
		once.Do(func() { <-release })
		return nil
	}))

	if w := env.do(t, http.MethodPost, "/api/v1/ingest", nil); w.Code != http.StatusAccepted {
		t.Fatalf("first ingest status: got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/ingest", nil); w.Code != http.StatusConflict {
		t.Errorf("concurrent ingest status: got %d", w.Code)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for env.srv.lastRunStatus() == nil {
		if time.Now().After(deadline) {
			t.Fatal("background ingestion did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	last := env.srv.lastRunStatus()
	if last.Error != "" || last.Summary.Committed != 3 {
		t.Errorf("last run = %+v", last)
	}

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var status map[string]interface{}
	decode(t, w, &status)
	if status["mapped"] != float64(3) || status["vectors"] != float64(3) || status["in_sync"] != true {
		t.Errorf("status = %v", status)
	}
	if _, ok := status["last_run"]; !ok {
		t.Error("status missing last_run")
	}
}

func TestHandleIngest_RootMustStayInCorpus(t *testing.T) {
	env := newTestEnv(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("not corpus"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(env.corpus, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	for _, root := range []string{outside, "..", "../corpus-other", link, "/"} {
		w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestRequest{Root: root})
		if w.Code != http.StatusBadRequest {
			t.Errorf("root %q: got %d, want 400", root, w.Code)
		}
	}
	if env.controller.Running() || env.srv.lastRunStatus() != nil {
		t.Fatal("a rejected root started a run")
	}

	sub := filepath.Join(env.corpus, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "d.txt"), []byte("delta llamas"), 0600); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestRequest{Root: "sub"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("subdirectory root: got %d (%s)", w.Code, w.Body.String())
	}
	env.controller.Wait()
	deadline := time.Now().Add(5 * time.Second)
	for env.srv.lastRunStatus() == nil {
		if time.Now().After(deadline) {
			t.Fatal("background ingestion did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	last := env.srv.lastRunStatus()
	if last.Error != "" || last.Summary.Committed != 1 || last.Summary.Root != sub {
		t.Errorf("last run = %+v", last.Summary)
	}
}
