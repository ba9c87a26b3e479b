package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/models"
	"github.com/hyperjump/docslot/internal/query"
	"github.com/hyperjump/docslot/internal/registry"
)

const defaultSampleSize = 5

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("k", req.K))
	resp, err := s.resolver.Search(r.Context(), req)
	if errors.Is(err, query.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
	hits, err := s.resolver.TextSearch(r.Context(), q.Get("q"), limit, fuzzy)
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, query.ErrNoTextIndex):
		s.respondError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		s.logger.Error("text search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q.Get("q"), "hits": hits})
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))
	report, err := s.auditor.Run(r.Context(), deep)
	if err != nil {
		s.logger.Error("audit failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	n := defaultSampleSize
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.respondError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}
	docs, err := s.registry.Sample(r.Context(), n)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := s.registry.GetDocument(r.Context(), models.DocumentID(id))
	if errors.Is(err, registry.ErrUnknownDocument) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

type ingestRequest struct {
	Root string `json:"root,omitempty"`
}

var errOutsideCorpus = errors.New("root must be the corpus directory or one of its subdirectories")

// corpusSubtree resolves root against the corpus directory and rejects anything outside it.
// Relative roots are taken relative to the corpus.
func corpusSubtree(corpus, root string) (string, error) {
	if corpus == "" {
		return "", errors.New("no corpus directory configured")
	}
	base, err := filepath.Abs(corpus)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}
	root = filepath.Clean(root)
	rel, err := filepath.Rel(resolveLinks(base), resolveLinks(root))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideCorpus
	}
	return root, nil
}

// resolveLinks follows symlinks when path exists, so a link cannot lead out of the corpus.
func resolveLinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Root == "" {
		req.Root = s.config.Corpus.Directory
	} else {
		root, err := corpusSubtree(s.config.Corpus.Directory, req.Root)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Root = root
	}
	err := s.controller.Start(s.ctx, req.Root, s.recordRun)
	if errors.Is(err, ingest.ErrRunInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("ingestion started over HTTP", zap.String("root", req.Root))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "root": req.Root})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mapped, err := s.registry.Count(ctx)
	if err != nil {
		s.logger.Error("status: count mappings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.registry.PendingCount(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"mapped":            mapped,
		"pending":           pending,
		"vectors":           s.index.Count(),
		"in_sync":           mapped == s.index.Count(),
		"dimensions":        s.index.Dimensions(),
		"vector_index_type": s.index.Type(),
		"ingesting":         s.controller.Running(),
	}
	if last := s.lastRunStatus(); last != nil {
		resp["last_run"] = last
	}

	st := s.config.Storage
	sizes, total, err := registry.StoreUsage(map[string]string{
		"registry":     st.DatabasePath,
		"vector_index": st.VectorIndexPath,
		"text_index":   st.TextIndexPath,
	})
	if err == nil {
		resp["disk_usage_bytes"] = total
		resp["store_bytes"] = sizes
	}
	resp["config"] = map[string]interface{}{
		"corpus":             s.config.Corpus.Directory,
		"sqlite_driver":      st.Driver,
		"embedding_provider": s.config.Embedding.Provider,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
