// Package server exposes search, audit and ingestion over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docslot/internal/audit"
	"github.com/hyperjump/docslot/internal/config"
	"github.com/hyperjump/docslot/internal/ingest"
	"github.com/hyperjump/docslot/internal/query"
	"github.com/hyperjump/docslot/internal/registry"
	"github.com/hyperjump/docslot/internal/vector"
)

// Server is the HTTP front end over one set of stores.
type Server struct {
	resolver   *query.Resolver
	controller *ingest.Controller
	auditor    *audit.Auditor
	registry   registry.Registry
	index      vector.Index
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server

	// ctx outlives requests so background ingestion is not cut off when the 202 is written.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastRun *runStatus
}

type runStatus struct {
	Summary *ingest.RunSummary `json:"summary"`
	Error   string             `json:"error,omitempty"`
}

// NewServer creates a server with the given dependencies.
func NewServer(
	resolver *query.Resolver,
	controller *ingest.Controller,
	auditor *audit.Auditor,
	reg registry.Registry,
	idx vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		resolver:   resolver,
		controller: controller,
		auditor:    auditor,
		registry:   reg,
		index:      idx,
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/search", s.handleSearch)
		r.Get("/search/text", s.handleTextSearch)
		r.Get("/audit", s.handleAudit)
		r.Get("/sample", s.handleSample)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop cancels background ingestion and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) recordRun(sum *ingest.RunSummary, err error) {
	st := &runStatus{Summary: sum}
	if err != nil {
		st.Error = err.Error()
		s.logger.Error("background ingestion failed", zap.Error(err))
	}
	s.mu.Lock()
	s.lastRun = st
	s.mu.Unlock()
}

func (s *Server) lastRunStatus() *runStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
