// Package server exposes the briefing pipeline over HTTP: JSON endpoints for
// individual stages, SSE endpoints for streamed runs, and artifact reads.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/niyazmukh/content-pipeline-sub001/internal/artifacts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/cluster"
	"github.com/niyazmukh/content-pipeline-sub001/internal/config"
	"github.com/niyazmukh/content-pipeline-sub001/internal/fetch"
	"github.com/niyazmukh/content-pipeline-sub001/internal/llm"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/outline"
	"github.com/niyazmukh/content-pipeline-sub001/internal/retrieve"
	"github.com/niyazmukh/content-pipeline-sub001/internal/synth"
)

// Server wires the pipeline components behind the HTTP API. The LLM gate and
// the extraction stage (with its per-host semaphores) are shared across runs;
// everything keyed by request credentials is built per request.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	store      artifacts.Store

	client      *llm.Client
	stage       *retrieve.Stage
	clusterer   *cluster.Clusterer
	outliner    *outline.Generator
	synthesizer *synth.Synthesizer
}

// New creates the server and its shared pipeline components.
func New(cfg *config.Config, store artifacts.Store) *Server {
	client := llm.NewClient(llm.NewGate(), cfg.Gemini)
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		store:       store,
		client:      client,
		stage:       retrieve.NewStage(fetch.NewExtractor(), cfg.Retrieval.GlobalConcurrency, cfg.Retrieval.PerHostConcurrency),
		clusterer:   cluster.New(cfg.Retrieval.ClusterThreshold, cfg.Retrieval.AttachThreshold),
		outliner:    outline.NewGenerator(client),
		synthesizer: synth.NewSynthesizer(client),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE responses stay open for the whole run; the
		// per-run deadline comes from retrieval.total_budget_ms instead.
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept", "Content-Type",
				headerGeminiKey, headerGeminiRPM,
				headerGoogleCSEKey, headerGoogleCSECX,
				headerNewsAPIKey, headerEventRegistryKey,
			},
			MaxAge: 300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)
		r.Get("/config", s.handleConfig)

		// EventSource can only issue GETs; POST stays for curl and tests.
		r.Get("/run-agent-stream", s.handleRunAgentStream)
		r.Post("/run-agent-stream", s.handleRunAgentStream)
		r.Get("/retrieve-stream", s.handleRetrieveStream)
		r.Post("/retrieve-stream", s.handleRetrieveStream)
		r.Get("/retrieve-candidates", s.handleRetrieveCandidates)
		r.Post("/retrieve-candidates", s.handleRetrieveCandidates)
		r.Post("/extract-batch", s.handleExtractBatch)
		r.Post("/cluster-articles", s.handleClusterArticles)
		r.Post("/generate-outline-stream", s.handleOutlineStream)
		r.Post("/targeted-research-stream", s.handleTargetedResearchStream)
		r.Post("/generate-article-stream", s.handleArticleStream)
		r.Post("/generate-image-prompt-stream", s.handleImagePromptStream)

		r.Get("/runs/{runId}/artifacts/{kind}", s.handleReadArtifact)
		r.Get("/article/{id}", s.handleReadArticle)
		r.Get("/normalized/{articleId}", s.handleReadNormalized)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	logger.Info("HTTP server listening", "addr", s.httpServer.Addr, "serverless_host", s.cfg.ServerlessHost())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// heartbeatInterval returns the configured SSE heartbeat period.
func (s *Server) heartbeatInterval() time.Duration {
	ms := s.cfg.Server.HeartbeatIntervalMs
	if ms <= 0 {
		ms = 15000
	}
	return time.Duration(ms) * time.Millisecond
}

// runBudget returns the wall-clock budget for one full run.
func (s *Server) runBudget() time.Duration {
	ms := s.cfg.Retrieval.TotalBudgetMs
	if ms <= 0 {
		ms = 180000
	}
	return time.Duration(ms) * time.Millisecond
}
