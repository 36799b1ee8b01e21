package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/bookcore/internal/config"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/pipeline"
	"github.com/dgallion1/bookcore/internal/worker"
)

// prefetchAhead is how many pages after the one just served are warmed.
const prefetchAhead = 2

// Server is the HTTP API server for bookcore.
type Server struct {
	router       chi.Router
	registry     *document.Registry
	docOpts      document.Options
	sessions     *SessionStore
	orchestrator *pipeline.Orchestrator
	runner       worker.Runner
	pool         *pipeline.Pool
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. Searches run on runner.
func NewServer(reg *document.Registry, docOpts document.Options, orch *pipeline.Orchestrator, runner worker.Runner, pool *pipeline.Pool, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		registry:     reg,
		docOpts:      docOpts,
		sessions:     NewSessionStore(cfg.SessionTTL, log),
		orchestrator: orch,
		runner:       runner,
		pool:         pool,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close closes every open document.
func (s *Server) Close() {
	s.sessions.CloseAll()
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/formats", s.handleFormats)
		r.Get("/api/stats", s.handleStats)

		r.Post("/api/documents", s.handleOpen)
		r.Get("/api/documents", s.handleListDocuments)
		r.Route("/api/documents/{sessionID}", func(r chi.Router) {
			r.Use(s.sessionCtx)
			r.Get("/", s.handleDocument)
			r.Delete("/", s.handleCloseDocument)
			r.Get("/toc", s.handleTOC)
			r.Get("/metadata", s.handleMetadata)
			r.Put("/mode", s.handleSetMode)
			r.Get("/pages/{page}", s.handlePage)
			r.Get("/pages/{page}/segments", s.handleSegments)
			r.Get("/links", s.handleResolveLink)
			r.Get("/search", s.handleSearch)
			r.Post("/export", s.handleExport)
		})

		r.Get("/api/exports/{jobID}", s.handleExportStatus)
		r.Delete("/api/exports/{jobID}", s.handleCancelExport)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
