package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reportd/internal/core"
	"reportd/internal/store"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer  *http.Server
	router      *chi.Mux
	store       *store.Store
	coordinator *core.Coordinator
	poller      *core.Poller
	logger      *slog.Logger
	location    *time.Location
	authToken   string
}

// NewServer constructs the HTTP API server.
func NewServer(addr, authToken string, store *store.Store, coordinator *core.Coordinator, poller *core.Poller, logger *slog.Logger, location *time.Location) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:      router,
		store:       store,
		coordinator: coordinator,
		poller:      poller,
		logger:      logger,
		location:    location,
		authToken:   authToken,
	}
	s.registerRoutes()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = httpServer
	return s, nil
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/schedule/preview", s.handleSchedulePreview)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Post("/", s.handleCreateReport)

			r.Route("/{reportID}", func(r chi.Router) {
				r.Get("/", s.handleGetReport)
				r.Patch("/", s.handleUpdateReport)
				r.Delete("/", s.handleDeleteReport)
				r.Post("/run", s.handleRunReport)
				r.Get("/results", s.handleListResults)
			})
		})

		r.Route("/results", func(r chi.Router) {
			r.Get("/{resultID}", s.handleGetResult)
			r.Get("/{resultID}/visualization", s.handleGetVisualization)
			r.Post("/{resultID}/visualization", s.handleAttachVisualization)
		})
	})
}
