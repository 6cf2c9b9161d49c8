package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/recall/internal/lifecycle"
	"github.com/lazypower/recall/internal/resilience"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/store"
)

// Server exposes the memory store's search and maintenance surfaces over
// HTTP for local clients and diagnostics.
type Server struct {
	db        *store.DB
	engine    *search.Engine
	manager   *lifecycle.Manager
	scheduler *lifecycle.Scheduler
	res       *resilience.Coordinator

	httpServer *http.Server
}

// New assembles the HTTP server around its collaborators.
func New(db *store.DB, engine *search.Engine, manager *lifecycle.Manager, scheduler *lifecycle.Scheduler, res *resilience.Coordinator) *Server {
	return &Server{
		db:        db,
		engine:    engine,
		manager:   manager,
		scheduler: scheduler,
		res:       res,
	}
}

// Handler builds the chi router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s.routes(r)
	return r
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("server: listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
