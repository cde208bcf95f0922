package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/feedcourier/feedcourier/pkg/domain"
	"github.com/feedcourier/feedcourier/pkg/feed"
)

// SourceStore is the admin layer's view of persisted sources. All calls are
// safe concurrently with an in-progress poll tick - the store is the
// synchronization point.
type SourceStore interface {
	CreateSource(ctx context.Context, src *domain.Source) error
	GetSource(ctx context.Context, id int64) (*domain.Source, error)
	ListSources(ctx context.Context) ([]*domain.Source, error)
	DeleteSource(ctx context.Context, id int64) error
}

// Scheduler interface for on-demand operations
type Scheduler interface {
	PollNow(ctx context.Context, sourceID int64) error
}

// Resolver turns an arbitrary page URL into a feed URL
type Resolver interface {
	Discover(ctx context.Context, pageURL string) (string, error)
}

// Fetcher retrieves feed metadata for naming newly added sources
type Fetcher interface {
	Fetch(ctx context.Context, r feed.Request) feed.Result
}

// Config holds server configuration
type Config struct {
	Listen          string
	Timeout         time.Duration
	Version         string
	Debug           bool
	DefaultInterval int // seconds, initial poll interval for new sources
	WarmupCycles    int
}

// Server represents the admin HTTP server instance
type Server struct {
	store     SourceStore
	scheduler Scheduler
	resolver  Resolver
	fetcher   Fetcher
	cfg       Config

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(store SourceStore, scheduler Scheduler, resolver Resolver, fetcher Fetcher, cfg Config) *Server {
	s := &Server{
		store:     store,
		scheduler: scheduler,
		resolver:  resolver,
		fetcher:   fetcher,
		cfg:       cfg,
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting server on %s", s.cfg.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("feedcourier", "feedcourier", s.cfg.Version))
	s.router.Use(rest.Ping)

	if s.cfg.Debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /sources", s.listSourcesHandler)
		r.HandleFunc("POST /sources", s.createSourceHandler)
		r.HandleFunc("GET /sources/{id}", s.getSourceHandler)
		r.HandleFunc("DELETE /sources/{id}", s.deleteSourceHandler)
		r.HandleFunc("POST /sources/{id}/poll", s.pollSourceHandler)
	})
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
