// Package httpapi exposes daemon status and manual scan triggers over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/service"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Service is the daemon as seen by the API.
type Service interface {
	Status() service.Status
	Jobs() []*jobs.Job
	Job(id string) (*jobs.Job, bool)
	ScanFile(ctx context.Context, path, origin string) (*service.FileResult, error)
	TriggerSweep(origin string)
}

type Server struct {
	svc   Service
	token string

	streamInterval time.Duration

	router chi.Router

	mu     sync.Mutex
	server *http.Server
	closed bool
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on mutating routes.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithStreamInterval sets how often /api/jobs/stream pushes the job list.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown also prevents a later ListenAndServe from starting.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/stream", s.handleJobStream)
		r.Get("/jobs/{id}", s.handleGetJob)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.token))
			r.Use(maxBodySize(maxBodyBytes))
			r.Post("/scan", s.handleScan)
		})
	})
	s.router = r
}
