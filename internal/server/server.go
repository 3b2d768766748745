package server

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/engine"
	"dqaudit/internal/rules"
	"dqaudit/internal/trend"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Backend is what the API reads from and triggers. *engine.Engine
// implements it.
type Backend interface {
	Execute(ctx context.Context, selector string) (engine.Evaluation, error)
	Evaluate(ctx context.Context, batchID string) (engine.Evaluation, error)
	ListRules() []rules.Rule
	History(ctx context.Context, checkName string) ([]audit.Record, error)
	Batches(ctx context.Context, limit int) ([]audit.BatchInfo, error)
	Trend(ctx context.Context, checkName string) (trend.Series, error)
	Trends(ctx context.Context) ([]trend.Series, error)
	MetricsHandler() http.Handler
}

const (
	defaultRunTimeout   = 10 * time.Minute
	defaultBatchesLimit = 20
	shutdownGrace       = 10 * time.Second
)

type Server struct {
	backend    Backend
	runTimeout time.Duration
	version    string
}

type Option func(*Server)

// WithRunTimeout bounds batches triggered over HTTP. A batch outlives the
// request that triggered it, up to this limit.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func New(b Backend, opts ...Option) *Server {
	s := &Server{backend: b, runTimeout: defaultRunTimeout, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.backend.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/verdicts", s.verdicts)
		r.Post("/runs", s.triggerRun)
		r.Get("/batches", s.batches)
		r.Get("/batches/{batchID}", s.batch)
		r.Get("/trends", s.trends)
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Get("/{name}/history", s.ruleHistory)
			r.Get("/{name}/trend", s.ruleTrend)
		})
	})
	return r
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
