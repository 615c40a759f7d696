// Package server is the HTTP surface: uploads, asset CRUD, module triggers,
// the websocket progress feed, file serving, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/broadcast"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/orchestrator"
	"github.com/soundguard-ai/soundguard/internal/store"
	"github.com/soundguard-ai/soundguard/internal/upload"
)

// Orchestrator is the subset of *orchestrator.Orchestrator the handlers use.
type Orchestrator interface {
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	ListAssets(ctx context.Context, filter store.AssetFilter) ([]model.Asset, error)
	Summarize(a *model.Asset) model.AssetSummary
	DeleteAsset(ctx context.Context, id string) error
	Run(ctx context.Context, id string, module model.Module, opts model.EnhanceOptions) (any, error)
	RunAll(ctx context.Context, id string, opts model.EnhanceOptions) ([]orchestrator.Outcome, error)
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// Feed hands out progress subscriptions.
type Feed interface {
	Subscribe() (*broadcast.Subscription, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins []string
}

// Deps are the collaborators the server needs.
type Deps struct {
	Orchestrator Orchestrator
	Ingester     *upload.Ingester
	Feed         Feed
	Metrics      http.Handler
	Checks       map[string]HealthCheck
}

// Server routes requests to the orchestrator.
type Server struct {
	orch    Orchestrator
	ingest  *upload.Ingester
	feed    Feed
	metrics http.Handler
	checks  map[string]HealthCheck
	opts    Options
}

// New builds a Server.
func New(deps Deps, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		orch:    deps.Orchestrator,
		ingest:  deps.Ingester,
		feed:    deps.Feed,
		metrics: deps.Metrics,
		checks:  deps.Checks,
		opts:    opts,
	}
	if s.metrics == nil {
		s.metrics = http.NotFoundHandler()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	r.Get("/ws", s.handleProgress)
	r.Get("/files/*", s.handleFile)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/assets", s.handleListAssets)
		r.Get("/assets/{id}", s.handleGetAsset)
		r.Delete("/assets/{id}", s.handleDeleteAsset)
		r.Post("/assets/{id}/{module}", s.handleRunModule)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

type errorBody struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && apperr.KindOf(err) == apperr.KindInternal {
		zap.L().Error("server: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": errorBody{
			Kind:      apperr.KindOf(err),
			Message:   apperr.Message(err),
			Retryable: apperr.Retryable(err),
		},
	})
}
