// Package server exposes the pipeline trigger and review queue over HTTP.
// Every /api/v1 route is firm-scoped through the X-Firm-ID header; handlers
// never touch rows outside the caller's firm.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/config"
	"github.com/caflow/cma-engine/internal/generate"
	"github.com/caflow/cma-engine/internal/pipeline"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
)

// Server wires the HTTP API to the pipeline runner and stores.
type Server struct {
	cfg     config.ServerConfig
	store   store.Store
	runner  *pipeline.Runner
	reviews *review.Queue
	gen     *generate.Generator
}

// New builds the API server.
func New(cfg config.ServerConfig, st store.Store, runner *pipeline.Runner, reviews *review.Queue, gen *generate.Generator) *Server {
	return &Server{cfg: cfg, store: st, runner: runner, reviews: reviews, gen: gen}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Firm-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireFirm)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Get("/progress", s.projectProgress)
				r.Get("/files", s.listGeneratedFiles)
				r.Post("/process", s.processProject)
				r.Post("/retry", s.retryProject)
				r.Post("/resume", s.resumeProject)
				r.Post("/validate", s.validateProject)
				r.Post("/generate", s.generateProject)
			})
		})

		r.Route("/review-queue", func(r chi.Router) {
			r.Get("/", s.listReviewItems)
			r.Get("/summary", s.reviewSummary)
			r.Get("/config/cma-rows", s.cmaRows)
			r.Post("/bulk-resolve", s.bulkResolve)
			r.Post("/approve-all", s.approveAll)
			r.Route("/{reviewID}", func(r chi.Router) {
				r.Get("/", s.getReviewItem)
				r.Post("/resolve", s.resolveReviewItem)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey int

const firmKey ctxKey = iota

// requireFirm rejects requests without a firm header and stashes the firm ID
// in the request context.
func requireFirm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firmID := r.Header.Get("X-Firm-ID")
		if firmID == "" {
			respondError(w, http.StatusBadRequest, "X-Firm-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), firmKey, firmID)))
	})
}

func firmID(r *http.Request) string {
	v, _ := r.Context().Value(firmKey).(string)
	return v
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto HTTP status codes.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrProcessing):
		respondError(w, http.StatusConflict, "project is already processing")
	case errors.Is(err, review.ErrNotPending):
		respondError(w, http.StatusConflict, "review item is already resolved")
	case errors.Is(err, pipeline.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, "processing queue is full, try again shortly")
	default:
		zap.L().Error("server: request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode parses an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func timeNow() time.Time {
	return time.Now().UTC()
}
