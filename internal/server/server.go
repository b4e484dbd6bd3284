// Package server wraps the Engine API (§6) in a small go-chi HTTP
// surface: task submission, status lookup, and a health endpoint.
// It is ambient wiring around internal/engine, not a redefinition of
// the Engine API itself — engine.Engine remains directly usable
// without this package, which is what the engine tests exercise.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/foglayer/dispatchd/internal/config"
	"github.com/foglayer/dispatchd/internal/engine"
	"github.com/foglayer/dispatchd/internal/task"
)

// Server wraps an http.Server with a logger, mirroring the teacher's
// scheduler-orchestrator Server type.
type Server struct {
	*http.Server
	Logger *zap.Logger
}

// submitRequest is the JSON body accepted by POST /tasks.
type submitRequest struct {
	Type             string          `json:"type"`
	Input            *task.InputData `json:"input"`
	Resources        task.Resources  `json:"resources"`
	Divisible        bool            `json:"divisible"`
	MaxExecutionTime int             `json:"max_execution_time_seconds"`
}

// NewRouter builds the chi router wiring eng's Submit/Status into the
// HTTP surface described in SPEC_FULL.md §6, with the same middleware
// stack (request ID, recoverer, per-request timeout, structured zap
// access log) the teacher's scheduler-orchestrator uses.
func NewRouter(eng *engine.Engine, cfg *config.Config, logger *zap.Logger, ready func() bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Post("/tasks", submitHandler(eng, logger))
	r.Get("/tasks/{id}", statusHandler(eng))
	r.Get(cfg.HealthCheckPath, healthHandler(ready))

	return r
}

func submitHandler(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body: " + err.Error()})
			return
		}

		id, err := eng.Submit(task.Spec{
			Type:             req.Type,
			Input:            req.Input,
			Resources:        req.Resources,
			Divisible:        req.Divisible,
			MaxExecutionTime: req.MaxExecutionTime,
		})
		if err != nil {
			if err == engine.ErrQueueFull {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		logger.Info("task accepted via http", zap.String("task_id", id))
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
	}
}

func statusHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		t, err := eng.Status(id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func healthHandler(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// structuredLogger logs one line per completed request via zap,
// mirroring the teacher's NewStructuredLogger middleware.
func structuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// New builds a Server wrapping handler, with the same timeout shape
// the teacher's scheduler-orchestrator Server uses.
func New(cfg *config.Config, handler http.Handler, logger *zap.Logger) *Server {
	httpSrv := &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout * 2,
		IdleTimeout:  120 * time.Second,
	}
	return &Server{Server: httpSrv, Logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() {
	s.Logger.Info("starting HTTP server", zap.String("address", s.Addr))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.Logger.Fatal("HTTP server ListenAndServe error", zap.Error(err))
	}
}

// Stop gracefully shuts the server down, falling back to a hard close
// if graceful shutdown does not complete within ctx.
func (s *Server) Stop(ctx context.Context) {
	s.Logger.Info("shutting down HTTP server")
	if err := s.Shutdown(ctx); err != nil {
		s.Logger.Error("graceful shutdown failed", zap.Error(err))
		if err := s.Close(); err != nil {
			s.Logger.Error("server close failed after shutdown attempt", zap.Error(err))
		}
	}
}
