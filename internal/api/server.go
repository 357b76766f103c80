// Package api exposes the HTTP interface for the publish pipeline.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/config"
	"github.com/listforge/listforge/internal/metrics"
	"github.com/listforge/listforge/internal/middleware"
	"github.com/listforge/listforge/internal/orchestrator"
	"github.com/listforge/listforge/internal/pipeline"
)

// Server wires HTTP handlers to the orchestrator and extractor.
type Server struct {
	router    chi.Router
	orch      *orchestrator.Orchestrator
	extractor pipeline.Extractor
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The extractor is
// optional; without one the extract route answers 503.
func NewServer(
	orch *orchestrator.Orchestrator,
	extractor pipeline.Extractor,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:      orch,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Post("/batch", s.submitBatch)
			r.Get("/{task_id}", s.getTask)
		})
		r.Post("/extract", s.extractProduct)
		r.Get("/stats", s.getStats)
		r.Get("/stores/{store_id}/summary", s.getStoreSummary)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.HealthCheck())
}

type taskRequest struct {
	StoreID  string                 `json:"store_id"`
	Priority int                    `json:"priority"`
	Product  pipeline.ProductRecord `json:"product"`
}

type batchRequest struct {
	Tasks []taskRequest `json:"tasks"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	taskID, err := s.orch.Enqueue(orchestrator.EnqueueRequest{
		Product:  req.Product,
		StoreID:  req.StoreID,
		Priority: req.Priority,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Tasks) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one task required")
		return
	}
	reqs := make([]orchestrator.EnqueueRequest, 0, len(req.Tasks))
	for _, task := range req.Tasks {
		reqs = append(reqs, orchestrator.EnqueueRequest{
			Product:  task.Product,
			StoreID:  task.StoreID,
			Priority: task.Priority,
		})
	}
	batch, err := s.orch.EnqueueBatch(reqs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, batch)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, ok := s.orch.Task(taskID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

type extractRequest struct {
	URL      string `json:"url"`
	StoreID  string `json:"store_id,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type extractResponse struct {
	Product pipeline.ProductRecord `json:"product"`
	TaskID  string                 `json:"task_id,omitempty"`
}

// extractProduct fetches a source page and returns the derived record. With a
// store_id in the request the record is also enqueued for publication.
func (s *Server) extractProduct(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	product, err := s.extractor.Extract(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := extractResponse{Product: product}
	if req.StoreID != "" {
		taskID, err := s.orch.Enqueue(orchestrator.EnqueueRequest{
			Product:  product,
			StoreID:  req.StoreID,
			Priority: req.Priority,
		})
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.TaskID = taskID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Stats())
}

func (s *Server) getStoreSummary(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "store_id")
	health := s.orch.HealthCheck()
	if _, ok := health.Stores[storeID]; !ok {
		s.writeError(w, http.StatusNotFound, "store not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.orch.StoreSummary(storeID))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSONStatic(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONStatic(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
