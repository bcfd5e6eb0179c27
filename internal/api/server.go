package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"extraction-worker/internal/config"
	"extraction-worker/internal/extraction"
	"extraction-worker/internal/models"
	"extraction-worker/internal/queue"
	"extraction-worker/internal/ratelimit"
	"extraction-worker/internal/taskmanager"
	"extraction-worker/internal/telemetry"
	"extraction-worker/internal/worker"
)

// ManagerFactory builds a tenant-scoped extractor lifecycle manager.
type ManagerFactory func(ctx context.Context, tenant string) (*extraction.Manager, error)

// Server wires the HTTP surface: the task-service results callback plus the
// extractor management endpoints.
type Server struct {
	cfg      config.Config
	jobs     queue.JobStore
	limiter  *ratelimit.Limiter
	engines  extraction.EngineFactory
	managers ManagerFactory
	log      *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, jobs queue.JobStore, limiter *ratelimit.Limiter, engines extraction.EngineFactory, managers ManagerFactory, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		limiter:  limiter,
		engines:  engines,
		managers: managers,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/results", s.handleResults)

	r.Get("/extractors", s.handleListExtractors)
	r.Post("/extractors", s.handleCreateExtractor)
	r.Put("/extractors/{id}", s.handleUpdateExtractor)
	r.Delete("/extractors/{id}", s.handleDeleteExtractor)
	r.Post("/extractors/{id}/train", s.handleTrain)
	r.Get("/extractors/{id}/status", s.handleStatus)
	return r
}

// handleResults receives a finished-task callback and turns it into a queue
// job, so ingestion runs under the worker's lock/retry discipline instead of
// inside the HTTP request.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var msg taskmanager.ResultsMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if msg.Tenant == "" || msg.Params == nil || msg.Params.ID == "" {
		http.Error(w, "tenant and params.id are required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), msg.Tenant)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.CallbackRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	dispatcher := worker.NewNamespacedDispatcher(msg.Tenant, s.cfg.QueueName, s.jobs, s.cfg.LockWindow)
	jobID, err := dispatcher.Dispatch(r.Context(), extraction.JobResults, msg)
	if err != nil {
		s.log.Error("failed to dispatch results job", zap.Error(err))
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	telemetry.JobsPushed.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"job": jobID})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	extractorID := chi.URLParam(r, "id")

	dispatcher := worker.NewNamespacedDispatcher(tenant, s.cfg.QueueName, s.jobs, s.cfg.LockWindow)
	jobID, err := dispatcher.Dispatch(r.Context(), extraction.JobTrain, extraction.TrainParams{ExtractorID: extractorID})
	if err != nil {
		s.log.Error("failed to dispatch train job", zap.Error(err))
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	telemetry.JobsPushed.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"job": jobID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engines(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
		return
	}
	res, err := engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type extractorRequest struct {
	Name      string   `json:"name"`
	Property  string   `json:"property"`
	Templates []string `json:"templates"`
}

func (s *Server) handleCreateExtractor(w http.ResponseWriter, r *http.Request) {
	var req extractorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	manager, err := s.managers(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
		return
	}
	extractor, err := manager.Create(r.Context(), req.Name, req.Property, req.Templates)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, extractor)
}

func (s *Server) handleUpdateExtractor(w http.ResponseWriter, r *http.Request) {
	var req extractorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	manager, err := s.managers(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
		return
	}
	extractor, err := manager.Update(r.Context(), models.Extractor{
		ID:        chi.URLParam(r, "id"),
		Name:      req.Name,
		Property:  req.Property,
		Templates: req.Templates,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, extractor)
}

func (s *Server) handleDeleteExtractor(w http.ResponseWriter, r *http.Request) {
	manager, err := s.managers(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
		return
	}
	if err := manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListExtractors(w http.ResponseWriter, r *http.Request) {
	manager, err := s.managers(r.Context(), tenantFromRequest(r))
	if err != nil {
		http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
		return
	}
	extractors, err := manager.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extractors": extractors})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
