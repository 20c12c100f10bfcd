// Package api exposes the HTTP interface for the watcher service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/breaker"
	"github.com/unishark/portalwatch/internal/metrics"
	"github.com/unishark/portalwatch/internal/watch"
)

// Config controls Server behavior.
type Config struct {
	APIKey string
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router    chi.Router
	tenants   watch.TenantStore
	jobs      watch.JobStore
	snapshots watch.SnapshotStore
	queue     watch.Queue
	breaker   *breaker.Breaker
	idGen     watch.IDGenerator
	clock     watch.Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tenants watch.TenantStore,
	jobs watch.JobStore,
	snapshots watch.SnapshotStore,
	queue watch.Queue,
	brk *breaker.Breaker,
	idGen watch.IDGenerator,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	s := &Server{
		tenants:   tenants,
		jobs:      jobs,
		snapshots: snapshots,
		queue:     queue,
		breaker:   brk,
		idGen:     idGen,
		clock:     clock,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{job_id}/status", s.getJobStatus)
		})
		r.Route("/tenants/{tenant_id}", func(r chi.Router) {
			r.Post("/resume", s.resumeTenant)
			r.Get("/snapshot", s.getLatestSnapshot)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	TenantID string `json:"tenant_id"`
}

// submitJob creates a manual job and enqueues it on the priority lane.
// Manual jobs bypass the due check but not the suspension gate.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "missing tenant_id")
		return
	}

	tenant, err := s.tenants.GetTenant(r.Context(), req.TenantID)
	if errors.Is(err, watch.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	if tenant.Suspended {
		writeError(w, http.StatusConflict,
			"tenant automation is suspended; resume it before submitting jobs")
		return
	}

	jobID, err := s.enqueueJob(r.Context(), tenant.ID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// resumeTenant is the manual suspension override.
func (s *Server) resumeTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if _, err := s.tenants.GetTenant(r.Context(), tenantID); err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err := s.breaker.Resume(r.Context(), tenantID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume tenant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "status": "resumed"})
}

func (s *Server) getLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	snap, err := s.snapshots.LatestSnapshot(r.Context(), tenantID)
	if errors.Is(err, watch.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no snapshot for tenant")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (s *Server) enqueueJob(ctx context.Context, tenantID string) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := watch.Job{
		ID:        jobID,
		TenantID:  tenantID,
		Trigger:   watch.TriggerManual,
		Status:    watch.JobStatusQueued,
		Submitted: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := watch.QueueItem{
		JobID:     jobID,
		TenantID:  tenantID,
		Trigger:   watch.TriggerManual,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
