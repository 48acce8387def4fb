package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doeshing/opsai/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	healthTimeout    = 3 * time.Second
)

type healthResponse struct {
	Status         string            `json:"status"`
	ActiveSessions int               `json:"activeSessions"`
	Checks         map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.deps.Checks))}
	if s.deps.ActiveCount != nil {
		resp.ActiveSessions = s.deps.ActiveCount()
	}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Servers == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"servers": []domain.Server{}, "count": 0})
		return
	}
	servers, err := s.deps.Servers.List(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": servers, "count": len(servers)})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := domain.ExecutionFilter{
		ServerID: r.URL.Query().Get("serverId"),
		Limit:    defaultListLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	executions, err := s.deps.Orchestrator.List(r.Context(), userFrom(r.Context()), filter)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Orchestrator.Get(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Orchestrator.AuditTrail(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Providers == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"providers": []domain.ProviderStatus{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.deps.Providers.List(r.Context())})
}

type setActiveRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSetActiveProvider(w http.ResponseWriter, r *http.Request) {
	if !userFrom(r.Context()).IsAdmin() {
		s.writeError(w, http.StatusForbidden, "only admins can switch providers")
		return
	}
	if s.deps.Providers == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no provider registry")
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.deps.Providers.SetActive(req.ID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.deps.Providers.List(r.Context())})
}
