// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package web exposes the collection pipeline over HTTP. The surface is
// deliberately thin: it triggers runs, reports status, and formats the
// scheduler's structured results as JSON.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdiddy/reddit-collector/internal/scheduler"
	"github.com/pdiddy/reddit-collector/pkg/types"
)

// Runner is the slice of the scheduler the server consumes.
type Runner interface {
	Run(ctx context.Context, sources []types.SubredditConfig, opts scheduler.RunOptions) (scheduler.Result, error)
	Status() scheduler.SchedulerStatus
	Stop() bool
}

// Probe checks one dependency for the health endpoint.
type Probe func(ctx context.Context) error

// CollectRequest is the optional body of POST /collect.
type CollectRequest struct {
	TaskTimeoutSeconds int   `json:"task_timeout_seconds,omitempty"`
	ContinueOnError    *bool `json:"continue_on_error,omitempty"`
}

// Server serves the trigger and status endpoints.
type Server struct {
	runner  Runner
	sources []types.SubredditConfig
	probes  map[string]Probe
	logger  *slog.Logger
}

// NewServer wires the HTTP surface. probes maps a dependency name
// ("auth", "storage") to its reachability check.
func NewServer(runner Runner, sources []types.SubredditConfig, probes map[string]Probe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:  runner,
		sources: sources,
		probes:  probes,
		logger:  logger.With("component", "web"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collect", s.handleCollect)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req CollectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	opts := scheduler.RunOptions{ContinueOnError: req.ContinueOnError}
	if req.TaskTimeoutSeconds > 0 {
		opts.TaskTimeout = time.Duration(req.TaskTimeoutSeconds) * time.Second
	}

	s.logger.Info("collection triggered", "remote", r.RemoteAddr)
	result, err := s.runner.Run(r.Context(), s.sources, opts)
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("collection run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	checks := make(map[string]string, len(s.probes))
	healthy := true
	for name, probe := range s.probes {
		if err := probe(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
