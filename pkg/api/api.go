// Package api exposes the engine's public HTTP surface: submit execution,
// query status, fetch trace, cancel, list templates, list recent
// executions, and a health check. Paths and JSON field names are fixed by
// the wire contract; validation failures map to 400, missing resources to
// 404, and internal engine errors to 500 without leaking stack traces.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/workflowcore/orchestrator/pkg/errkind"
	"github.com/workflowcore/orchestrator/pkg/execregistry"
	"github.com/workflowcore/orchestrator/pkg/graph"
	"github.com/workflowcore/orchestrator/pkg/state"
	"github.com/workflowcore/orchestrator/pkg/telemetry"
	"github.com/workflowcore/orchestrator/pkg/templates"
)

// Server wires the public HTTP API to the engine's core components.
type Server struct {
	templates  *templates.Library
	registry   *execregistry.Registry
	conditions *graph.ConditionRegistry
	logger     telemetry.Logger
	serviceName string
	version     string
	startedAt   time.Time
}

// New constructs a Server. serviceName/version feed the health endpoint.
func New(tpl *templates.Library, registry *execregistry.Registry, conditions *graph.ConditionRegistry, logger telemetry.Logger, serviceName, version string) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		templates:   tpl,
		registry:    registry,
		conditions:  conditions,
		logger:      logger,
		serviceName: serviceName,
		version:     version,
		startedAt:   time.Now(),
	}
}

// Router builds the chi router exposing every endpoint in the public API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/workflows/execute", s.handleExecute)
	r.Post("/workflows/from-template", s.handleFromTemplate)
	r.Get("/workflows/templates", s.handleListTemplates)
	r.Get("/executions", s.handleListExecutions)
	r.Get("/executions/{id}", s.handleGetExecution)
	r.Post("/executions/{id}/cancel", s.handleCancelExecution)
	r.Get("/executions/{id}/trace", s.handleTrace)
	r.Get("/health", s.handleHealth)

	return r
}

type executeRequest struct {
	Definition json.RawMessage `json:"definition"`
	Input      map[string]any  `json:"input"`
	UserID     string          `json:"user_id"`
	MaxRetries int             `json:"max_retries"`
	DeadlineMS int             `json:"deadline_ms"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errkind.Validation, "malformed request body")
		return
	}

	var wd wireDefinition
	if err := json.Unmarshal(req.Definition, &wd); err != nil {
		writeError(w, http.StatusBadRequest, errkind.Validation, "malformed workflow definition")
		return
	}

	compiled, err := graph.Compile(wd.toDefinition(), s.conditions)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	id, err := s.registry.Submit(r.Context(), compiled, req.Input, execregistry.SubmitOptions{
		MaxRetries: maxRetries, DeadlineMS: req.DeadlineMS, UserID: req.UserID,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

type fromTemplateRequest struct {
	Template   string         `json:"template"`
	Parameters map[string]any `json:"parameters"`
	UserID     string         `json:"user_id"`
	MaxRetries int            `json:"max_retries"`
	DeadlineMS int            `json:"deadline_ms"`
}

func (s *Server) handleFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req fromTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errkind.Validation, "malformed request body")
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	// Instantiate validates parameters and builds the initial input map; the
	// execution_id is allocated by the registry on Submit, so we pass a
	// placeholder here purely to build the compiled workflow + validated
	// input, then let the registry mint the real id.
	compiled, st, err := s.templates.Instantiate("pending", req.Template, req.Parameters, maxRetries, req.UserID, "")
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	id, err := s.registry.Submit(r.Context(), compiled, st.Snapshot().InputData, execregistry.SubmitOptions{
		MaxRetries: maxRetries, DeadlineMS: req.DeadlineMS, UserID: req.UserID,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"execution_id": id})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.templates.List())
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}
	statusFilter := state.Status(r.URL.Query().Get("status"))

	writeJSON(w, http.StatusOK, s.registry.ListRecent(limit, statusFilter))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.registry.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Cancel(id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"execution_id": id, "status": "cancel_requested"})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.registry.Get(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": rec.Steps, "errors": rec.Errors})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  s.serviceName,
		"version":  s.version,
		"uptime_s": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		s.logger.Error(context.Background(), "internal engine error", "kind", kind, "error", err.Error())
	}
	writeError(w, status, kind, err.Error())
}

func statusForKind(kind errkind.Kind) int {
	switch kind {
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.AlreadyTerminal:
		return http.StatusConflict
	case errkind.CapacityExceeded:
		return http.StatusTooManyRequests
	case errkind.UnknownTemplate:
		return http.StatusNotFound
	case errkind.Validation, errkind.UnknownTool, errkind.UnknownNode, errkind.UnknownCondition,
		errkind.InfiniteLoop, errkind.UnreachableNodes, errkind.AmbiguousTransition,
		errkind.InvalidParameterSchema, errkind.InvalidDescriptor, errkind.MissingRequired, errkind.TypeMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind    errkind.Kind `json:"kind"`
	Message string       `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind errkind.Kind, message string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
