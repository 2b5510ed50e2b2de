package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine defines the interface for the espalier engine served over HTTP.
type Engine interface {
	Start(ctx context.Context, sessionID, userID, workflowID string, seed map[string]any) (*domain.Response, error)
	Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error)
	Resume(ctx context.Context, sessionID string) (*domain.Response, error)
	Abort(ctx context.Context, sessionID string) (*domain.Response, error)
	Inspect(ctx context.Context, sessionID string) (*espalier.Snapshot, error)
	Trail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error)
	Sessions(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
	Workflows() []string
	Definition(id string) (domain.WorkflowDefinition, error)
}

// Server holds the handlers of the HTTP API.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	Logger  *slog.Logger

	gatherer  prometheus.Gatherer
	rateLimit float64
	rateBurst int
}

// Option configures the HTTP handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithMetrics exposes the gatherer on GET /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithRateLimit limits every client address to limit requests per second
// with the given burst. A limit of zero disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

// TurnRequest is the body of POST /sessions/{id}/turns.
type TurnRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
}

// StartRequest is the body of POST /sessions/{id}/workflows.
type StartRequest struct {
	UserID   string         `json:"user_id,omitempty"`
	Workflow string         `json:"workflow"`
	Seed     map[string]any `json:"seed,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code,omitempty"`
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:  engine,
		Streams: NewStreamManager(),
		Logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.Logger

	r := chi.NewRouter()
	r.Use(enableCORS)
	if s.rateLimit > 0 {
		r.Use(newRateLimiter(s.rateLimit, s.rateBurst).middleware)
	}

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/workflows", s.ListWorkflows)
	r.Get("/workflows/{workflowID}", s.GetWorkflow)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.InspectSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/workflows", s.StartWorkflow)
			r.Post("/turns", s.SendTurn)
			r.Get("/prompt", s.ResumeSession)
			r.Post("/abort", s.AbortSession)
			r.Get("/trail", s.GetTrail)
			r.Get("/events", s.SubscribeEvents)
		})
	})

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "espalier-http",
		"version": strings.TrimSpace(espalier.Version),
	})
}

// ListWorkflows handles the GET /workflows request.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ids := s.Engine.Workflows()
	defs := make([]domain.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := s.Engine.Definition(id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		defs = append(defs, def)
	}
	s.writeJSON(w, http.StatusOK, defs)
}

// GetWorkflow handles the GET /workflows/{workflowID} request.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.Engine.Definition(chi.URLParam(r, "workflowID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Sessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// InspectSession handles the GET /sessions/{sessionID} request.
func (s *Server) InspectSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Engine.Inspect(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// DeleteSession handles the DELETE /sessions/{sessionID} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartWorkflow handles the POST /sessions/{sessionID}/workflows request.
func (s *Server) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Workflow == "" {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: workflow is required"})
		s.Logger.Warn("StartWorkflow: Invalid request body", "err", err)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	resp, err := s.Engine.Start(r.Context(), sessionID, body.UserID, body.Workflow, body.Seed)
	s.respond(w, sessionID, resp, err)
}

// SendTurn handles the POST /sessions/{sessionID}/turns request.
func (s *Server) SendTurn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		s.Logger.Warn("SendTurn: Invalid request body", "err", err)
		return
	}

	// Sanitize Input (Global Policy)
	clean, err := runner.SanitizeInput(body.Message)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Invalid input: %v", err)})
		s.Logger.Warn("SendTurn: Input rejected", "err", err, "size", len(body.Message))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	resp, err := s.Engine.Turn(r.Context(), domain.Turn{SessionID: sessionID, UserID: body.UserID, Message: clean})
	s.respond(w, sessionID, resp, err)
}

// ResumeSession handles the GET /sessions/{sessionID}/prompt request.
func (s *Server) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	resp, err := s.Engine.Resume(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// AbortSession handles the POST /sessions/{sessionID}/abort request.
func (s *Server) AbortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	resp, err := s.Engine.Abort(r.Context(), sessionID)
	s.respond(w, sessionID, resp, err)
}

// GetTrail handles the GET /sessions/{sessionID}/trail request.
func (s *Server) GetTrail(w http.ResponseWriter, r *http.Request) {
	records, err := s.Engine.Trail(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// respond writes the outcome of a state-changing call and publishes the
// response to the session's SSE subscribers.
func (s *Server) respond(w http.ResponseWriter, sessionID string, resp *domain.Response, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Streams.Publish(sessionID, resp)
	s.writeJSON(w, http.StatusOK, resp)
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrWorkflowActive),
		errors.Is(err, domain.ErrStaleContext),
		errors.Is(err, domain.ErrLockLost):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoActiveWorkflow),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, espalier.ErrAuditUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrStackOverflow),
		errors.Is(err, domain.ErrReentrancyViolation),
		errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.Error("Request failed", "err", err)
	} else {
		s.Logger.Debug("Request rejected", "err", err, "status", status)
	}
	if status == http.StatusConflict && errors.Is(err, domain.ErrSessionBusy) {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: domain.CodeOf(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Response encode failed", "err", err)
	}
}
