// Package server exposes the orchestration service over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/randalmurphal/convoflow/internal/orchestrator"
	"github.com/randalmurphal/convoflow/internal/session"
)

// Server is the HTTP front for the orchestrator.
type Server struct {
	Router *chi.Mux
	svc    *orchestrator.Service
	logger *slog.Logger
}

// New builds the router with middleware and routes mounted.
func New(svc *orchestrator.Service, logger *slog.Logger, requestTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	s := &Server{
		Router: chi.NewRouter(),
		svc:    svc,
		logger: logger,
	}

	s.Router.Use(CorrelationMiddleware)
	s.Router.Use(LoggingMiddleware(logger))
	s.Router.Use(middleware.Timeout(requestTimeout))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "convoflow-orchestrator")
	})

	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/messages", s.handleMessage)
		r.Post("/sessions/{sessionID}/feedback", s.handleFeedback)
		r.Post("/sessions/{sessionID}/complete", s.handleComplete)
		r.Get("/sessions/{sessionID}/executions", s.handleExecutions)
		r.Get("/users/{userID}/sessions", s.handleUserSessions)
	})

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Degraded still serves traffic; only a failed critical check turns
	// the endpoint red.
	h := s.svc.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`

		// SessionID lets the caller bring its own identifier; omitted
		// means one is generated.
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, orchestrator.ErrEmptyUserID)
		return
	}

	sess, err := s.svc.CreateSession(r.Context(), body.UserID, body.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`

		// UserID, when present, creates the session on its first message
		// instead of requiring a prior create call.
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, orchestrator.ErrEmptyMessage)
		return
	}

	reply, err := s.svc.ProcessMessage(r.Context(), chi.URLParam(r, "sessionID"), body.UserID, body.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Values map[string]string `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, orchestrator.ErrEmptyMessage)
		return
	}

	reply, err := s.svc.ProcessHumanFeedback(r.Context(), chi.URLParam(r, "sessionID"), body.Values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.CompleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.svc.ListExecutions(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	status := session.Status(r.URL.Query().Get("status"))
	sessions, err := s.svc.ListUserSessions(r.Context(), chi.URLParam(r, "userID"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
