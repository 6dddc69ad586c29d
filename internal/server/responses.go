package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/randalmurphal/convoflow/internal/feedback"
	"github.com/randalmurphal/convoflow/internal/orchestrator"
	"github.com/randalmurphal/convoflow/internal/session"
	"github.com/randalmurphal/convoflow/internal/workflow"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:         err.Error(),
		CorrelationID: resilience.CorrelationIDFromContext(r.Context()),
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, orchestrator.ErrEmptyUserID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, feedback.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrSessionTerminal),
		errors.Is(err, orchestrator.ErrAwaitingInput),
		errors.Is(err, session.ErrExists),
		errors.Is(err, feedback.ErrNoPending):
		return http.StatusConflict
	case errors.Is(err, feedback.ErrExpired):
		return http.StatusGone
	case workflow.IsDownstreamFailure(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
