// Package feedback manages human-in-the-loop input requests: pending
// questions raised by a suspended workflow and the answers that resume it.
package feedback

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type classifies why the workflow needs human input.
type Type string

const (
	// TypeDataCollection asks for missing required fields.
	TypeDataCollection Type = "data_collection"

	// TypeConfirmation asks for explicit approval of a mutating action.
	TypeConfirmation Type = "confirmation"

	// TypeClarification asks the user to restate an ambiguous request.
	TypeClarification Type = "clarification"

	// TypeApproval asks an operator to approve an action.
	TypeApproval Type = "approval"
)

// Status is the feedback request lifecycle state.
type Status string

const (
	// StatusPending awaits a response.
	StatusPending Status = "pending"

	// StatusReceived holds the response.
	StatusReceived Status = "received"

	// StatusTimeout means the TTL elapsed before a response arrived.
	StatusTimeout Status = "timeout"

	// StatusCancelled means the session ended before a response arrived.
	StatusCancelled Status = "cancelled"
)

// Request is one human input request tied to a session.
type Request struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// ExecutionID identifies the workflow execution that raised the
	// request.
	ExecutionID string `json:"execution_id,omitempty"`

	Type   Type   `json:"type"`
	Status Status `json:"status"`

	// Question is the prompt surfaced to the human.
	Question string `json:"question"`

	// Fields lists the field names the response should supply.
	Fields []string `json:"fields,omitempty"`

	// Response holds the submitted values once received, and RespondedAt
	// the time they arrived.
	Response    map[string]string `json:"response,omitempty"`
	RespondedAt *time.Time        `json:"responded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRequest creates a pending request for the session.
func NewRequest(sessionID, executionID string, typ Type, question string, fields []string, ttl time.Duration) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ExecutionID: executionID,
		Type:        typ,
		Status:      StatusPending,
		Question:    question,
		Fields:      fields,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Expired reports whether the request's TTL has elapsed.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store errors.
var (
	// ErrNotFound means no request exists with the given ID.
	ErrNotFound = errors.New("feedback request not found")

	// ErrNoPending means the session has no pending request.
	ErrNoPending = errors.New("no pending feedback request for session")

	// ErrExpired means the pending request's TTL elapsed before the
	// response arrived.
	ErrExpired = errors.New("feedback request expired")
)

// Store persists feedback requests. A session has at most one pending
// request at a time.
type Store interface {
	Create(r *Request) error
	Get(id string) (*Request, error)
	Update(r *Request) error

	// PendingBySession returns the session's pending request, or
	// ErrNoPending.
	PendingBySession(sessionID string) (*Request, error)

	// ListPendingExpired returns pending requests whose TTL elapsed
	// before now.
	ListPendingExpired(now time.Time) ([]*Request, error)

	Close() error
}
