// Package session holds conversation session state and its persistence.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state.
type Status string

const (
	// StatusActive accepts user messages.
	StatusActive Status = "active"

	// StatusWaitingHumanInput means the workflow is suspended on a
	// pending feedback request.
	StatusWaitingHumanInput Status = "waiting_human_input"

	// StatusCompleted is terminal: the conversation finished.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: the workflow hit an unrecoverable fault.
	StatusFailed Status = "failed"

	// StatusExpired is terminal: the session or a pending feedback
	// request outlived its TTL.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Turn is one exchange in the conversation history.
type Turn struct {
	Role      string    `json:"role"` // "user", "assistant", or "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one multi-turn conversation for a user.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status Status `json:"status"`

	// Intent is the currently recognized intent, if any.
	Intent string `json:"intent,omitempty"`

	// CurrentStep is the workflow node the session last stopped at.
	CurrentStep string `json:"current_step,omitempty"`

	// CollectedData accumulates the fields gathered across turns.
	CollectedData map[string]string `json:"collected_data"`

	// RequiredData lists fields still missing for the current intent.
	RequiredData []string `json:"required_data,omitempty"`

	// History is the ordered conversation transcript.
	History []Turn `json:"history"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// New creates an active session for the user with the given TTL.
func New(userID string, ttl time.Duration) *Session {
	return NewWithID(uuid.NewString(), userID, ttl)
}

// NewWithID creates an active session under a caller-supplied ID. An
// empty ID falls back to a generated one.
func NewWithID(id, userID string, ttl time.Duration) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		UserID:         userID,
		Status:         StatusActive,
		CollectedData:  map[string]string{},
		History:        []Turn{},
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

// AddTurn appends an exchange to the history and bumps activity.
func (s *Session) AddTurn(role, content string) {
	now := time.Now().UTC()
	s.History = append(s.History, Turn{Role: role, Content: content, Timestamp: now})
	s.LastActivityAt = now
}

// Touch extends the session's expiry by ttl from now.
func (s *Session) Touch(ttl time.Duration) {
	now := time.Now().UTC()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store errors.
var (
	// ErrNotFound means no session exists with the given ID.
	ErrNotFound = errors.New("session not found")

	// ErrExists means a session with the ID is already stored.
	ErrExists = errors.New("session already exists")

	// ErrTerminal means the stored session is in a terminal status and
	// rejects updates.
	ErrTerminal = errors.New("session is terminal")
)

// Store persists sessions.
//
// Update must reject writes to sessions whose stored status is terminal
// with ErrTerminal; moving a session into a terminal status is allowed.
type Store interface {
	Create(s *Session) error
	Get(id string) (*Session, error)
	Update(s *Session) error
	ListByUser(userID string) ([]*Session, error)

	// ExpireStale marks active and waiting sessions whose TTL elapsed
	// before now as expired, returning their IDs.
	ExpireStale(now time.Time) ([]string, error)

	Close() error
}
