package feedback

import (
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/convoflow/internal/session"
)

// Coordinator ties feedback requests to session state: raising a request
// suspends the session, responding reactivates it, and expiry sweeps move
// both to their timeout states.
type Coordinator struct {
	store    Store
	sessions session.Store
	ttl      time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewCoordinator creates a coordinator with the given request TTL.
func NewCoordinator(store Store, sessions session.Store, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		sessions: sessions,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Request raises a pending human input request for the session and moves
// the session to waiting_human_input.
func (c *Coordinator) Request(sessionID, executionID string, typ Type, question string, fields []string) (*Request, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	r := NewRequest(sessionID, executionID, typ, question, fields, c.ttl)
	if err := c.store.Create(r); err != nil {
		return nil, err
	}

	sess.Status = session.StatusWaitingHumanInput
	if err := c.sessions.Update(sess); err != nil {
		return nil, err
	}

	c.logger.Info("human input requested",
		"session_id", sessionID,
		"request_id", r.ID,
		"type", string(typ),
		"fields", fields)
	return r, nil
}

// Respond submits the human's answer for the session's pending request.
//
// An expired pending request is moved to timeout, the session to expired,
// and ErrExpired is returned. ErrNoPending is returned when the session
// has nothing pending.
func (c *Coordinator) Respond(sessionID string, values map[string]string) (*Request, error) {
	r, err := c.store.PendingBySession(sessionID)
	if err != nil {
		return nil, err
	}

	if r.Expired(c.now().UTC()) {
		if err := c.expireRequest(r); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	respondedAt := c.now().UTC()
	r.Status = StatusReceived
	r.Response = values
	r.RespondedAt = &respondedAt
	if err := c.store.Update(r); err != nil {
		return nil, err
	}

	c.logger.Info("human input received",
		"session_id", sessionID,
		"request_id", r.ID,
		"type", string(r.Type))
	return r, nil
}

// Pending returns the session's pending request, or ErrNoPending.
func (c *Coordinator) Pending(sessionID string) (*Request, error) {
	return c.store.PendingBySession(sessionID)
}

// Cancel marks the session's pending request cancelled, if one exists.
// Used when a session reaches a terminal state with input outstanding.
func (c *Coordinator) Cancel(sessionID string) error {
	r, err := c.store.PendingBySession(sessionID)
	if errors.Is(err, ErrNoPending) {
		return nil
	}
	if err != nil {
		return err
	}

	r.Status = StatusCancelled
	return c.store.Update(r)
}

// SweepExpired times out pending requests past their TTL and expires
// their sessions. Returns the number of requests swept.
func (c *Coordinator) SweepExpired() (int, error) {
	expired, err := c.store.ListPendingExpired(c.now().UTC())
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, r := range expired {
		if err := c.expireRequest(r); err != nil {
			c.logger.Warn("failed to expire feedback request",
				"request_id", r.ID,
				"session_id", r.SessionID,
				"error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// expireRequest moves a request to timeout and its session to expired.
func (c *Coordinator) expireRequest(r *Request) error {
	r.Status = StatusTimeout
	if err := c.store.Update(r); err != nil {
		return err
	}

	sess, err := c.sessions.Get(r.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	sess.Status = session.StatusExpired
	if err := c.sessions.Update(sess); err != nil && !errors.Is(err, session.ErrTerminal) {
		return err
	}

	c.logger.Info("feedback request timed out",
		"request_id", r.ID,
		"session_id", r.SessionID)
	return nil
}
