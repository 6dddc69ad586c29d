// Package orchestrator coordinates sessions, human feedback, and the
// workflow engine behind the HTTP surface. All state transitions for one
// session are serialized, so concurrent requests cannot interleave a
// session's workflow.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/convoflow/internal/feedback"
	"github.com/randalmurphal/convoflow/internal/session"
	"github.com/randalmurphal/convoflow/internal/workflow"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

// Service is the orchestration facade.
type Service struct {
	sessions   session.Store
	feedback   *feedback.Coordinator
	engine     *workflow.Engine
	executions workflow.ExecutionStore
	breakers   *resilience.Registry
	db         Pinger
	sessionTTL time.Duration
	logger     *slog.Logger

	locks keyedMutex
}

// Pinger is the health probe for the backing database. *sql.DB
// satisfies it; a nil Pinger skips the check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Config configures the service.
type Config struct {
	Sessions   session.Store
	Feedback   *feedback.Coordinator
	Engine     *workflow.Engine
	Executions workflow.ExecutionStore
	Breakers   *resilience.Registry
	DB         Pinger
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// New creates the orchestration service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		sessions:   cfg.Sessions,
		feedback:   cfg.Feedback,
		engine:     cfg.Engine,
		executions: cfg.Executions,
		breakers:   cfg.Breakers,
		db:         cfg.DB,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger,
	}
}

// Reply is the outcome of a message or feedback submission.
type Reply struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`

	// Response is the assistant reply when the turn completed.
	Response string `json:"response,omitempty"`

	// Question and Fields describe the pending human input request when
	// the turn suspended.
	Question  string   `json:"question,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// CreateSession starts a new conversation for the user. A non-empty
// sessionID is used as-is so callers can bring their own identifiers;
// an empty one is generated. Creating an existing ID returns
// session.ErrExists.
func (s *Service) CreateSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}

	sess := session.NewWithID(strings.TrimSpace(sessionID), userID, s.sessionTTL)
	if err := s.sessions.Create(sess); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID,
		"user_id", userID)
	return sess, nil
}

// GetSession returns the session by ID.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(id)
}

// ListUserSessions returns a user's sessions, optionally filtered by
// status. An empty status returns everything.
func (s *Service) ListUserSessions(ctx context.Context, userID string, status session.Status) ([]*session.Session, error) {
	all, err := s.sessions.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}

	filtered := all[:0]
	for _, sess := range all {
		if sess.Status == status {
			filtered = append(filtered, sess)
		}
	}
	return filtered, nil
}

// ListExecutions returns the workflow audit trail for a session.
func (s *Service) ListExecutions(ctx context.Context, sessionID string) ([]*workflow.Execution, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return s.executions.ListBySession(sessionID)
}

// ProcessMessage runs one conversation turn for a user message. When no
// session exists yet for sessionID and the caller supplied a userID, the
// session is created on this first message.
//
// Messages are rejected on terminal sessions (ErrSessionTerminal) and on
// sessions waiting for human input (ErrAwaitingInput). A downstream
// outage fails the turn but leaves the session active for retry.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, userID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) && strings.TrimSpace(userID) != "" {
		sess = session.NewWithID(sessionID, userID, s.sessionTTL)
		if err = s.sessions.Create(sess); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "session created on first message",
			"session_id", sess.ID,
			"user_id", userID)
	} else if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	if sess.Status == session.StatusWaitingHumanInput {
		return nil, ErrAwaitingInput
	}

	sess.AddTurn("user", message)
	sess.Touch(s.sessionTTL)

	result, err := s.engine.RunTurn(ctx, sess, message)
	return s.applyTurnOutcome(ctx, sess, result, err)
}

// ProcessHumanFeedback submits the human's answer for the session's
// pending input request and resumes the suspended workflow.
func (s *Service) ProcessHumanFeedback(ctx context.Context, sessionID string, values map[string]string) (*Reply, error) {
	if len(values) == 0 {
		return nil, ErrEmptyMessage
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionTerminal
	}

	req, err := s.feedback.Respond(sessionID, values)
	if err != nil {
		return nil, err
	}

	// Reactivate before resuming; the engine may immediately suspend again.
	sess.Status = session.StatusActive
	sess.Touch(s.sessionTTL)
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}

	result, err := s.engine.ResumeOnFeedback(ctx, sess, req)
	return s.applyTurnOutcome(ctx, sess, result, err)
}

// CompleteSession marks a session completed and cancels any pending
// input request.
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*session.Session, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionTerminal
	}

	if err := s.feedback.Cancel(sessionID); err != nil {
		s.logger.WarnContext(ctx, "failed to cancel pending feedback",
			"session_id", sessionID,
			"error", err)
	}
	s.cancelSuspendedExecutions(ctx, sessionID)

	sess.Status = session.StatusCompleted
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session completed", "session_id", sessionID)
	return sess, nil
}

// cancelSuspendedExecutions abandons runs still waiting on input when
// their session closes.
func (s *Service) cancelSuspendedExecutions(ctx context.Context, sessionID string) {
	execs, err := s.executions.ListBySession(sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list executions",
			"session_id", sessionID,
			"error", err)
		return
	}
	for _, exec := range execs {
		// An open running record is a run suspended for input.
		if exec.Status != workflow.ExecutionRunning || exec.FinishedAt != nil {
			continue
		}
		exec.Cancel()
		if err := s.executions.Save(exec); err != nil {
			s.logger.WarnContext(ctx, "failed to cancel execution",
				"execution_id", exec.ID,
				"error", err)
		}
	}
}

// applyTurnOutcome syncs workflow state onto the session and builds the
// caller-facing reply.
func (s *Service) applyTurnOutcome(ctx context.Context, sess *session.Session, result *workflow.TurnResult, runErr error) (*Reply, error) {
	if runErr != nil {
		if workflow.IsDownstreamFailure(runErr) {
			// The turn failed but the request can be retried later; the
			// conversation and its collected data survive.
			s.syncState(sess, result)
			sess.AddTurn("system", "downstream service unavailable")
			if err := s.sessions.Update(sess); err != nil {
				s.logger.ErrorContext(ctx, "failed to persist session after downstream failure",
					"session_id", sess.ID,
					"error", err)
			}
			return nil, runErr
		}

		sess.Status = session.StatusFailed
		if err := s.sessions.Update(sess); err != nil && !errors.Is(err, session.ErrTerminal) {
			s.logger.ErrorContext(ctx, "failed to mark session failed",
				"session_id", sess.ID,
				"error", err)
		}
		if err := s.feedback.Cancel(sess.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to cancel pending feedback",
				"session_id", sess.ID,
				"error", err)
		}
		return nil, runErr
	}

	if result.Suspended() {
		s.syncState(sess, result)
		sess.AddTurn("assistant", result.Interrupt.Question)
		if err := s.sessions.Update(sess); err != nil {
			return nil, err
		}

		executionID := ""
		if result.Execution != nil {
			executionID = result.Execution.ID
		}
		req, err := s.feedback.Request(sess.ID, executionID,
			feedback.Type(result.Interrupt.Reason),
			result.Interrupt.Question,
			result.Interrupt.Fields)
		if err != nil {
			return nil, err
		}

		return &Reply{
			SessionID: sess.ID,
			Status:    session.StatusWaitingHumanInput,
			Question:  req.Question,
			Fields:    req.Fields,
			RequestID: req.ID,
		}, nil
	}

	// The intent finished; the session stays open for the next request.
	sess.Intent = ""
	sess.CurrentStep = ""
	sess.CollectedData = map[string]string{}
	sess.RequiredData = nil
	sess.AddTurn("assistant", result.State.Response)
	if err := s.sessions.Update(sess); err != nil {
		return nil, err
	}

	return &Reply{
		SessionID: sess.ID,
		Status:    session.StatusActive,
		Response:  result.State.Response,
	}, nil
}

// syncState persists in-flight workflow progress onto the session so a
// turn can continue even without durable checkpoints.
func (s *Service) syncState(sess *session.Session, result *workflow.TurnResult) {
	if result == nil {
		return
	}
	sess.Intent = result.State.Intent
	sess.CollectedData = result.State.CollectedData
	sess.RequiredData = result.State.MissingFields
	if result.Execution != nil && len(result.Execution.Path) > 0 {
		sess.CurrentStep = result.Execution.Path[len(result.Execution.Path)-1]
	}
}

// Health reports store reachability and per-dependency breaker state.
type Health struct {
	Status   string            `json:"status"`
	Database string            `json:"database,omitempty"`
	Breakers map[string]string `json:"breakers"`
}

// Healthy reports whether the snapshot passes its critical checks. Open
// breakers degrade the service; an unreachable database fails it.
func (h Health) Healthy() bool {
	return h.Database != "down"
}

// Health returns the service health snapshot.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Breakers: map[string]string{}}

	if s.db != nil {
		h.Database = "ok"
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.ErrorContext(ctx, "database ping failed", "error", err)
			h.Database = "down"
			h.Status = "unavailable"
			return h
		}
	}

	if s.breakers != nil {
		h.Breakers = s.breakers.States()
		for _, state := range h.Breakers {
			if state != "closed" {
				h.Status = "degraded"
			}
		}
	}
	return h
}

// Sweep expires stale sessions and times out overdue feedback requests.
// Returns the number of sessions and requests affected.
func (s *Service) Sweep(ctx context.Context) (sessions, requests int) {
	swept, err := s.feedback.SweepExpired()
	if err != nil {
		s.logger.ErrorContext(ctx, "feedback sweep failed", "error", err)
	}

	expired, err := s.sessions.ExpireStale(time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
	}
	for _, id := range expired {
		if err := s.feedback.Cancel(id); err != nil {
			s.logger.WarnContext(ctx, "failed to cancel feedback for expired session",
				"session_id", id,
				"error", err)
		}
	}

	if swept > 0 || len(expired) > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"expired_sessions", len(expired),
			"timed_out_requests", swept)
	}
	return len(expired), swept
}

// keyedMutex serializes work per session ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
